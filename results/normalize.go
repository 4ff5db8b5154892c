package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
)

var ErrMissingPromptID = errors.New("missing prompt_id")

// ValidationError is returned for wire records that cannot become a Job.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// fileMarker is the key that marks an output entry as a file artifact.
const fileMarker = "filepath"

// Normalize converts an infer_result_message payload into a Job. Only output entries
// carrying a filepath become Outputs; inline text and metadata entries are dropped.
func Normalize(rec *ResultRecord) (*Job, error) {
	if rec == nil {
		return nil, &ValidationError{Field: "prompt_id", Err: ErrMissingPromptID}
	}
	id := strings.TrimSpace(rec.PromptID)
	if id == "" {
		return nil, &ValidationError{Field: "prompt_id", Err: ErrMissingPromptID}
	}

	job := &Job{
		PromptID:             id,
		Status:               StatusCompleted,
		Outputs:              make([]Output, 0, len(rec.Outputs)),
		ExecutionTimeSeconds: rec.ExecutionTimeSeconds,
	}
	if strings.EqualFold(strings.TrimSpace(rec.Status), string(StatusError)) {
		job.Status = StatusError
		job.ErrorMessage = rawText(rec.ErrorData)
	}

	for _, entry := range rec.Outputs {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if out, ok := fileOutput(m); ok {
			job.Outputs = append(job.Outputs, out)
		}
	}

	// the prompt always carries the message's id, never a nested one
	job.Prompt = make(map[string]interface{}, len(rec.Prompt)+1)
	for k, v := range rec.Prompt {
		job.Prompt[k] = v
	}
	job.Prompt["promptId"] = id
	return job, nil
}

func fileOutput(m map[string]interface{}) (Output, bool) {
	raw, ok := m[fileMarker]
	if !ok {
		return Output{}, false
	}
	location, ok := raw.(string)
	if !ok || location == "" {
		return Output{}, false
	}

	name, _ := m["filename"].(string)
	if name == "" {
		name = baseName(location)
	}
	contentType, _ := m["content_type"].(string)
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}
	return Output{
		Name:        name,
		ContentType: contentType,
		Source:      RemoteRef{URL: location},
	}, true
}

func baseName(location string) string {
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(location)
}

// FromSubmission builds the Job for a submission that returned its outputs directly.
func FromSubmission(promptID string, outputs []Output) (*Job, error) {
	id := strings.TrimSpace(promptID)
	if id == "" {
		return nil, &ValidationError{Field: "promptId", Err: ErrMissingPromptID}
	}
	if outputs == nil {
		outputs = []Output{}
	}
	return &Job{
		PromptID: id,
		Status:   StatusCompleted,
		Outputs:  outputs,
		Prompt:   map[string]interface{}{"promptId": id},
	}, nil
}

// FromErrorRecord builds an error Job from an infer_error_message payload.
func FromErrorRecord(rec *ErrorRecord) (*Job, error) {
	if rec == nil || strings.TrimSpace(rec.PromptID) == "" {
		return nil, &ValidationError{Field: "prompt_id", Err: ErrMissingPromptID}
	}
	id := strings.TrimSpace(rec.PromptID)
	return &Job{
		PromptID:     id,
		Status:       StatusError,
		Outputs:      []Output{},
		ErrorMessage: rawText(rec.Data),
		Prompt:       map[string]interface{}{"promptId": id},
	}, nil
}

// rawText unquotes JSON strings and compacts anything else.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
