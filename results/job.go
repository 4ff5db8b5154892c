package results

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Job is the canonical record of one generation request, keyed by its prompt id.
// Once stored with a terminal status it is never modified.
type Job struct {
	PromptID             string                 `json:"prompt_id"`
	Status               Status                 `json:"status"`
	Outputs              []Output               `json:"outputs"`
	ErrorMessage         string                 `json:"error_message,omitempty"`
	ExecutionTimeSeconds *float64               `json:"execution_time_seconds,omitempty"`
	Prompt               map[string]interface{} `json:"prompt,omitempty"`
}

func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusError
}

// Source is where an Output's bytes live: LocalBlob or RemoteRef.
type Source interface {
	isSource()
}

// LocalBlob is binary content produced in this process. Whoever displays it owns the
// transient URL created for it and must release it.
type LocalBlob struct {
	Data []byte
}

// RemoteRef points at a server-owned file.
type RemoteRef struct {
	URL string
}

func (LocalBlob) isSource() {}
func (RemoteRef) isSource() {}

// Output is one artifact produced by a job.
type Output struct {
	Name        string
	ContentType string
	Source      Source
}

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindText  Kind = "text"
	KindFile  Kind = "file"
)

// Kind decides how an output is presented. Photoshop documents are served as files.
func (o Output) Kind() Kind {
	return Classify(o.ContentType)
}

func Classify(contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/") && ct != "image/vnd.adobe.photoshop":
		return KindImage
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	case strings.HasPrefix(ct, "audio/"):
		return KindAudio
	case strings.HasPrefix(ct, "text/"):
		return KindText
	default:
		return KindFile
	}
}

const (
	sourceBlob   = "blob"
	sourceRemote = "remote"
)

type outputJSON struct {
	Name        string `json:"filename"`
	ContentType string `json:"content_type"`
	Source      string `json:"source"`
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

func (o Output) MarshalJSON() ([]byte, error) {
	out := outputJSON{Name: o.Name, ContentType: o.ContentType}
	switch s := o.Source.(type) {
	case LocalBlob:
		out.Source = sourceBlob
		out.Data = s.Data
	case RemoteRef:
		out.Source = sourceRemote
		out.URL = s.URL
	case nil:
	default:
		return nil, fmt.Errorf("output %q: unknown source %T", o.Name, s)
	}
	return json.Marshal(out)
}

func (o *Output) UnmarshalJSON(b []byte) error {
	var in outputJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	o.Name = in.Name
	o.ContentType = in.ContentType
	switch in.Source {
	case sourceBlob:
		o.Source = LocalBlob{Data: in.Data}
	case sourceRemote, "":
		o.Source = RemoteRef{URL: in.URL}
	default:
		return fmt.Errorf("output %q: unknown source %q", in.Name, in.Source)
	}
	return nil
}
