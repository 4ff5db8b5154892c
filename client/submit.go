package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/richinsley/viewcomfy/results"
)

// Submit posts a generation request to /api/comfy. A successful response carries the
// prompt id and, for synchronous runs, the produced files as in-memory outputs.
func (c *Client) Submit(ctx context.Context, sr *SubmitRequest) (*SubmitResult, error) {
	if sr == nil {
		return nil, errors.New("client: nil submit request")
	}

	// Create a buffer to store the request body
	var requestBody bytes.Buffer

	// Create a multipart writer to wrap the fields and files (like FormData)
	writer := multipart.NewWriter(&requestBody)

	viewComfy, err := json.Marshal(sr.ViewComfy)
	if err != nil {
		return nil, err
	}
	workflow := sr.Workflow
	if len(workflow) == 0 {
		workflow = json.RawMessage("null")
	}
	_ = writer.WriteField("workflow", string(workflow))
	_ = writer.WriteField("viewComfy", string(viewComfy))
	_ = writer.WriteField("viewcomfyEndpoint", sr.ViewComfyEndpoint)

	// Create a form-file for every file input and copy its data into it
	for _, f := range sr.Files {
		formFile, err := writer.CreateFormFile(f.Key, f.Filename)
		if err != nil {
			return nil, err
		}
		if _, err = io.Copy(formFile, f.Reader); err != nil {
			return nil, fmt.Errorf("client: read %s: %w", f.Filename, err)
		}
	}

	// Close the writer to finalize the body content
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/comfy", &requestBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.PromptID == "" {
		return nil, fmt.Errorf("client: submit: %w", results.ErrMissingPromptID)
	}

	retv := &SubmitResult{PromptID: resp.PromptID, Outputs: make([]results.Output, 0, len(resp.Outputs))}
	for _, o := range resp.Outputs {
		retv.Outputs = append(retv.Outputs, results.Output{
			Name:        o.Filename,
			ContentType: o.ContentType,
			Source:      results.LocalBlob{Data: o.Data},
		})
	}
	c.log.Debug().Str("prompt_id", retv.PromptID).Int("outputs", len(retv.Outputs)).Msg("workflow submitted")
	return retv, nil
}

// FileInputFromPath opens filePath for upload under key. The caller closes the file
// once the submission returns.
func FileInputFromPath(key, filePath string) (FileInput, *os.File, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return FileInput{}, nil, err
	}
	return FileInput{Key: key, Filename: filepath.Base(filePath), Reader: file}, file, nil
}
