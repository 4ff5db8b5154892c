package client

import (
	"encoding/json"
	"io"

	"github.com/richinsley/viewcomfy/results"
)

// ViewComfyDocument is the view_comfy.json served by /api/playground.
type ViewComfyDocument struct {
	FileType    string          `json:"file_type,omitempty"`
	FileVersion string          `json:"file_version,omitempty"`
	Version     string          `json:"version,omitempty"`
	Workflows   []WorkflowEntry `json:"workflows"`
}

// WorkflowEntry pairs the form description of a workflow with its ComfyUI API graph.
type WorkflowEntry struct {
	ViewComfyJSON   ViewComfyJSON   `json:"viewComfyJSON"`
	WorkflowApiJSON json.RawMessage `json:"workflowApiJSON,omitempty"`
}

type ViewComfyJSON struct {
	ID                 string       `json:"id,omitempty"`
	Title              string       `json:"title"`
	Description        string       `json:"description,omitempty"`
	Inputs             []InputGroup `json:"inputs"`
	AdvancedInputs     []InputGroup `json:"advancedInputs"`
	TextOutputEnabled  bool         `json:"textOutputEnabled,omitempty"`
	ShowOutputFileName bool         `json:"showOutputFileName,omitempty"`
	ViewcomfyEndpoint  string       `json:"viewcomfyEndpoint,omitempty"`
}

type InputGroup struct {
	Title  string  `json:"title"`
	Inputs []Input `json:"inputs"`
}

type Input struct {
	Key        string      `json:"key"`
	Title      string      `json:"title,omitempty"`
	ValueType  string      `json:"valueType,omitempty"`
	Value      interface{} `json:"value"`
	Visibility string      `json:"visibility,omitempty"`
}

/*
{"viewComfyJSON": {"file_type": "view_comfy", "file_version": "1.0.0", "version": "0.0.1", "workflows": [
  {"viewComfyJSON": {"title": "txt2img", "inputs": [{"title": "Prompt", "inputs": [{"key": "6-inputs-text", "value": "a cat"}]}],
   "advancedInputs": [{"title": "KSampler", "inputs": [{"key": "3-inputs-seed", "value": 5e-324}]}]},
   "workflowApiJSON": {"3": {"class_type": "KSampler", "inputs": {...}}}}]}}
*/

// GenerationData is the viewComfy field of a submission.
type GenerationData struct {
	Inputs            []InputValue `json:"inputs"`
	TextOutputEnabled bool         `json:"textOutputEnabled"`
}

type InputValue struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// FileInput is an input whose value is uploaded as a form file under Key.
type FileInput struct {
	Key      string
	Filename string
	Reader   io.Reader
}

type SubmitRequest struct {
	Workflow          json.RawMessage
	ViewComfy         GenerationData
	ViewComfyEndpoint string
	Files             []FileInput
}

type SubmitResult struct {
	PromptID string
	Outputs  []results.Output
}

type submittedFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type submitResponse struct {
	PromptID string          `json:"promptId"`
	Outputs  []submittedFile `json:"outputs"`
}

/*
{"promptId": "ed986d60-2a27-4d28-8871-2fdb36582902", "outputs": [{"filename": "ComfyUI_00046_.png", "content_type": "image/png", "data": "iVBORw0KGgo..."}]}
*/
