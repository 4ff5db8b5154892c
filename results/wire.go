package results

import "encoding/json"

// ResultRecord is the payload of an infer_result_message event.
type ResultRecord struct {
	PromptID             string                 `json:"prompt_id"`
	Completed            bool                   `json:"completed"`
	Status               string                 `json:"status"`
	ExecutionTimeSeconds *float64               `json:"execution_time_seconds,omitempty"`
	Outputs              []interface{}          `json:"outputs,omitempty"`
	ErrorData            json.RawMessage        `json:"error_data,omitempty"`
	Prompt               map[string]interface{} `json:"prompt,omitempty"`
}

/*
{"event": "infer_result_message", "data": {"prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902", "completed": true, "status": "completed",
 "execution_time_seconds": 12.4, "outputs": [{"filename": "ComfyUI_00046_.png", "filepath": "https://cdn.example/ComfyUI_00046_.png",
 "content_type": "image/png"}, "a caption"], "prompt": {...}}}
*/

// ErrorRecord is the payload of an infer_error_message event.
type ErrorRecord struct {
	Data     json.RawMessage `json:"data"`
	PromptID string          `json:"prompt_id"`
}

/*
{"event": "infer_error_message", "data": {"data": "CUDA out of memory", "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/
