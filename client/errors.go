package client

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ResponseError is the structured failure returned by the ViewComfy API.
type ResponseError struct {
	Status       int         `json:"-"`
	ErrorType    string      `json:"errorType"`
	Message      string      `json:"message"`
	ErrorDetails interface{} `json:"errorDetails,omitempty"`
}

/*
{"errorType": "COMFY_UI_ERROR", "message": "Prompt outputs failed validation", "errorDetails": "..."}
*/

func (e *ResponseError) Error() string {
	if e.ErrorType == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.ErrorType, e.Message)
}

// responseError decodes the body of a failed response. A body that is not a
// ResponseError still yields one, carrying the status text.
func responseError(resp *http.Response, body []byte) *ResponseError {
	rerr := &ResponseError{}
	if err := json.Unmarshal(body, rerr); err != nil || (rerr.ErrorType == "" && rerr.Message == "") {
		rerr = &ResponseError{Message: resp.Status}
		if len(body) > 0 && len(body) < 512 {
			rerr.ErrorDetails = string(body)
		}
	}
	rerr.Status = resp.StatusCode
	return rerr
}

// PromptError is the error ComfyUI itself reports for a rejected prompt.
type PromptError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

type PromptErrorMessage struct {
	Error      PromptError   `json:"error"`
	NodeErrors []interface{} `json:"node_errors"`
}

// PromptError extracts a ComfyUI prompt rejection carried in ErrorDetails.
func (e *ResponseError) PromptError() (*PromptErrorMessage, bool) {
	if e.ErrorDetails == nil {
		return nil, false
	}
	var data []byte
	if s, ok := e.ErrorDetails.(string); ok {
		data = []byte(s)
	} else {
		var err error
		if data, err = json.Marshal(e.ErrorDetails); err != nil {
			return nil, false
		}
	}
	perror := &PromptErrorMessage{}
	if err := json.Unmarshal(data, perror); err != nil || perror.Error.Message == "" {
		return nil, false
	}
	return perror, true
}
