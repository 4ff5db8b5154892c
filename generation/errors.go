package generation

import (
	"errors"
	"net/http"

	"github.com/richinsley/viewcomfy/client"
	"github.com/richinsley/viewcomfy/results"
)

// DefaultJobError describes a failed job that carried no message of its own.
const DefaultJobError = "Something went wrong running your workflow"

// Dialog is what the user sees for any failure: a title and a description.
type Dialog struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DialogError is a submission failure already mapped to its Dialog.
type DialogError struct {
	Dialog Dialog
	Err    error
}

func (e *DialogError) Error() string {
	return e.Dialog.Title + ": " + e.Dialog.Description
}

func (e *DialogError) Unwrap() error { return e.Err }

var errorTitles = map[string]string{
	"COMFY_UI_ERROR":     "ComfyUI Error",
	"VIEW_COMFY_ERROR":   "ViewComfy Error",
	"UNAUTHORIZED":       "Unauthorized",
	"VALIDATION_ERROR":   "Invalid Input",
	"RATE_LIMIT_ERROR":   "Too Many Requests",
	"PAYMENT_REQUIRED":   "Insufficient Credits",
	"INTERNAL_ERROR":     "Server Error",
	"WORKFLOW_NOT_FOUND": "Workflow Not Found",
}

// DialogFor maps an error to the dialog shown for it.
func DialogFor(err error) Dialog {
	if err == nil {
		return Dialog{Title: "Error", Description: DefaultJobError}
	}
	var derr *DialogError
	if errors.As(err, &derr) {
		return derr.Dialog
	}
	var rerr *client.ResponseError
	if errors.As(err, &rerr) {
		return responseDialog(rerr)
	}
	return Dialog{Title: "Error", Description: err.Error()}
}

func responseDialog(rerr *client.ResponseError) Dialog {
	title, ok := errorTitles[rerr.ErrorType]
	switch {
	case ok:
	case rerr.Status == http.StatusUnauthorized || rerr.Status == http.StatusForbidden:
		title = "Unauthorized"
	default:
		title = "Error"
	}

	description := rerr.Message
	if perr, ok := rerr.PromptError(); ok {
		description = perr.Error.Message
		if perr.Error.Details != "" {
			description += ": " + perr.Error.Details
		}
	}
	if description == "" {
		description = DefaultJobError
	}
	return Dialog{Title: title, Description: description}
}

// JobDialog is the dialog for a job that finished in the error state.
func JobDialog(job *results.Job) Dialog {
	if job == nil || job.ErrorMessage == "" {
		return Dialog{Title: "Error", Description: DefaultJobError}
	}
	return Dialog{Title: "Error", Description: job.ErrorMessage}
}
