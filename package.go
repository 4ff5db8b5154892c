// Viewcomfy is the session and state core of a ComfyUI generation front end. It submits
// view_comfy workflows, keeps an authenticated realtime connection to the result-delivery
// server, and turns the asynchronous results it relays into a per-job state that a UI can
// render: pending, completed or errored, with every output resolved to a displayable URL.
package viewcomfy
