package session

import (
	"encoding/json"
	"errors"

	"github.com/richinsley/viewcomfy/results"
)

// Event names carried on the wire.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
	EventError        = "error"
	EventResult       = "infer_result_message"
	EventErrorMessage = "infer_error_message"
)

var errNoEvent = errors.New("frame has no event name")

// Frame is one named message: {"event": "...", "data": ...}.
type Frame struct {
	Event string
	Data  interface{}
}

func (f *Frame) UnmarshalJSON(b []byte) error {
	// decode into an anonymous type to avoid infinite recursion
	var temp struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	if temp.Event == "" {
		return errNoEvent
	}
	f.Event = temp.Event

	switch f.Event {
	case EventResult:
		f.Data = &results.ResultRecord{}
	case EventErrorMessage:
		f.Data = &results.ErrorRecord{}
	case EventDisconnect:
		f.Data = &DisconnectData{}
	default:
		// connect, connect_error, error and unknown events keep their raw payload
		f.Data = temp.Data
		return nil
	}

	if len(temp.Data) == 0 || string(temp.Data) == "null" {
		return nil
	}
	return json.Unmarshal(temp.Data, f.Data)
}

type DisconnectData struct {
	Reason  string      `json:"reason"`
	Details interface{} `json:"details,omitempty"`
}

/*
{"event": "disconnect", "data": {"reason": "io server disconnect"}}
*/

// Auth is the handshake payload, refreshed on every reconnect attempt.
type Auth struct {
	Authorization string `json:"authorization"`
}

type handshakeFrame struct {
	Event string `json:"event"`
	Data  Auth   `json:"data"`
}

/*
client: {"event": "connect", "data": {"authorization": "eyJhbGciOi..."}}
server: {"event": "connect"}  or  {"event": "connect_error", "data": "invalid token"}
*/
