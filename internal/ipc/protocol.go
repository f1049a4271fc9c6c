// Package ipc carries newline-delimited JSON requests between the CLI and the
// daemon over a per-user unix socket.
package ipc

import "encoding/json"

// Commands understood by the daemon.
const (
	CommandStatus   = "status"
	CommandSOS      = "sos"
	CommandCancel   = "cancel"
	CommandKeyword  = "keyword"
	CommandMonitor  = "monitor"
	CommandContacts = "contacts"
)

// Request is one CLI call. Arg carries the optional positional argument
// (keyword text, "on"/"off").
type Request struct {
	Command string `json:"command"`
	Arg     string `json:"arg,omitempty"`
}

// Response answers a Request. Data holds command-specific JSON.
type Response struct {
	OK      bool            `json:"ok"`
	Phase   string          `json:"phase,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Failure builds an error response.
func Failure(err error) Response {
	return Response{OK: false, Error: err.Error()}
}
