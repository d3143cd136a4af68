package ipc

import "encoding/json"

type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	// Data carries a command-specific JSON payload such as a session listing.
	Data json.RawMessage `json:"data,omitempty"`
}
