// Package diag renders a point-in-time JSON snapshot of a pipe/chat/ppp
// handle's internals, using jsoniter the same way the host codebase
// marshals its own diagnostic types.
package diag

import jsoniter "github.com/json-iterator/go"

// PipeSnapshot describes a pipe.Pipe's externally-visible state.
type PipeSnapshot struct {
	State string `json:"state"`
}

// ChatSnapshot describes a chat.Chat's externally-visible state.
type ChatSnapshot struct {
	Running     bool   `json:"running"`
	ScriptName  string `json:"script_name,omitempty"`
	StepIndex   int    `json:"step_index,omitempty"`
	CorrID      string `json:"corr_id,omitempty"`
}

// PPPSnapshot describes a ppp.Framer's externally-visible state.
type PPPSnapshot struct {
	Attached     bool `json:"attached"`
	TxQueueDepth int  `json:"tx_queue_depth"`
	TxInFlight   bool `json:"tx_in_flight"`
	RxInFlight   bool `json:"rx_in_flight"`
}

// Marshal renders any snapshot value as compact JSON.
func Marshal(v any) ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
}
