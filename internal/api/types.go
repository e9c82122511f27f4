package api

import (
	"github.com/mattjoyce/vicebridge/internal/history"
	"github.com/mattjoyce/vicebridge/internal/protocol"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	// Code is the monitor's error code when it rejected the command.
	Code *protocol.ErrorCode `json:"code,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connected     bool   `json:"connected"`
	State         string `json:"state"`
	QueueDepth    int    `json:"queue_depth"`
	LastRequestID uint32 `json:"last_request_id"`
}

// MemoryResponse is returned by GET /memory. Data is hex encoded.
type MemoryResponse struct {
	Start    uint16            `json:"start"`
	End      uint16            `json:"end"`
	MemSpace protocol.MemSpace `json:"memspace"`
	Bank     uint16            `json:"bank"`
	Data     string            `json:"data"`
}

// MemorySetRequest is the body of PUT /memory. Start accepts decimal,
// 0x-prefixed or $-prefixed hex; Data is hex encoded.
type MemorySetRequest struct {
	Start       string            `json:"start"`
	MemSpace    protocol.MemSpace `json:"memspace"`
	Bank        uint16            `json:"bank"`
	SideEffects bool              `json:"side_effects"`
	Data        string            `json:"data"`
}

// RegistersSetRequest is the body of PUT /registers.
type RegistersSetRequest struct {
	MemSpace protocol.MemSpace        `json:"memspace"`
	Items    []protocol.RegisterValue `json:"items"`
}

// CheckpointRequest is the body of POST /checkpoints. Operations lists any
// of "load", "store", "exec"; empty means exec.
type CheckpointRequest struct {
	Start       string            `json:"start"`
	End         string            `json:"end,omitempty"`
	StopWhenHit *bool             `json:"stop_when_hit,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Operations  []string          `json:"operations,omitempty"`
	Temporary   bool              `json:"temporary"`
	MemSpace    protocol.MemSpace `json:"memspace"`
}

// ResetRequest is the body of POST /reset.
type ResetRequest struct {
	Mode protocol.ResetMode `json:"mode"`
}

// StepRequest is the body of POST /step.
type StepRequest struct {
	Count    uint16 `json:"count"`
	StepOver bool   `json:"step_over"`
}

// KeyboardRequest is the body of POST /keyboard.
type KeyboardRequest struct {
	Text string `json:"text"`
}

// DisplayResponse is returned by GET /display. Image holds one palette
// index per pixel, base64 encoded.
type DisplayResponse struct {
	*protocol.DisplayGetResponse
	Image []byte `json:"image"`
}

// HistoryEntry is one row of GET /history.
type HistoryEntry struct {
	history.Entry
	Message any    `json:"message,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

// CommandResponse wraps the decoded monitor reply for write endpoints.
type CommandResponse struct {
	Type     string            `json:"type"`
	Response protocol.Response `json:"response"`
}
