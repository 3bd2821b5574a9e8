// Package protocol defines the JSON messages exchanged with control panel
// clients over the WebSocket connection.
package protocol

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeStep is sent when a step is appended or its delay changes
	TypeStep MessageType = "step"

	// TypeSteps is sent with the full step table after a reset
	TypeSteps MessageType = "steps"

	// TypeStatus carries the status line
	TypeStatus MessageType = "status"

	// TypePhase is sent when recording or playback starts or ends
	TypePhase MessageType = "phase"

	// TypeToggleKey is sent when the play toggle key changes
	TypeToggleKey MessageType = "toggle_key"

	// TypeCommand is sent by a client to run a session command
	TypeCommand MessageType = "command"

	// TypeSyncRequest is sent by client to request the full state
	TypeSyncRequest MessageType = "sync_req"

	// TypeSyncResponse is sent by server with the full state
	TypeSyncResponse MessageType = "sync_resp"

	// TypeError reports a rejected command to the client that sent it
	TypeError MessageType = "error"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StepPayload is one row of the step table
type StepPayload struct {
	Index   int    `json:"index"`
	Key     string `json:"key"`
	DelayMs int    `json:"delay_ms"`
}

// StepsPayload is the payload for TypeSteps
type StepsPayload struct {
	Steps []StepPayload `json:"steps"`
}

// StatusPayload is the payload for TypeStatus and TypeError
type StatusPayload struct {
	Text string `json:"text"`
}

// PhasePayload is the payload for TypePhase
type PhasePayload struct {
	Phase string `json:"phase"` // "idle", "recording" or "playing"
}

// ToggleKeyPayload is the payload for TypeToggleKey
type ToggleKeyPayload struct {
	Key string `json:"key"`
}

// CommandPayload is the payload for TypeCommand
type CommandPayload struct {
	Command string `json:"command"` // record, play, stop, toggle, clear, capture
}
