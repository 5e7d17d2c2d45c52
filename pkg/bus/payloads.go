package bus

import "encoding/json"

// Typed payloads exchanged between the scheduler and agent runners.
// Payloads travel JSON-encoded in Message.Payload.

// AssignmentPayload rides a task_assignment message
type AssignmentPayload struct {
	TaskID      string   `json:"task_id"`
	SwarmID     string   `json:"swarm_id"`
	Description string   `json:"description"`
	Strategy    string   `json:"strategy"`
	TimeoutMs   int64    `json:"timeout_ms"`
	Agents      []string `json:"agents,omitempty"`
}

// ProgressPayload rides a progress_update message. Terminal is set on the
// final message for a task; Progress regressions are ignored downstream.
type ProgressPayload struct {
	TaskID   string  `json:"task_id"`
	AgentID  string  `json:"agent_id"`
	Progress float64 `json:"progress"`
	Terminal bool    `json:"terminal"`
	Success  bool    `json:"success,omitempty"`
	Result   []byte  `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// CancelPayload rides a cancel message
type CancelPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

// CancelAckPayload acknowledges a cancel within the grace period
type CancelAckPayload struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

// Encode marshals a payload, panicking only on unmarshalable inputs,
// which would be a programming error.
func Encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode unmarshals a payload into v
func Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
