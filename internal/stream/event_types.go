package stream

import "encoding/json"

// Event is a classified stream event. The unexported marker keeps the set
// of variants closed to this package.
type Event interface {
	event()
}

// MessageChunk carries assistant text. Final marks the end of the exchange.
type MessageChunk struct {
	Text  string
	Final bool
}

// ToolCallNotice reports a server-proposed action awaiting human approval.
type ToolCallNotice struct {
	OperationID string
	Status      OperationStatus
	Message     string
}

// InformationNotice is a non-chat status message (e.g. context compression).
type InformationNotice struct {
	Content string
	Final   bool
}

// AgentSwitch is synthesized from the server's inline switch directive.
type AgentSwitch struct {
	AgentID string
}

// Unparseable wraps a frame whose payload could not be classified.
type Unparseable struct {
	Raw string
	Err error
}

func (MessageChunk) event()      {}
func (ToolCallNotice) event()    {}
func (InformationNotice) event() {}
func (AgentSwitch) event()       {}
func (Unparseable) event()       {}

var (
	_ Event = MessageChunk{}
	_ Event = ToolCallNotice{}
	_ Event = InformationNotice{}
	_ Event = AgentSwitch{}
	_ Event = Unparseable{}
)

// OperationStatus is the lifecycle state of a tool call.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusCompleted OperationStatus = "completed"
	StatusCancelled OperationStatus = "cancelled"
)

// IsTerminal reports whether the operation no longer accepts a decision.
func (s OperationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseOperationStatus maps a wire status; unknown or missing values are pending.
func ParseOperationStatus(s string) OperationStatus {
	switch s {
	case "completed":
		return StatusCompleted
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusPending
	}
}

// Kind names an event variant for logs and archive rows.
func Kind(ev Event) string {
	switch ev.(type) {
	case MessageChunk:
		return "message_chunk"
	case ToolCallNotice:
		return "tool_call"
	case InformationNotice:
		return "information"
	case AgentSwitch:
		return "agent_switch"
	case Unparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// payload is the union of every record shape the server writes after `data: `.
type payload struct {
	Kind         string          `json:"kind"`          // "tool_call"
	OperationID  string          `json:"operation_id"`
	Status       string          `json:"status"`        // "pending" | "completed" | "cancelled"
	Role         string          `json:"role"`          // "information"
	Content      string          `json:"content"`
	Message      json.RawMessage `json:"message"`       // presence is significant
	FinishReason string          `json:"finish_reason"` // "stop"
}
