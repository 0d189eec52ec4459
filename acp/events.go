package acp

import "encoding/json"

// EventType discriminates between runtime event kinds.
type EventType int

const (
	// EventTypeTextDelta fires for streamed output or thought text.
	EventTypeTextDelta EventType = iota + 1

	// EventTypeToolCall fires for tool call starts and status changes.
	EventTypeToolCall

	// EventTypeStatus fires for informational session updates and for
	// lines that could not be decoded.
	EventTypeStatus

	// EventTypeDone fires when the in-flight prompt completes.
	EventTypeDone

	// EventTypeError fires when the in-flight prompt fails.
	EventTypeError
)

func (t EventType) String() string {
	switch t {
	case EventTypeTextDelta:
		return "text_delta"
	case EventTypeToolCall:
		return "tool_call"
	case EventTypeStatus:
		return "status"
	case EventTypeDone:
		return "done"
	case EventTypeError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Stream identifies which agent channel a text delta belongs to.
type Stream string

const (
	StreamOutput  Stream = "output"
	StreamThought Stream = "thought"
)

// Event is the closed set of runtime events produced by a Projector.
// The unexported marker method keeps the set closed to this package, so
// consumers can type-switch exhaustively over the five concrete types.
type Event interface {
	Type() EventType
	runtimeEvent()
}

// TextDeltaEvent carries a fragment of agent text. Text is never trimmed.
type TextDeltaEvent struct {
	Text   string `json:"text"`
	Stream Stream `json:"stream"`
	Tag    string `json:"tag,omitempty"`
}

// ToolCallEvent reports a tool call or a change in its status.
type ToolCallEvent struct {
	Text       string `json:"text"`
	Tag        string `json:"tag,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Status     string `json:"status,omitempty"`
	Title      string `json:"title"`
}

// StatusEvent carries a one-line informational update. Used and Size are
// set only for usage updates.
type StatusEvent struct {
	Used *int64 `json:"used,omitempty"`
	Size *int64 `json:"size,omitempty"`
	Text string `json:"text"`
	Tag  string `json:"tag,omitempty"`
}

// DoneEvent ends a turn successfully.
type DoneEvent struct {
	StopReason string `json:"stopReason"`
}

// ErrorEvent ends a turn with an agent error. Code is the stringified
// numeric JSON-RPC error code, or empty.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (TextDeltaEvent) Type() EventType { return EventTypeTextDelta }
func (ToolCallEvent) Type() EventType  { return EventTypeToolCall }
func (StatusEvent) Type() EventType    { return EventTypeStatus }
func (DoneEvent) Type() EventType      { return EventTypeDone }
func (ErrorEvent) Type() EventType     { return EventTypeError }

func (TextDeltaEvent) runtimeEvent() {}
func (ToolCallEvent) runtimeEvent()  {}
func (StatusEvent) runtimeEvent()    {}
func (DoneEvent) runtimeEvent()      {}
func (ErrorEvent) runtimeEvent()     {}

// MarshalEvent encodes e as a JSON object with a "type" discriminator
// alongside the event's own fields.
func MarshalEvent(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typ, err := json.Marshal(e.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}
