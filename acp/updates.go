package acp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// projectUpdate turns the params of a session/update notification into an
// event. Unknown kinds and updates without usable text yield nil.
func projectUpdate(params map[string]any) Event {
	update, _ := params["update"].(map[string]any)
	if update == nil {
		return nil
	}
	kind := stringField(update, "sessionUpdate")

	switch kind {
	case UpdateAgentMessage:
		return textDelta(update, StreamOutput, kind)
	case UpdateAgentThought:
		return textDelta(update, StreamThought, kind)
	case UpdateToolCall, UpdateToolCallUpdate:
		return toolCall(update, kind)
	case UpdateUsage:
		return usageStatus(update, kind)
	case UpdateAvailableCommands:
		commands, _ := update["availableCommands"].([]any)
		return StatusEvent{Text: fmt.Sprintf("available commands updated (%d)", len(commands)), Tag: kind}
	case UpdateCurrentMode:
		if mode := firstString(update, "currentModeId", "modeId"); mode != "" {
			return StatusEvent{Text: "mode updated: " + mode, Tag: kind}
		}
		return StatusEvent{Text: "mode updated", Tag: kind}
	case UpdateConfigOption:
		return configStatus(update, kind)
	case UpdateSessionInfo:
		if text := firstString(update, "summary", "message", "title"); text != "" {
			return StatusEvent{Text: text, Tag: kind}
		}
		return StatusEvent{Text: "session updated", Tag: kind}
	case UpdatePlan:
		return planStatus(update, kind)
	default:
		return nil
	}
}

func textDelta(update map[string]any, stream Stream, tag string) Event {
	text := extractText(update)
	if text == "" {
		return nil
	}
	return TextDeltaEvent{Text: text, Stream: stream, Tag: tag}
}

// extractText returns the text of a message or thought chunk. Content must
// be a text block (or untyped); otherwise the update's own text field is
// used. Whitespace is preserved.
func extractText(update map[string]any) string {
	switch content := update["content"].(type) {
	case map[string]any:
		typ, typed := content["type"]
		if !typed || typ == "text" {
			if text, _ := content["text"].(string); text != "" {
				return text
			}
		}
	case string:
		if content != "" {
			return content
		}
	}
	text, _ := update["text"].(string)
	return text
}

func toolCall(update map[string]any, tag string) Event {
	title := firstString(update, "title", "toolName", "kind")
	if title == "" {
		title = "tool"
	}
	status := stringField(update, "status")
	text := title
	if status != "" {
		text = title + " (" + status + ")"
	}
	return ToolCallEvent{
		Text:       text,
		Tag:        tag,
		ToolCallID: stringField(update, "toolCallId"),
		Status:     status,
		Title:      title,
	}
}

func usageStatus(update map[string]any, tag string) Event {
	used, hasUsed := intField(update, "used")
	size, hasSize := intField(update, "size")

	ev := StatusEvent{Tag: tag}
	switch {
	case hasUsed && hasSize:
		ev.Text = fmt.Sprintf("usage: %d/%d tokens", used, size)
	case hasUsed:
		ev.Text = fmt.Sprintf("usage: %d tokens", used)
	default:
		ev.Text = "usage updated"
	}
	if hasUsed {
		ev.Used = &used
	}
	if hasSize {
		ev.Size = &size
	}
	return ev
}

func configStatus(update map[string]any, tag string) Event {
	source := update
	if nested, ok := update["configOption"].(map[string]any); ok {
		source = nested
	}
	id := firstString(source, "configId", "id", "optionId")
	value := scalarString(source["value"])
	if value == "" {
		value = scalarString(source["currentValue"])
	}

	text := "config updated"
	switch {
	case id != "" && value != "":
		text += ": " + id + "=" + value
	case id != "":
		text += ": " + id
	case value != "":
		text += ": " + value
	}
	return StatusEvent{Text: text, Tag: tag}
}

func planStatus(update map[string]any, tag string) Event {
	entries, _ := update["entries"].([]any)
	for _, raw := range entries {
		entry, _ := raw.(map[string]any)
		content := stringField(entry, "content")
		if content == "" {
			continue
		}
		if status := stringField(entry, "status"); status != "" {
			return StatusEvent{Text: "plan: [" + status + "] " + content, Tag: tag}
		}
		return StatusEvent{Text: "plan: " + content, Tag: tag}
	}
	return StatusEvent{Text: "plan updated", Tag: tag}
}

// errorEvent builds the event for an error response. The error value may
// be a JSON-RPC error object or, from looser agents, a bare string.
func errorEvent(errVal any) ErrorEvent {
	ev := ErrorEvent{Message: "agent error"}
	switch e := errVal.(type) {
	case map[string]any:
		if msg := stringField(e, "message"); msg != "" {
			ev.Message = msg
		}
		if code, ok := e["code"].(json.Number); ok {
			ev.Code = code.String()
		} else if code, ok := e["code"].(float64); ok {
			ev.Code = strconv.FormatFloat(code, 'f', -1, 64)
		}
	case string:
		if e != "" {
			ev.Message = e
		}
	}
	return ev
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}

func intField(m map[string]any, key string) (int64, bool) {
	switch n := m[key].(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	}
	return 0, false
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}
