package acp

import (
	"encoding/json"
	"fmt"
)

// ControlError is the error shape reported by the bridge's control surface.
// Fields are carried over verbatim from the upstream payload.
type ControlError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *ControlError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("%s: %s (retryable)", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// controlEnvelope mirrors {"error":{"code":...,"message":...,"retryable":...}}.
// Code is kept raw so numeric and string codes both survive.
type controlEnvelope struct {
	Error *struct {
		Retryable *bool           `json:"retryable"`
		Code      json.RawMessage `json:"code"`
		Message   string          `json:"message"`
	} `json:"error"`
}

// ParseControlError extracts a ControlError from a control-surface payload.
// It reports false when data is not JSON or carries no error object.
// A missing retryable flag maps to false.
func ParseControlError(data []byte) (*ControlError, bool) {
	var env controlEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Error == nil {
		return nil, false
	}
	ce := &ControlError{
		Code:    rawScalar(env.Error.Code),
		Message: env.Error.Message,
	}
	if env.Error.Retryable != nil {
		ce.Retryable = *env.Error.Retryable
	}
	return ce, true
}

func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}
