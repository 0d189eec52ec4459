package acp

import (
	"encoding/json"
	"strconv"
)

// Methods of the ACP subset the bridge speaks.
const (
	MethodInitialize        = "initialize"
	MethodSessionNew        = "session/new"
	MethodSessionPrompt     = "session/prompt"
	MethodSessionCancel     = "session/cancel"
	MethodSessionUpdate     = "session/update"
	MethodRequestPermission = "session/request_permission"
)

// Session update kinds, carried in the "sessionUpdate" discriminator.
const (
	UpdateAgentMessage      = "agent_message_chunk"
	UpdateAgentThought      = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdateUsage             = "usage_update"
	UpdateAvailableCommands = "available_commands_update"
	UpdateCurrentMode       = "current_mode_update"
	UpdateConfigOption      = "config_option_update"
	UpdateSessionInfo       = "session_info_update"
	UpdatePlan              = "plan"
)

// JSON-RPC error codes used when answering agent requests.
const (
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// frame is one outgoing JSON-RPC 2.0 message. Requests carry ID and Method,
// notifications only Method, responses ID and either Result or Error.
type frame struct {
	Error   *frameError     `json:"error,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type frameError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func encodeFrame(f frame, payload any, into *json.RawMessage) ([]byte, error) {
	f.JSONRPC = "2.0"
	if into != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		*into = data
	}
	return json.Marshal(f)
}

func requestFrame(id int64, method string, params any) ([]byte, error) {
	f := frame{ID: json.RawMessage(strconv.FormatInt(id, 10)), Method: method}
	return encodeFrame(f, params, &f.Params)
}

func notificationFrame(method string, params any) ([]byte, error) {
	f := frame{Method: method}
	return encodeFrame(f, params, &f.Params)
}

// responseFrame answers the agent request with the given raw id.
func responseFrame(id json.RawMessage, result any) ([]byte, error) {
	f := frame{ID: id}
	return encodeFrame(f, result, &f.Result)
}

func errorFrame(id json.RawMessage, code int, message string) []byte {
	data, _ := encodeFrame(frame{ID: id, Error: &frameError{Code: code, Message: message}}, nil, nil)
	return data
}
