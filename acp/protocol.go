package acp

// ACP protocol version supported by this package.
const ProtocolVersion = 1

// InitializeRequest is sent by the client to establish the connection.
type InitializeRequest struct {
	ClientCapabilities *ClientCapabilities `json:"clientCapabilities,omitempty"`
	ClientInfo         *Implementation     `json:"clientInfo,omitempty"`
	ProtocolVersion    int                 `json:"protocolVersion"`
}

// InitializeResponse is returned by the agent with its capabilities.
type InitializeResponse struct {
	AgentInfo       *Implementation `json:"agentInfo,omitempty"`
	ProtocolVersion int             `json:"protocolVersion"`
}

// Implementation identifies a client or agent.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ClientCapabilities advertises what the client supports. The bridge
// offers neither file system nor terminal access to the agent.
type ClientCapabilities struct {
	Fs       *FsCapability `json:"fs,omitempty"`
	Terminal bool          `json:"terminal"`
}

// FsCapability describes file system capabilities.
type FsCapability struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// NewSessionRequest creates a new conversation session.
type NewSessionRequest struct {
	CWD        string `json:"cwd"`
	McpServers []any  `json:"mcpServers"`
}

// NewSessionResponse returns the created session info.
type NewSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// PromptRequest sends a user prompt to the agent.
type PromptRequest struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// PromptResponse indicates the prompt turn has completed.
type PromptResponse struct {
	StopReason string `json:"stopReason"` // "end_turn", "cancelled", "max_tokens", "refusal"
}

// ContentBlock is a text content block. Other block types are not sent by
// the bridge.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewTextContent creates a text content block.
func NewTextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// CancelNotification is sent by the client to cancel a prompt.
type CancelNotification struct {
	SessionID string `json:"sessionId"`
}

// RequestPermissionRequest is sent by the agent to request tool permission.
type RequestPermissionRequest struct {
	ToolCall  ToolCallInfo       `json:"toolCall"`
	SessionID string             `json:"sessionId"`
	Options   []PermissionOption `json:"options"`
}

// ToolCallInfo describes the tool call requiring permission.
type ToolCallInfo struct {
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title,omitempty"`
	Kind       string `json:"kind,omitempty"` // "read", "edit", "execute", ...
}

// PermissionOption describes a permission choice.
type PermissionOption struct {
	ID   string `json:"optionId"`
	Name string `json:"name"`
	Kind string `json:"kind"` // "allow_once", "allow_always", "reject_once", "reject_always"
}

// RequestPermissionResponse returns the chosen permission outcome.
type RequestPermissionResponse struct {
	Outcome PermissionOutcome `json:"outcome"`
}

// PermissionOutcome is the result of a permission request.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"` // "cancelled", "selected"
	OptionID string `json:"optionId,omitempty"`
}
