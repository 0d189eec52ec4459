package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
)

// Conn is a JSON-RPC connection to an ACP agent over a pair of streams,
// typically the agent subprocess's stdout and stdin.
//
// Every line read from the agent and every request sent to it is handed to
// the configured LineObserver, one at a time and in wire order, before the
// connection acts on it. A prompt request is therefore observed before its
// response can be.
type Conn struct {
	reader    *bufio.Reader
	writer    io.Writer
	pending   map[string]chan *rpcResult
	done      chan struct{}
	logger    *slog.Logger
	config    ConnConfig
	nextID    atomic.Int64
	mu        sync.Mutex // guards pending, running, closed
	observeMu sync.Mutex // serializes the observer
	writeMu   sync.Mutex
	running   bool
	closed    bool
}

// rpcResult holds the result of a JSON-RPC request.
type rpcResult struct {
	Error  error
	Result json.RawMessage
}

// NewConn creates a connection that reads agent output from r and writes
// requests to w. Call Run to start processing agent output.
func NewConn(r io.Reader, w io.Writer, opts ...ConnOption) *Conn {
	config := defaultConnConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Permission == nil {
		config.Permission = ReadOnlyPolicy{}
	}
	return &Conn{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		pending: make(map[string]chan *rpcResult),
		done:    make(chan struct{}),
		logger:  config.Logger,
		config:  config,
	}
}

// Run reads agent output until EOF, a read error, or ctx is done. Pending
// calls fail with ErrConnClosed once Run returns. EOF is not an error.
func (c *Conn) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.closed {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()
	defer c.shutdown()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := c.reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			c.handleLine(ctx, bytes.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &ProtocolError{Message: "failed to read agent output", Cause: err}
		}
	}
}

// Done is closed when the read loop has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	for id, ch := range c.pending {
		delete(c.pending, id)
		select {
		case ch <- &rpcResult{Error: ErrConnClosed}:
		default:
		}
	}
}

func (c *Conn) observe(line []byte) {
	if c.config.Observer != nil {
		c.config.Observer(line)
	}
}

// handleLine observes one line from the agent, then routes it.
func (c *Conn) handleLine(ctx context.Context, line []byte) {
	c.observeMu.Lock()
	c.observe(line)
	c.observeMu.Unlock()

	v, err := DecodeLine(line)
	if err != nil {
		c.logger.Debug("agent wrote non-JSON line", "error", err)
		return
	}
	msg, ok := Classify(v)
	if !ok {
		return
	}

	switch {
	case msg.IsResponse:
		c.handleResponse(msg)
	case msg.HasID:
		rawID, _ := json.Marshal(v.(map[string]any)["id"])
		c.handleAgentRequest(ctx, rawID, msg)
	}
}

// handleResponse routes a JSON-RPC response to its pending waiter.
func (c *Conn) handleResponse(msg *Message) {
	if !msg.HasID {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	result := &rpcResult{}
	if msg.HasError {
		ev := errorEvent(msg.Error)
		code, _ := strconv.Atoi(ev.Code)
		result.Error = &RPCError{Code: code, Message: ev.Message}
	} else if data, err := json.Marshal(msg.Result); err == nil {
		result.Result = data
	} else {
		result.Error = &ProtocolError{Message: "failed to re-encode result", Cause: err}
	}
	select {
	case ch <- result:
	default:
	}
}

// handleAgentRequest answers a request from the agent. Only permission
// requests are served; the bridge offers no file system or terminal.
func (c *Conn) handleAgentRequest(ctx context.Context, id json.RawMessage, msg *Message) {
	if msg.Method != MethodRequestPermission {
		c.answer(msg.Method, errorFrame(id, ErrCodeMethodNotFound, "unknown method: "+msg.Method))
		return
	}

	var req RequestPermissionRequest
	params, err := json.Marshal(msg.Params)
	if err == nil {
		err = json.Unmarshal(params, &req)
	}
	if err != nil {
		c.answer(msg.Method, errorFrame(id, ErrCodeInvalidParams, err.Error()))
		return
	}

	resp, err := c.config.Permission.RequestPermission(ctx, req)
	if err != nil {
		c.answer(msg.Method, errorFrame(id, ErrCodeInternalError, err.Error()))
		return
	}
	c.logger.Debug("answered permission request",
		"toolCallId", req.ToolCall.ToolCallID, "kind", req.ToolCall.Kind, "outcome", resp.Outcome.Outcome)
	out, err := responseFrame(id, resp)
	if err != nil {
		out = errorFrame(id, ErrCodeInternalError, err.Error())
	}
	c.answer(msg.Method, out)
}

// answer writes a reply to an agent request. The agent blocks until it
// gets one, so a failed write is worth a warning.
func (c *Conn) answer(method string, data []byte) {
	if err := c.writeLine(data); err != nil {
		c.logger.Warn("failed to answer agent request", "method", method, "error", err)
	}
}

func (c *Conn) writeLine(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(append(data, '\n')); err != nil {
		return &ProtocolError{Message: "failed to write to agent", Cause: err}
	}
	return nil
}

// Call sends a request and waits for its response.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	data, err := requestFrame(id, method, params)
	if err != nil {
		return nil, err
	}

	key := strconv.FormatInt(id, 10)
	ch := make(chan *rpcResult, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.pending[key] = ch
	c.mu.Unlock()

	c.observeMu.Lock()
	c.observe(data)
	err = c.writeLine(data)
	c.observeMu.Unlock()
	if err != nil {
		c.forget(key)
		return nil, err
	}

	select {
	case result := <-ch:
		if result.Error != nil {
			return nil, result.Error
		}
		return result.Result, nil
	case <-ctx.Done():
		c.forget(key)
		return nil, ctx.Err()
	}
}

func (c *Conn) forget(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(method string, params any) error {
	data, err := notificationFrame(method, params)
	if err != nil {
		return err
	}
	return c.writeLine(data)
}

// Initialize performs the ACP handshake.
func (c *Conn) Initialize(ctx context.Context) (*InitializeResponse, error) {
	params := InitializeRequest{
		ProtocolVersion: ProtocolVersion,
		ClientInfo: &Implementation{
			Name:    c.config.ClientName,
			Version: c.config.ClientVersion,
		},
		ClientCapabilities: &ClientCapabilities{
			Fs: &FsCapability{},
		},
	}
	raw, err := c.Call(ctx, MethodInitialize, params)
	if err != nil {
		return nil, err
	}
	var resp InitializeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Message: "failed to parse initialize response", Cause: err}
	}
	return &resp, nil
}

// NewSession creates a session rooted at cwd and returns its id.
func (c *Conn) NewSession(ctx context.Context, cwd string) (string, error) {
	raw, err := c.Call(ctx, MethodSessionNew, NewSessionRequest{CWD: cwd, McpServers: []any{}})
	if err != nil {
		return "", err
	}
	var resp NewSessionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &ProtocolError{Message: "failed to parse session/new response", Cause: err}
	}
	if resp.SessionID == "" {
		return "", &ProtocolError{Message: "session/new response has no sessionId"}
	}
	return resp.SessionID, nil
}

// Prompt sends a text prompt and waits for the turn to end. Streamed
// updates reach the observer while Prompt is blocked.
func (c *Conn) Prompt(ctx context.Context, sessionID, text string) (*PromptResponse, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	raw, err := c.Call(ctx, MethodSessionPrompt, PromptRequest{
		SessionID: sessionID,
		Prompt:    []ContentBlock{NewTextContent(text)},
	})
	if err != nil {
		return nil, err
	}
	var resp PromptResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &ProtocolError{Message: "failed to parse prompt response", Cause: err}
	}
	return &resp, nil
}

// Cancel asks the agent to stop the current prompt of sessionID.
func (c *Conn) Cancel(sessionID string) error {
	return c.Notify(MethodSessionCancel, CancelNotification{SessionID: sessionID})
}
