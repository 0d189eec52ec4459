package acp

import (
	"bytes"
	"io"
	"log/slog"
)

// Projector turns protocol lines into runtime events for the prompt that is
// currently in flight. It tracks outstanding prompt request ids so that
// completions and failures of unrelated requests are ignored.
//
// Session updates are projected whether or not a prompt is in flight:
// agents announce commands and modes right after session creation, and
// captured logs often contain only the agent's side of the conversation.
//
// A Projector is not safe for concurrent use.
type Projector struct {
	prompts *PromptSet
	logger  *slog.Logger
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*projectorConfig)

type projectorConfig struct {
	logger     *slog.Logger
	maxPending int
}

// WithLogger sets the logger used for debug traces of ignored traffic.
func WithLogger(l *slog.Logger) ProjectorOption {
	return func(c *projectorConfig) { c.logger = l }
}

// WithMaxPendingPrompts bounds the number of prompt ids awaited at once.
func WithMaxPendingPrompts(n int) ProjectorOption {
	return func(c *projectorConfig) { c.maxPending = n }
}

// NewProjector creates a Projector.
func NewProjector(opts ...ProjectorOption) *Projector {
	cfg := projectorConfig{maxPending: DefaultMaxPendingPrompts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Projector{
		prompts: NewPromptSet(cfg.maxPending),
		logger:  cfg.logger,
	}
}

// IngestLine projects one line of protocol output. It returns nil when the
// line produces no event. A line that is not valid JSON becomes a status
// event carrying the trimmed raw text.
func (p *Projector) IngestLine(line []byte) Event {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}
	v, err := DecodeLine(trimmed)
	if err != nil {
		p.logger.Debug("undecodable protocol line", "error", err, "bytes", len(trimmed))
		return StatusEvent{Text: string(trimmed)}
	}
	msg, ok := Classify(v)
	if !ok {
		p.logger.Debug("ignoring non-protocol value")
		return nil
	}
	return p.Project(msg)
}

// Project turns a classified message into an event, updating the set of
// awaited prompt ids as a side effect.
func (p *Projector) Project(msg *Message) Event {
	if !msg.IsResponse {
		switch msg.Method {
		case MethodSessionPrompt:
			if msg.HasID {
				if evicted, ok := p.prompts.Add(msg.ID); ok {
					p.logger.Warn("prompt correlation set full, dropped oldest id", "evicted", evicted)
				}
			}
		case MethodSessionUpdate:
			return projectUpdate(msg.Params)
		}
		return nil
	}

	if msg.HasError {
		if !p.consume(msg) {
			return nil
		}
		return errorEvent(msg.Error)
	}

	result, _ := msg.Result.(map[string]any)
	stopReason := stringField(result, "stopReason")
	if stopReason == "" || !p.consume(msg) {
		return nil
	}
	return DoneEvent{StopReason: stopReason}
}

func (p *Projector) consume(msg *Message) bool {
	if msg.HasID && p.prompts.Consume(msg.ID) {
		return true
	}
	p.logger.Debug("ignoring response for unknown request", "id", msg.ID)
	return false
}

// Pending returns the number of prompts awaiting a response.
func (p *Projector) Pending() int {
	return p.prompts.Len()
}
