// Package bridge connects the ACP projector to the reply pipeline and
// decides which prompts are admitted.
package bridge

import (
	"context"
	"io"
	"log/slog"

	"github.com/bazelment/yoloswe/acpbridge/acp"
	"github.com/bazelment/yoloswe/acpbridge/reply"
)

// EventObserver sees every runtime event before the pipeline does.
type EventObserver func(acp.Event)

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithEventObserver registers an observer for projected events.
func WithEventObserver(fn EventObserver) RelayOption {
	return func(r *Relay) {
		r.observer = fn
	}
}

// WithLogger sets the relay logger.
func WithLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// Relay feeds protocol lines through a Projector into a Pipeline. It is not
// safe for concurrent use; acp.Conn already serializes its observer.
type Relay struct {
	projector *acp.Projector
	pipeline  *reply.Pipeline
	observer  EventObserver
	logger    *slog.Logger
}

// NewRelay creates a relay over an existing projector and pipeline.
func NewRelay(projector *acp.Projector, pipeline *reply.Pipeline, opts ...RelayOption) *Relay {
	r := &Relay{
		projector: projector,
		pipeline:  pipeline,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleLine projects one protocol line and hands the resulting event, if
// any, to the pipeline. The event is returned even when delivery fails.
func (r *Relay) HandleLine(ctx context.Context, line []byte) (acp.Event, error) {
	ev := r.projector.IngestLine(line)
	return ev, r.dispatch(ctx, ev)
}

// Replay projects a captured protocol log. Malformed lines are skipped, as
// the batch decoder does; the pipeline is flushed at the end.
func (r *Relay) Replay(ctx context.Context, rd io.Reader) error {
	msgs, err := acp.DecodeBatch(rd)
	if err != nil {
		return err
	}
	r.logger.Debug("replaying protocol log", "messages", len(msgs))
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.dispatch(ctx, r.projector.Project(msg)); err != nil {
			return err
		}
	}
	return r.Flush(ctx)
}

// Flush forces out any text still buffered in the pipeline.
func (r *Relay) Flush(ctx context.Context) error {
	return r.pipeline.Flush(ctx, true)
}

// Pending reports how many prompts are awaiting a response.
func (r *Relay) Pending() int {
	return r.projector.Pending()
}

func (r *Relay) dispatch(ctx context.Context, ev acp.Event) error {
	if ev == nil {
		return nil
	}
	if r.observer != nil {
		r.observer(ev)
	}
	return r.pipeline.OnEvent(ctx, ev)
}
