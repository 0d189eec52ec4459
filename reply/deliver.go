package reply

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Kind distinguishes free-form text from short tool/status lines.
type Kind string

const (
	KindBlock Kind = "block"
	KindTool  Kind = "tool"
)

// Payload is the content of one delivery.
type Payload struct {
	Text string `json:"text"`
}

// Meta describes a tool or status delivery so a channel can edit a previous
// message in place instead of posting a new one.
type Meta struct {
	Tag        string `json:"tag,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolStatus string `json:"toolStatus,omitempty"`
	AllowEdit  bool   `json:"allowEdit,omitempty"`
}

// Deliverer sends one message to a chat channel. meta is nil for text
// blocks.
type Deliverer interface {
	Deliver(ctx context.Context, kind Kind, payload Payload, meta *Meta) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, kind Kind, payload Payload, meta *Meta) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, kind Kind, payload Payload, meta *Meta) error {
	return f(ctx, kind, payload, meta)
}

// PacedDeliverer spaces deliveries to respect a channel's send rate.
type PacedDeliverer struct {
	next    Deliverer
	limiter *rate.Limiter
}

// NewPacedDeliverer allows one delivery per interval with bursts of up to
// burst. A non-positive interval disables pacing.
func NewPacedDeliverer(next Deliverer, interval time.Duration, burst int) *PacedDeliverer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &PacedDeliverer{
		next:    next,
		limiter: rate.NewLimiter(limit, max(burst, 1)),
	}
}

// Deliver waits for a send slot, then forwards to the wrapped Deliverer.
func (p *PacedDeliverer) Deliver(ctx context.Context, kind Kind, payload Payload, meta *Meta) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.next.Deliver(ctx, kind, payload, meta)
}
