package reply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bazelment/yoloswe/acpbridge/acp"
)

// ErrClosed is returned by OnEvent and Flush after Close.
var ErrClosed = errors.New("reply pipeline is closed")

// Tags of the lines the pipeline produces itself.
const (
	TagTruncated = "truncated"
	TagStopped   = "stopped"
	TagError     = "error"

	truncatedNotice = "output truncated"
)

// hiddenByDefault lists the update kinds that stay quiet unless a tag
// override or ShowUsage says otherwise.
var hiddenByDefault = map[string]bool{
	acp.UpdateAgentThought:      true,
	acp.UpdateUsage:             true,
	acp.UpdateAvailableCommands: true,
	acp.UpdateCurrentMode:       true,
	acp.UpdateConfigOption:      true,
	acp.UpdateSessionInfo:       true,
	acp.UpdatePlan:              true,
}

// Stats counts what a pipeline has done since it was created.
type Stats struct {
	Blocks       int `json:"blocks"`
	ToolLines    int `json:"toolLines"`
	Deduplicated int `json:"deduplicated"`
	QuotaDropped int `json:"quotaDropped"`
	Truncations  int `json:"truncations"`
	Turns        int `json:"turns"`
	Failures     int `json:"failures"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for idle flush failures and drops.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pipeline projects runtime events into deliveries.
//
// Text deltas are buffered and released in chunks, either when the buffer
// reaches MaxChunkChars or after CoalesceIdle without new text. Tool and
// status events become single tool lines after visibility, dedup and quota
// checks. A done or error event flushes everything and starts a new turn.
//
// Deliveries happen while the pipeline's lock is held, so a Deliverer must
// not call back into the pipeline. Callers should still feed events one at
// a time to keep delivery order meaningful.
type Pipeline struct {
	deliverer Deliverer
	ctx       context.Context
	logger    *slog.Logger
	cancel    context.CancelFunc
	timer     *time.Timer
	turn      *turnState
	settings  Settings
	buf       strings.Builder
	stats     Stats
	bufRunes  int
	timerGen  uint64
	mu        sync.Mutex
	closed    bool
}

// NewPipeline creates a pipeline that delivers through d.
func NewPipeline(settings Settings, d Deliverer, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		deliverer: d,
		ctx:       ctx,
		cancel:    cancel,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		turn:      newTurnState(),
		settings:  settings,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Settings returns the pipeline's settings.
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// OnEvent consumes one runtime event. A nil event is ignored. Delivery
// errors are returned; state for the event is updated regardless.
func (p *Pipeline) OnEvent(ctx context.Context, ev acp.Event) error {
	if ev == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	switch e := ev.(type) {
	case acp.TextDeltaEvent:
		return p.onText(ctx, e)
	case acp.ToolCallEvent:
		return p.onTool(ctx, e)
	case acp.StatusEvent:
		return p.onStatus(ctx, e)
	case acp.DoneEvent:
		var line string
		if e.StopReason != "" && e.StopReason != "end_turn" && p.settings.MetaMode != MetaOff {
			line = "stopped: " + e.StopReason
		}
		return p.endTurn(ctx, line, &Meta{Tag: TagStopped, ToolStatus: e.StopReason})
	case acp.ErrorEvent:
		line := "error: " + e.Message
		if e.Code != "" {
			line += " (code " + e.Code + ")"
		}
		return p.endTurn(ctx, line, &Meta{Tag: TagError})
	default:
		return fmt.Errorf("reply: unhandled event %T", ev)
	}
}

// Flush delivers buffered text. Without force, final_only pipelines keep
// withholding their text.
func (p *Pipeline) Flush(ctx context.Context, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.flush(ctx, force)
}

// Close stops the idle timer and discards any buffered text. Use
// Flush(ctx, true) first to deliver it.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.stopTimer()
	p.cancel()
	p.buf.Reset()
	p.bufRunes = 0
}

func (p *Pipeline) visible(tag string) bool {
	if tag == "" {
		return true
	}
	if visible, ok := p.settings.TagOverride(tag); ok {
		return visible
	}
	if tag == acp.UpdateUsage {
		return p.settings.ShowUsage
	}
	return !hiddenByDefault[tag]
}

func (p *Pipeline) onText(ctx context.Context, e acp.TextDeltaEvent) error {
	if e.Text == "" || !p.visible(e.Tag) {
		return nil
	}

	text := e.Text
	remaining := p.settings.MaxTurnChars - p.turn.emittedChars
	n := utf8.RuneCountInString(text)
	truncated := n > remaining
	if truncated {
		n = max(remaining, 0)
		text = runePrefix(text, n)
	}

	if n > 0 {
		p.buf.WriteString(text)
		p.bufRunes += n
		p.turn.emittedChars += n
		if err := p.afterAppend(ctx); err != nil {
			return err
		}
	}
	if truncated {
		return p.noteTruncation(ctx)
	}
	return nil
}

// afterAppend releases full chunks and schedules the idle drain.
func (p *Pipeline) afterAppend(ctx context.Context) error {
	if p.settings.DeliveryMode == DeliveryFinalOnly {
		return nil
	}
	if err := p.drain(ctx, false); err != nil {
		return err
	}
	if p.bufRunes == 0 {
		p.stopTimer()
		return nil
	}
	if p.settings.CoalesceIdle <= 0 {
		return p.drain(ctx, true)
	}
	p.armTimer()
	return nil
}

// noteTruncation fires the per-turn truncation notice once. final_only
// pipelines hold it until the turn's text has been delivered.
func (p *Pipeline) noteTruncation(ctx context.Context) error {
	if p.turn.truncated {
		return nil
	}
	p.turn.truncated = true
	p.stats.Truncations++
	p.logger.Debug("turn text budget exhausted", "maxTurnChars", p.settings.MaxTurnChars)

	if p.settings.DeliveryMode == DeliveryFinalOnly {
		p.turn.noticePending = true
		return nil
	}
	if err := p.flush(ctx, true); err != nil {
		return err
	}
	return p.send(ctx, KindTool, truncatedNotice, &Meta{Tag: TagTruncated})
}

func (p *Pipeline) onTool(ctx context.Context, e acp.ToolCallEvent) error {
	if p.settings.MetaMode == MetaOff || !p.visible(e.Tag) {
		return nil
	}
	text := clip(e.Text, p.settings.MaxToolSummaryChars)
	if text == "" {
		return nil
	}
	hash := fingerprint(text)
	meta := &Meta{Tag: e.Tag, ToolCallID: e.ToolCallID, ToolStatus: e.Status}

	if p.settings.MetaMode == MetaMinimal && e.ToolCallID != "" {
		return p.onTrackedTool(ctx, e, text, hash, meta)
	}

	if p.turn.hasLastTool && p.turn.lastToolHash == hash {
		p.stats.Deduplicated++
		return nil
	}
	accepted, err := p.emitMeta(ctx, text, meta)
	if accepted {
		p.turn.lastToolHash, p.turn.hasLastTool = hash, true
	}
	return err
}

// onTrackedTool applies the per tool call guards of minimal mode.
func (p *Pipeline) onTrackedTool(ctx context.Context, e acp.ToolCallEvent, text string, hash uint64, meta *Meta) error {
	meta.AllowEdit = true
	terminal := isTerminalStatus(e.Status)
	start := !terminal && isStartStatus(e.Status)

	if st, ok := p.turn.tools[e.ToolCallID]; ok {
		if st.terminal || st.lastRendered == hash || (start && st.started) {
			p.stats.Deduplicated++
			return nil
		}
	}

	accepted, err := p.emitMeta(ctx, text, meta)
	if accepted {
		st := p.turn.tool(e.ToolCallID)
		st.lastRendered = hash
		st.terminal = st.terminal || terminal
		st.started = st.started || start
		p.turn.lastToolHash, p.turn.hasLastTool = hash, true
	}
	return err
}

func (p *Pipeline) onStatus(ctx context.Context, e acp.StatusEvent) error {
	if p.settings.MetaMode == MetaOff || !p.visible(e.Tag) {
		return nil
	}
	text := clip(e.Text, p.settings.MaxStatusChars)
	if text == "" {
		return nil
	}
	meta := &Meta{Tag: e.Tag}

	if e.Used != nil || e.Size != nil {
		usage := newUsageTuple(e.Used, e.Size)
		if p.turn.hasLastUsage && p.turn.lastUsage == usage {
			p.stats.Deduplicated++
			return nil
		}
		accepted, err := p.emitMeta(ctx, text, meta)
		if accepted {
			p.turn.lastUsage, p.turn.hasLastUsage = usage, true
		}
		return err
	}

	hash := fingerprint(text)
	if p.turn.hasLastStatus && p.turn.lastStatusHash == hash {
		p.stats.Deduplicated++
		return nil
	}
	accepted, err := p.emitMeta(ctx, text, meta)
	if accepted {
		p.turn.lastStatusHash, p.turn.hasLastStatus = hash, true
	}
	return err
}

// emitMeta delivers a tool line if the turn's meta quota allows it. In live
// mode buffered text goes out first.
func (p *Pipeline) emitMeta(ctx context.Context, text string, meta *Meta) (bool, error) {
	if p.turn.emittedMeta >= p.settings.MaxMetaEventsPerTurn {
		p.stats.QuotaDropped++
		return false, nil
	}
	p.turn.emittedMeta++
	if p.settings.DeliveryMode == DeliveryLive {
		if err := p.flush(ctx, true); err != nil {
			return true, err
		}
	}
	return true, p.send(ctx, KindTool, text, meta)
}

// endTurn drains the turn, delivers its closing lines and resets the turn
// state even when a delivery fails.
func (p *Pipeline) endTurn(ctx context.Context, line string, meta *Meta) error {
	var errs []error
	if err := p.flush(ctx, true); err != nil {
		errs = append(errs, err)
	}
	if p.turn.noticePending {
		if err := p.send(ctx, KindTool, truncatedNotice, &Meta{Tag: TagTruncated}); err != nil {
			errs = append(errs, err)
		}
	}
	if line != "" {
		if err := p.send(ctx, KindTool, clip(line, p.settings.MaxStatusChars), meta); err != nil {
			errs = append(errs, err)
		}
	}

	p.turn.reset()
	p.buf.Reset()
	p.bufRunes = 0
	p.stats.Turns++
	return errors.Join(errs...)
}

func (p *Pipeline) flush(ctx context.Context, force bool) error {
	if !force && p.settings.DeliveryMode == DeliveryFinalOnly {
		return nil
	}
	p.stopTimer()
	return p.drain(ctx, true)
}

// drain delivers buffered text as block chunks. Unless all is set, only
// full chunks are released and the remainder stays buffered, and the first
// failure stops the drain. With all set every chunk is attempted and the
// failures are joined.
func (p *Pipeline) drain(ctx context.Context, all bool) error {
	limit := p.settings.MaxChunkChars
	if p.bufRunes == 0 || (!all && p.bufRunes < limit) {
		return nil
	}

	s := p.buf.String()
	p.buf.Reset()
	p.bufRunes = 0
	defer func() {
		p.buf.WriteString(s)
		p.bufRunes = utf8.RuneCountInString(s)
	}()

	var errs []error
	for s != "" {
		if !all && utf8.RuneCountInString(s) < limit {
			return nil
		}
		var chunk string
		chunk, s = splitChunk(s, limit)
		if err := p.send(ctx, KindBlock, chunk, nil); err != nil {
			if !all {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) send(ctx context.Context, kind Kind, text string, meta *Meta) error {
	if err := p.deliverer.Deliver(ctx, kind, Payload{Text: text}, meta); err != nil {
		p.stats.Failures++
		return fmt.Errorf("deliver %s: %w", kind, err)
	}
	if kind == KindBlock {
		p.stats.Blocks++
	} else {
		p.stats.ToolLines++
	}
	return nil
}

func (p *Pipeline) armTimer() {
	p.stopTimer()
	gen := p.timerGen
	p.timer = time.AfterFunc(p.settings.CoalesceIdle, func() { p.onIdle(gen) })
}

// stopTimer cancels the idle drain. Bumping the generation also disarms a
// callback that has already fired but not yet acquired the lock.
func (p *Pipeline) stopTimer() {
	p.timerGen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Pipeline) onIdle(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.timerGen {
		return
	}
	p.timer = nil
	if err := p.drain(p.ctx, true); err != nil {
		p.logger.Warn("idle flush failed", "error", err)
	}
}

func isTerminalStatus(status string) bool {
	switch status {
	case "completed", "failed", "cancelled", "canceled", "error":
		return true
	}
	return false
}

func isStartStatus(status string) bool {
	switch status {
	case "", "pending", "in_progress", "running", "started":
		return true
	}
	return false
}
