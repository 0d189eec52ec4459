package reply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/yoloswe/acpbridge/acp"
)

type delivery struct {
	Meta *Meta
	Kind Kind
	Text string
}

// recorder is a Deliverer that remembers every call.
type recorder struct {
	err error
	got []delivery
	mu  sync.Mutex
}

func (r *recorder) Deliver(_ context.Context, kind Kind, payload Payload, meta *Meta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, delivery{Kind: kind, Text: payload.Text, Meta: meta})
	return nil
}

// lines renders deliveries as "kind:text" for compact assertions.
func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, d := range r.got {
		out = append(out, string(d.Kind)+":"+d.Text)
	}
	return out
}

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }

// newTestPipeline builds a pipeline that delivers text immediately unless
// the config says otherwise.
func newTestPipeline(t *testing.T, configure func(*Config)) (*Pipeline, *recorder) {
	t.Helper()
	cfg := &Config{CoalesceIdleMs: intPtr(0)}
	if configure != nil {
		configure(cfg)
	}
	rec := &recorder{}
	p := NewPipeline(cfg.Resolve(), rec)
	t.Cleanup(p.Close)
	return p, rec
}

func feed(t *testing.T, p *Pipeline, events ...acp.Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, p.OnEvent(context.Background(), ev))
	}
}

func text(s string) acp.Event {
	return acp.TextDeltaEvent{Text: s, Stream: acp.StreamOutput, Tag: acp.UpdateAgentMessage}
}

func tool(id, title, status string) acp.Event {
	t := title
	if status != "" {
		t = title + " (" + status + ")"
	}
	return acp.ToolCallEvent{Text: t, Tag: acp.UpdateToolCallUpdate, ToolCallID: id, Status: status, Title: title}
}

var endTurn = acp.DoneEvent{StopReason: "end_turn"}

func TestPipeline_TextTruncatedOncePerTurn(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) { c.MaxTurnChars = intPtr(10) })

	feed(t, p, text("hello "), text("wörld!!"), text("more"), endTurn)
	assert.Equal(t, []string{
		"block:hello ",
		"block:wörl",
		"tool:output truncated",
	}, rec.lines())

	// The budget and the notice come back with the next turn.
	feed(t, p, text("again"), endTurn)
	assert.Equal(t, "block:again", rec.lines()[3])
	assert.Equal(t, 1, p.Stats().Truncations)
	assert.Equal(t, 2, p.Stats().Turns)
}

func TestPipeline_FinalOnlyHoldsTruncationNotice(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) {
		c.MaxTurnChars = intPtr(10)
		c.DeliveryMode = string(DeliveryFinalOnly)
	})

	feed(t, p, text("hello "), text("wörld!!"))
	assert.Empty(t, rec.lines(), "final_only withholds text and the notice")

	feed(t, p, endTurn)
	assert.Equal(t, []string{"block:hello wörl", "tool:output truncated"}, rec.lines())
}

func TestPipeline_TruncationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("delivered text is an exact prefix and the notice fires once", prop.ForAll(
		func(deltas []string, budget int) bool {
			cfg := &Config{CoalesceIdleMs: intPtr(0), MaxChunkChars: intPtr(50), MaxTurnChars: intPtr(budget)}
			rec := &recorder{}
			p := NewPipeline(cfg.Resolve(), rec)
			defer p.Close()

			var input strings.Builder
			for _, d := range deltas {
				input.WriteString(d)
				if p.OnEvent(context.Background(), text(d)) != nil {
					return false
				}
			}
			if p.OnEvent(context.Background(), endTurn) != nil {
				return false
			}

			var delivered strings.Builder
			notices := 0
			for _, d := range rec.got {
				switch d.Kind {
				case KindBlock:
					delivered.WriteString(d.Text)
				case KindTool:
					notices++
				}
			}
			total := utf8.RuneCountInString(input.String())
			want := runePrefix(input.String(), budget)
			wantNotices := 0
			if total > budget {
				wantNotices = 1
			}
			return delivered.String() == want && notices == wantNotices
		},
		gen.SliceOf(gen.AnyString()),
		gen.IntRange(1, 120),
	))

	properties.TestingRun(t)
}

func TestPipeline_MinimalToolDedup(t *testing.T) {
	p, rec := newTestPipeline(t, nil)

	feed(t, p,
		tool("t1", "Read", "pending"),
		tool("t1", "Read", "in_progress"),
		tool("t2", "Edit", "pending"),
		tool("t1", "Read", "completed"),
		tool("t1", "Read", "completed"),
		tool("t1", "Read", "in_progress"),
		tool("t1", "Read again", "failed"),
	)
	assert.Equal(t, []string{
		"tool:Read (pending)",
		"tool:Edit (pending)",
		"tool:Read (completed)",
	}, rec.lines())
	for _, d := range rec.got {
		assert.True(t, d.Meta.AllowEdit)
	}
	assert.Equal(t, "t1", rec.got[2].Meta.ToolCallID)
	assert.Equal(t, "completed", rec.got[2].Meta.ToolStatus)
}

func TestPipeline_TerminalToolAtMostOnceMore(t *testing.T) {
	statuses := []string{"", "pending", "in_progress", "completed", "failed", "cancelled"}
	for _, first := range statuses {
		for _, second := range statuses {
			p, rec := newTestPipeline(t, nil)
			feed(t, p, tool("x", "Run", "completed"))
			feed(t, p, tool("x", "Run", first), tool("x", "Other", second))
			assert.LessOrEqual(t, len(rec.lines())-1, 1, "after %q, %q", first, second)
		}
	}
}

func TestPipeline_VerboseToolDedup(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) { c.MetaMode = string(MetaVerbose) })

	feed(t, p,
		tool("t1", "Read", "pending"),
		tool("t1", "Read", "in_progress"),
		tool("t1", "Read", "in_progress"),
		tool("t1", "Read", "completed"),
		tool("t1", "Read", "in_progress"),
	)
	assert.Equal(t, []string{
		"tool:Read (pending)",
		"tool:Read (in_progress)",
		"tool:Read (completed)",
		"tool:Read (in_progress)",
	}, rec.lines())
	assert.False(t, rec.got[0].Meta.AllowEdit)
}

func TestPipeline_ToolWithoutIDUsesPriorText(t *testing.T) {
	p, rec := newTestPipeline(t, nil)
	feed(t, p, tool("", "Search", ""), tool("", "Search", ""), tool("", "Fetch", ""), tool("", "Search", ""))
	assert.Equal(t, []string{"tool:Search", "tool:Fetch", "tool:Search"}, rec.lines())
	assert.False(t, rec.got[0].Meta.AllowEdit)
}

func TestPipeline_MetaOff(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) {
		c.MetaMode = string(MetaOff)
		c.ShowUsage = new(bool)
		*c.ShowUsage = true
	})

	feed(t, p,
		tool("t1", "Read", "pending"),
		acp.StatusEvent{Text: "raw line"},
		acp.StatusEvent{Text: "usage: 1/2 tokens", Tag: acp.UpdateUsage, Used: int64Ptr(1), Size: int64Ptr(2)},
		text("hi"),
		acp.DoneEvent{StopReason: "cancelled"},
		acp.ErrorEvent{Message: "boom"},
	)
	assert.Equal(t, []string{"block:hi", "tool:error: boom"}, rec.lines())
}

func TestPipeline_StatusDedupResetsAtTurnBoundary(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) {
		c.TagVisibility = map[string]bool{acp.UpdateCurrentMode: true}
	})
	mode := acp.StatusEvent{Text: "mode updated: plan", Tag: acp.UpdateCurrentMode}

	feed(t, p, mode, mode, endTurn, mode)
	assert.Equal(t, []string{"tool:mode updated: plan", "tool:mode updated: plan"}, rec.lines())
	assert.Equal(t, 1, p.Stats().Deduplicated)

	feed(t, p, acp.ErrorEvent{Message: "x"}, mode)
	assert.Equal(t, "tool:mode updated: plan", rec.lines()[3])
}

func TestPipeline_UsageDedupOnTuple(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) {
		c.ShowUsage = new(bool)
		*c.ShowUsage = true
	})
	usage := func(used, size int64, text string) acp.Event {
		return acp.StatusEvent{Text: text, Tag: acp.UpdateUsage, Used: int64Ptr(used), Size: int64Ptr(size)}
	}

	feed(t, p,
		usage(10, 100, "usage: 10/100 tokens"),
		usage(10, 100, "usage: ten of a hundred"),
		usage(20, 100, "usage: 20/100 tokens"),
		usage(20, 200, "usage: 20/100 tokens"),
	)
	assert.Equal(t, []string{
		"tool:usage: 10/100 tokens",
		"tool:usage: 20/100 tokens",
		"tool:usage: 20/100 tokens",
	}, rec.lines())
}

func TestPipeline_Visibility(t *testing.T) {
	tests := []struct {
		configure func(*Config)
		name      string
		event     acp.Event
		want      []string
	}{
		{
			name:  "message visible",
			event: text("a"),
			want:  []string{"block:a"},
		},
		{
			name:  "thought hidden",
			event: acp.TextDeltaEvent{Text: "hmm", Stream: acp.StreamThought, Tag: acp.UpdateAgentThought},
		},
		{
			name:      "thought shown by override",
			configure: func(c *Config) { c.TagVisibility = map[string]bool{acp.UpdateAgentThought: true} },
			event:     acp.TextDeltaEvent{Text: "hmm", Stream: acp.StreamThought, Tag: acp.UpdateAgentThought},
			want:      []string{"block:hmm"},
		},
		{
			name:      "message hidden by override",
			configure: func(c *Config) { c.TagVisibility = map[string]bool{acp.UpdateAgentMessage: false} },
			event:     text("a"),
		},
		{
			name:  "plan hidden",
			event: acp.StatusEvent{Text: "plan: step", Tag: acp.UpdatePlan},
		},
		{
			name:  "usage hidden without showUsage",
			event: acp.StatusEvent{Text: "usage: 1 tokens", Tag: acp.UpdateUsage, Used: int64Ptr(1)},
		},
		{
			name:  "untagged status visible",
			event: acp.StatusEvent{Text: "not json"},
			want:  []string{"tool:not json"},
		},
		{
			name:  "tool call visible",
			event: tool("t", "Read", ""),
			want:  []string{"tool:Read"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := newTestPipeline(t, tt.configure)
			feed(t, p, tt.event)
			assert.Equal(t, tt.want, nilIfEmpty(rec.lines()))
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestPipeline_MetaQuota(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) { c.MaxMetaEventsPerTurn = intPtr(2) })

	feed(t, p,
		acp.StatusEvent{Text: "one"},
		acp.StatusEvent{Text: "two"},
		acp.StatusEvent{Text: "three"},
		tool("t1", "Read", ""),
		acp.ErrorEvent{Message: "failed", Code: "-32603"},
	)
	assert.Equal(t, []string{"tool:one", "tool:two", "tool:error: failed (code -32603)"}, rec.lines())
	assert.Equal(t, 2, p.Stats().QuotaDropped)

	feed(t, p, acp.StatusEvent{Text: "three"})
	assert.Equal(t, "tool:three", rec.lines()[3])
}

func TestPipeline_LiveFlushesTextBeforeMeta(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) { c.CoalesceIdleMs = intPtr(5000) })

	feed(t, p, text("abc"), text("def"))
	assert.Empty(t, rec.lines())

	feed(t, p, acp.StatusEvent{Text: "status"}, text("ghi"), endTurn)
	assert.Equal(t, []string{"block:abcdef", "tool:status", "block:ghi"}, rec.lines())
}

func TestPipeline_FinalOnlyDoesNotFlushForMeta(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) { c.DeliveryMode = string(DeliveryFinalOnly) })

	feed(t, p, text("abc"), acp.StatusEvent{Text: "status"})
	assert.Equal(t, []string{"tool:status"}, rec.lines())

	require.NoError(t, p.Flush(context.Background(), false))
	assert.Len(t, rec.lines(), 1, "unforced flush keeps withholding")

	require.NoError(t, p.Flush(context.Background(), true))
	assert.Equal(t, []string{"tool:status", "block:abc"}, rec.lines())
}

func TestPipeline_StopReasons(t *testing.T) {
	p, rec := newTestPipeline(t, nil)
	feed(t, p, text("partial"), acp.DoneEvent{StopReason: "max_tokens"}, endTurn)
	assert.Equal(t, []string{"block:partial", "tool:stopped: max_tokens"}, rec.lines())
	assert.Equal(t, TagStopped, rec.got[1].Meta.Tag)
}

func TestPipeline_ChunksAtMaxSize(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) {
		c.CoalesceIdleMs = intPtr(5000)
		c.MaxChunkChars = intPtr(50)
	})

	feed(t, p, text(strings.Repeat("x", 120)))
	assert.Equal(t, []string{"block:" + strings.Repeat("x", 50), "block:" + strings.Repeat("x", 50)}, rec.lines())

	require.NoError(t, p.Flush(context.Background(), false))
	assert.Equal(t, "block:"+strings.Repeat("x", 20), rec.lines()[2])
}

func TestPipeline_CoalescesOnIdle(t *testing.T) {
	p, rec := newTestPipeline(t, func(c *Config) { c.CoalesceIdleMs = intPtr(100) })

	feed(t, p, text("a"), text("b"), text("c"))
	require.Eventually(t, func() bool {
		return len(rec.lines()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"block:abc"}, rec.lines())
}

func TestPipeline_DeliveryErrors(t *testing.T) {
	p, rec := newTestPipeline(t, nil)
	boom := errors.New("channel down")
	rec.err = boom

	err := p.OnEvent(context.Background(), text("hi"))
	require.ErrorIs(t, err, boom)

	err = p.OnEvent(context.Background(), acp.ErrorEvent{Message: "x"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, p.Stats().Failures)
	assert.Equal(t, 1, p.Stats().Turns, "turn state resets even when delivery fails")
}

// failFirst fails its first delivery and records the rest.
type failFirst struct {
	recorder
	calls int
}

func (f *failFirst) Deliver(ctx context.Context, kind Kind, payload Payload, meta *Meta) error {
	f.calls++
	if f.calls == 1 {
		return errors.New("transient")
	}
	return f.recorder.Deliver(ctx, kind, payload, meta)
}

func TestPipeline_EndOfTurnDrainsPastFailedChunk(t *testing.T) {
	cfg := &Config{
		CoalesceIdleMs: intPtr(0),
		MaxChunkChars:  intPtr(50),
		DeliveryMode:   string(DeliveryFinalOnly),
	}
	d := &failFirst{}
	p := NewPipeline(cfg.Resolve(), d)
	t.Cleanup(p.Close)

	a, b, c := strings.Repeat("a", 50), strings.Repeat("b", 50), strings.Repeat("c", 50)
	feed(t, p, text(a+b+c))

	err := p.OnEvent(context.Background(), endTurn)
	require.Error(t, err)
	assert.Equal(t, 3, d.calls, "every chunk is attempted")
	assert.Equal(t, []string{"block:" + b, "block:" + c}, d.lines())
	assert.Equal(t, 1, p.Stats().Failures)
	assert.Equal(t, 2, p.Stats().Blocks)
	assert.Equal(t, 1, p.Stats().Turns)
}

func TestPipeline_Closed(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	p.Close()
	assert.ErrorIs(t, p.OnEvent(context.Background(), text("x")), ErrClosed)
	assert.ErrorIs(t, p.Flush(context.Background(), true), ErrClosed)
	assert.NoError(t, p.OnEvent(context.Background(), nil))
}

func TestPipeline_ClipsToolAndStatusLines(t *testing.T) {
	p, rec := newTestPipeline(t, nil)
	long := strings.Repeat("y", 400)
	feed(t, p, acp.StatusEvent{Text: long}, tool("t", long, ""))
	for _, line := range rec.lines() {
		assert.Equal(t, DefaultMaxStatusChars, utf8.RuneCountInString(strings.TrimPrefix(line, "tool:")))
		assert.True(t, strings.HasSuffix(line, ellipsis))
	}
}
