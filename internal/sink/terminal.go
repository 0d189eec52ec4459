// Package sink holds the delivery targets used by the acpbridge CLI.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/bazelment/yoloswe/acpbridge/reply"
)

// Styles
var (
	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))
)

const toolPrefix = "▸ "

// Terminal prints deliveries for a human. Tool lines are colored and cut
// to the terminal width only when the writer is a terminal.
type Terminal struct {
	w      io.Writer
	width  int
	mu     sync.Mutex
	styled bool
}

// NewTerminal creates a terminal sink writing to w.
func NewTerminal(w io.Writer) *Terminal {
	t := &Terminal{w: w}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.styled = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			t.width = width
		}
	}
	return t
}

// Deliver implements reply.Deliverer.
func (t *Terminal) Deliver(_ context.Context, kind reply.Kind, payload reply.Payload, meta *reply.Meta) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var line string
	switch kind {
	case reply.KindBlock:
		line = payload.Text
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
	default:
		line = t.renderTool(payload.Text, meta) + "\n"
	}
	_, err := io.WriteString(t.w, line)
	return err
}

func (t *Terminal) renderTool(text string, meta *reply.Meta) string {
	text = toolPrefix + strings.ReplaceAll(text, "\n", " ")
	if !t.styled {
		return text
	}
	if t.width > 0 {
		text = runewidth.Truncate(text, t.width, "…")
	}
	return styleFor(meta).Render(text)
}

func styleFor(meta *reply.Meta) lipgloss.Style {
	if meta == nil {
		return toolStyle
	}
	switch meta.Tag {
	case reply.TagTruncated, reply.TagStopped:
		return noticeStyle
	case reply.TagError:
		return failedStyle
	}
	switch meta.ToolStatus {
	case "completed":
		return completedStyle
	case "failed", "error", "cancelled":
		return failedStyle
	}
	return toolStyle
}

// String describes the sink for logs.
func (t *Terminal) String() string {
	return fmt.Sprintf("terminal(styled=%t, width=%d)", t.styled, t.width)
}
