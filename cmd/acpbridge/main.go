// Command acpbridge relays an ACP agent's session updates to a chat-style
// output, applying the reply projection policy.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bazelment/yoloswe/acpbridge/internal/sink"
	"github.com/bazelment/yoloswe/acpbridge/reply"
)

// LevelTrace logs every raw protocol line.
const LevelTrace = slog.Level(-8)

var (
	configPath   string
	outputFormat string
	paceInterval time.Duration
	paceBurst    int
	verbosity    int
)

var rootCmd = &cobra.Command{
	Use:   "acpbridge",
	Short: "Relay ACP agent output to chat-style deliveries",
	Long: `acpbridge runs an Agent Client Protocol agent, or replays a captured
protocol log, and turns its session updates into text blocks and tool lines
under the configured visibility, dedup and truncation policy.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML reply settings file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "terminal", "Output format: terminal or jsonl")
	rootCmd.PersistentFlags().DurationVar(&paceInterval, "pace", 0, "Minimum spacing between deliveries (0 disables pacing)")
	rootCmd.PersistentFlags().IntVar(&paceBurst, "pace-burst", 1, "Deliveries allowed back to back before pacing applies")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v debug, -vv protocol trace)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates the stderr logger; every line carries the run id.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbosity >= 2:
		level = LevelTrace
	case verbosity == 1:
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	})
	return slog.New(handler).With("run", uuid.NewString())
}

func loadSettings() (reply.Settings, error) {
	if configPath == "" {
		return reply.DefaultSettings(), nil
	}
	cfg, err := reply.LoadConfig(configPath)
	if err != nil {
		return reply.Settings{}, fmt.Errorf("load config: %w", err)
	}
	return cfg.Resolve(), nil
}

func newDeliverer(w io.Writer) (reply.Deliverer, error) {
	var d reply.Deliverer
	switch outputFormat {
	case "terminal":
		d = sink.NewTerminal(w)
	case "jsonl":
		d = sink.NewJSONLines(w)
	default:
		return nil, fmt.Errorf("unknown output format %q", outputFormat)
	}
	if paceInterval > 0 {
		d = reply.NewPacedDeliverer(d, paceInterval, paceBurst)
	}
	return d, nil
}

func logStats(ctx context.Context, logger *slog.Logger, p *reply.Pipeline) {
	s := p.Stats()
	logger.Log(ctx, slog.LevelDebug, "pipeline stats",
		"turns", s.Turns,
		"blocks", s.Blocks,
		"toolLines", s.ToolLines,
		"deduplicated", s.Deduplicated,
		"quotaDropped", s.QuotaDropped,
		"truncations", s.Truncations,
		"failures", s.Failures,
	)
}
