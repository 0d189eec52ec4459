package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bazelment/yoloswe/acpbridge/acp"
	"github.com/bazelment/yoloswe/acpbridge/bridge"
	"github.com/bazelment/yoloswe/acpbridge/internal/agentproc"
	"github.com/bazelment/yoloswe/acpbridge/reply"
)

var (
	runCWD        string
	runSender     string
	runApproveAll bool
	runMaxPrompts int
	runWindow     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <agent> [args...]",
	Short: "Run an ACP agent and relay one turn per prompt read from stdin",
	Long: `Each stdin line is a prompt: either plain text, or a JSON object
{"from": "<sender>", "text": "<prompt>"}. Prompts are throttled per sender.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runBridge(ctx, args, cmd.InOrStdin(), cmd.OutOrStdout(), newLogger(cmd.ErrOrStderr()))
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	defaults := bridge.DefaultAdmissionConfig()
	runCmd.Flags().StringVar(&runCWD, "cwd", "", "Session working directory (default: current directory)")
	runCmd.Flags().StringVar(&runSender, "sender", "local", "Sender name for plain-text prompts")
	runCmd.Flags().BoolVar(&runApproveAll, "approve-all", false, "Approve every permission request instead of read-only tools")
	runCmd.Flags().IntVar(&runMaxPrompts, "max-prompts", defaults.MaxPrompts, "Prompts allowed per sender per window")
	runCmd.Flags().DurationVar(&runWindow, "window", defaults.Window, "Throttle window per sender")
}

// prompt is one line of run input.
type prompt struct {
	From string `json:"from"`
	Text string `json:"text"`
}

func parsePrompt(line, defaultSender string) prompt {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var p prompt
		if err := json.Unmarshal([]byte(trimmed), &p); err == nil {
			if p.From == "" {
				p.From = defaultSender
			}
			p.Text = strings.TrimSpace(p.Text)
			return p
		}
	}
	return prompt{From: defaultSender, Text: trimmed}
}

func runBridge(ctx context.Context, argv []string, in io.Reader, out io.Writer, logger *slog.Logger) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	deliverer, err := newDeliverer(out)
	if err != nil {
		return err
	}
	cwd := runCWD
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}

	proc, err := agentproc.Start(ctx, agentproc.Config{
		Command: argv[0],
		Args:    argv[1:],
		Dir:     cwd,
		Logger:  logger.With("component", "agent"),
	})
	if err != nil {
		return err
	}
	defer proc.Stop()

	pipeline := reply.NewPipeline(settings, deliverer, reply.WithLogger(logger))
	defer pipeline.Close()
	relay := bridge.NewRelay(acp.NewProjector(acp.WithLogger(logger)), pipeline, bridge.WithLogger(logger))

	var policy acp.PermissionPolicy = acp.ReadOnlyPolicy{}
	if runApproveAll {
		policy = acp.ApproveAllPolicy{}
	}
	conn := acp.NewConn(proc.Stdout(), proc.Stdin(),
		acp.WithConnLogger(logger),
		acp.WithPermissionPolicy(policy),
		acp.WithObserver(func(line []byte) {
			logger.Log(ctx, LevelTrace, "acp line", "line", string(line))
			if _, err := relay.HandleLine(ctx, line); err != nil {
				logger.Warn("delivery failed", "error", err)
			}
		}),
	)
	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx) }()

	info, err := conn.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}
	if info.AgentInfo != nil {
		logger.Info("agent ready", "name", info.AgentInfo.Name, "version", info.AgentInfo.Version)
	}
	sessionID, err := conn.NewSession(ctx, cwd)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	admission := bridge.NewAdmission(bridge.AdmissionConfig{
		Window:     runWindow,
		MaxPrompts: runMaxPrompts,
		TurnTTL:    bridge.DefaultAdmissionConfig().TurnTTL,
		MaxSenders: bridge.DefaultAdmissionConfig().MaxSenders,
	})

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p := parsePrompt(scanner.Text(), runSender)
		if p.Text == "" {
			continue
		}
		turn, err := admission.Admit(p.From)
		if err != nil {
			logger.Warn("prompt rejected", "sender", p.From, "error", err)
			continue
		}
		logger.Info("prompt", "sender", p.From, "turn", turn)

		resp, err := conn.Prompt(ctx, sessionID, p.Text)
		switch {
		case ctx.Err() != nil:
			_ = conn.Cancel(sessionID)
			return ctx.Err()
		case errors.Is(err, acp.ErrConnClosed):
			if runFailure := <-runErr; runFailure != nil {
				return fmt.Errorf("agent connection failed: %w", runFailure)
			}
			return fmt.Errorf("agent exited: %w", err)
		case err != nil:
			logger.Warn("prompt failed", "sender", p.From, "turn", turn, "error", err)
		default:
			logger.Debug("turn finished", "sender", p.From, "turn", turn, "stopReason", resp.StopReason)
		}
		logStats(ctx, logger, pipeline)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return relay.Flush(ctx)
}
