// Package agentproc runs the ACP agent as a child process.
//
// The agent gets its own process group so that Stop can take down anything
// it spawned. Nothing here restarts an agent that exits.
package agentproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultStopGrace is how long Stop waits between escalation steps.
const DefaultStopGrace = 500 * time.Millisecond

// ErrNotStarted is returned when a process is used before Start succeeds.
var ErrNotStarted = errors.New("agent process not started")

// ProcessError reports a failure to launch the agent.
type ProcessError struct {
	Cause   error
	Message string
}

func (e *ProcessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// Config describes the agent command.
type Config struct {
	// Env is merged over the bridge's own environment.
	Env    map[string]string
	Logger *slog.Logger
	// Command is the agent binary, resolved through PATH.
	Command string
	Dir     string
	Args    []string
	// StopGrace defaults to DefaultStopGrace.
	StopGrace time.Duration
}

// Process is a running agent.
type Process struct {
	stdin      io.WriteCloser
	stdout     *outputPipe
	cmd        *exec.Cmd
	logger     *slog.Logger
	stderrDone chan struct{}
	grace      time.Duration
	mu         sync.Mutex
	stopping   bool
}

// outputPipe records when its reader has seen the end of the stream, so
// the process is reaped only after the reads finish.
type outputPipe struct {
	io.ReadCloser
	eof  chan struct{}
	once sync.Once
}

func (o *outputPipe) Read(b []byte) (int, error) {
	n, err := o.ReadCloser.Read(b)
	if err != nil {
		o.once.Do(func() { close(o.eof) })
	}
	return n, err
}

// Start launches the agent described by cfg. The agent's stderr is
// forwarded line by line to the logger at debug level.
func Start(ctx context.Context, cfg Config) (*Process, error) {
	if cfg.Command == "" {
		return nil, &ProcessError{Message: "no agent command given"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.SysProcAttr = groupAttr()
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stdout pipe", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stderr pipe", Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Message: "failed to start agent process", Cause: err}
	}

	grace := cfg.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	p := &Process{
		stdin:      stdin,
		stdout:     &outputPipe{ReadCloser: stdout, eof: make(chan struct{})},
		cmd:        cmd,
		logger:     logger.With("pid", cmd.Process.Pid),
		stderrDone: make(chan struct{}),
		grace:      grace,
	}
	go p.forwardStderr(stderr)
	p.logger.Debug("agent started", "command", cfg.Command, "args", cfg.Args)
	return p, nil
}

// Stdout is the agent's protocol output.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stdin is the agent's protocol input.
func (p *Process) Stdin() io.Writer {
	return p.stdin
}

// Pid returns the agent's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) forwardStderr(r io.Reader) {
	defer close(p.stderrDone)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		p.logger.Debug("agent stderr", "line", scanner.Text())
	}
}

// Stop shuts the agent down: it closes stdin, then signals the process
// group with SIGINT, then SIGKILL, waiting one grace period after each step.
// The process is reaped once its stderr is forwarded and the stdout reader
// has seen EOF, so neither loses the agent's last output.
// Stop is idempotent.
func (p *Process) Stop() error {
	if p == nil {
		return ErrNotStarted
	}
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	p.mu.Unlock()

	p.stdin.Close()

	readsDone := make(chan struct{})
	go func() {
		<-p.stderrDone
		<-p.stdout.eof
		close(readsDone)
	}()
	var next int
	if !p.escalate(readsDone, &next) {
		p.logger.Warn("agent output still open, reaping anyway")
	}

	var waitErr error
	exited := make(chan struct{})
	go func() {
		waitErr = p.cmd.Wait()
		close(exited)
	}()
	if !p.escalate(exited, &next) {
		p.logger.Warn("agent did not exit after SIGKILL")
		return nil
	}
	p.logExit(waitErr)
	return nil
}

func (p *Process) logExit(err error) {
	if err != nil {
		p.logger.Debug("agent exited", "error", err)
		return
	}
	p.logger.Debug("agent exited")
}
