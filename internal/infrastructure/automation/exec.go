// Package automation submits prompts to the downstream automation tool, either by
// running a local command or by calling a webhook.
package automation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"MailPrompter/internal/ports"
	"MailPrompter/internal/retry"
)

const maxStderrLen = 500

// limitedWriter caps writes to a bytes.Buffer at a maximum byte count.
type limitedWriter struct {
	buf *bytes.Buffer
	n   int64
	max int64
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.n >= w.max {
		return len(p), nil
	}
	remaining := w.max - w.n
	origLen := len(p)
	if int64(origLen) > remaining {
		p = p[:remaining]
	}
	n, err := w.buf.Write(p)
	w.n += int64(n)
	if err != nil {
		return n, err
	}
	return origLen, nil
}

// ExecOptions configures the command-line automator.
type ExecOptions struct {
	// Command receives the prompt on stdin; a zero exit status means the prompt was executed.
	Command []string
	// Preflight runs once before a batch, e.g. to bring the browser window forward.
	Preflight []string
	Timeout   time.Duration
	Settle    time.Duration
}

// ExecAutomator runs a local command per prompt.
type ExecAutomator struct {
	opts   ExecOptions
	logger *slog.Logger
}

var (
	_ ports.Automator   = (*ExecAutomator)(nil)
	_ ports.Preflighter = (*ExecAutomator)(nil)
)

// NewExecAutomator requires at least the program name.
func NewExecAutomator(opts ExecOptions, logger *slog.Logger) (*ExecAutomator, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, fmt.Errorf("exec automator: command is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecAutomator{opts: opts, logger: logger}, nil
}

// Preflight runs the preflight command, if any.
func (a *ExecAutomator) Preflight(ctx context.Context) error {
	if len(a.opts.Preflight) == 0 {
		return nil
	}
	if err := a.run(ctx, a.opts.Preflight, nil); err != nil {
		return fmt.Errorf("run %s: %w", a.opts.Preflight[0], err)
	}
	return nil
}

// Automate pipes command into the configured program, retrying per policy, then waits
// for the settle delay so the tool can finish acting on it. Once the program succeeded,
// a cancelled ctx only cuts the settle delay short.
func (a *ExecAutomator) Automate(ctx context.Context, command string, policy retry.Policy) error {
	policy.OnRetry = func(err error, wait time.Duration) {
		a.logger.Debug("automation attempt failed", "error", err, "retry_in", wait)
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		return a.run(ctx, a.opts.Command, strings.NewReader(command))
	})
	if err != nil {
		return fmt.Errorf("run %s: %w", a.opts.Command[0], err)
	}
	sleep(ctx, a.opts.Settle)
	return nil
}

func (a *ExecAutomator) run(ctx context.Context, argv []string, stdin io.Reader) error {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdin = stdin
	var buf bytes.Buffer
	c.Stdout = io.Discard
	c.Stderr = &limitedWriter{buf: &buf, max: maxStderrLen}
	if err := c.Run(); err != nil {
		msg := strings.TrimSpace(buf.String())
		if msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}
	return nil
}

// sleep waits for d or until ctx is done. The automation already succeeded by then,
// so an interrupted wait is not an error.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
