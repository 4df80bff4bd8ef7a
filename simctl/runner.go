package simctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 30 * time.Second

// Outcome describes how one command finished.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
	// Err is set when the process could not be started or waited on.
	Err error
}

// Succeeded reports a clean zero exit.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && !o.TimedOut && o.ExitCode == 0
}

// Output joins stdout and stderr for diagnostics.
func (o Outcome) Output() string {
	out := strings.TrimSpace(o.Stdout)
	if errOut := strings.TrimSpace(o.Stderr); errOut != "" {
		if out != "" {
			out += "\n"
		}
		out += errOut
	}
	if out == "" && o.Err != nil {
		out = o.Err.Error()
	}
	return out
}

// Runner executes commands synchronously.
type Runner interface {
	Run(ctx context.Context, cmd Command) Outcome
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	Timeout time.Duration
	Logger  *log.Logger
}

// NewExecRunner returns a runner bounded by timeout; zero disables the bound.
func NewExecRunner(timeout time.Duration, logger *log.Logger) *ExecRunner {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ExecRunner{Timeout: timeout, Logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) Outcome {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = time.Second

	logger := r.logger()
	logger.Debugf("running command: %s", cmd)

	start := time.Now()
	err := c.Run()
	out := Outcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.TimedOut = true
		out.ExitCode = -1
		out.Err = fmt.Errorf("command timed out after %v: %w", out.Duration.Round(time.Millisecond), ctx.Err())
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		out.ExitCode = -1
		out.Err = err
	}

	if out.Succeeded() {
		logger.Debugf("command result: %s", strings.TrimSpace(out.Stdout))
	} else {
		logger.WithFields(log.Fields{
			"command":   cmd.String(),
			"exit_code": out.ExitCode,
			"timed_out": out.TimedOut,
			"output":    out.Output(),
		}).Error("command failed")
	}
	return out
}

func (r *ExecRunner) logger() *log.Logger {
	if r.Logger == nil {
		return log.StandardLogger()
	}
	return r.Logger
}
