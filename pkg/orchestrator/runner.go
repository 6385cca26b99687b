// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// execSpec describes one external command invocation.
type execSpec struct {
	name    string
	args    []string
	dir     string
	stdin   string
	timeout time.Duration

	// progress, when set, receives a copy of stdout as it is produced.
	progress io.Writer
}

// String renders the command line for logs.
func (s execSpec) String() string {
	return strings.TrimSpace(s.name + " " + strings.Join(s.args, " "))
}

// ExecResult holds the captured output of a successful command.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// ExitError reports a command that ran but did not succeed: a non-zero
// exit, a timeout, or a failure to start. Code is -1 when the process
// never produced an exit status.
type ExitError struct {
	Op     string
	Code   int
	Stdout string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Op, e.Code)
	if e.Code < 0 && e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Output returns stdout and stderr joined, for diagnostics.
func (e *ExitError) Output() string {
	return strings.TrimSpace(strings.TrimSpace(e.Stdout) + "\n" + strings.TrimSpace(e.Stderr))
}

// commandRunner executes a command. Components hold one so tests can
// substitute a fake.
type commandRunner func(ctx context.Context, spec execSpec) (ExecResult, error)

// runCommand executes spec and waits for it. The process is killed if
// spec.timeout elapses. A non-nil error is always an *ExitError.
func runCommand(ctx context.Context, spec execSpec) (ExecResult, error) {
	if spec.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.name, spec.args...)
	cmd.Dir = spec.dir
	// Children that inherit stdout must not hold Wait open after a kill.
	cmd.WaitDelay = 5 * time.Second
	if spec.stdin != "" {
		cmd.Stdin = strings.NewReader(spec.stdin)
	}

	var stdout, stderr bytes.Buffer
	if spec.progress != nil {
		cmd.Stdout = io.MultiWriter(&stdout, spec.progress)
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}
	if err == nil {
		return res, nil
	}

	exitErr := &ExitError{
		Op:     spec.String(),
		Code:   -1,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
	if ctx.Err() == context.DeadlineExceeded {
		logf("runCommand: %s killed after %s (max time %s exceeded)", spec.name, res.Duration.Round(time.Second), spec.timeout)
		exitErr.Err = fmt.Errorf("max time exceeded (%s): %w", spec.timeout, context.DeadlineExceeded)
		return res, exitErr
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		exitErr.Code = ee.ExitCode()
	}
	return res, exitErr
}
