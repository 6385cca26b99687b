// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPatch is returned when Apply is given nothing to apply.
var ErrEmptyPatch = errors.New("empty patch")

// Applier steps.
const (
	StepApply  = "apply"
	StepStage  = "stage"
	StepCommit = "commit"
	StepPush   = "push"
)

// StepError reports which git step failed for which project. Output
// holds the combined stdout and stderr of the failed command.
type StepError struct {
	Step    string
	Project string
	Output  string
	Err     error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Step, e.Project, e.Err)
	if e.Output != "" && !strings.Contains(msg, e.Output) {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }

// stepError wraps err as a *StepError, lifting command output from an
// *ExitError when present.
func stepError(step, project string, err error) *StepError {
	se := &StepError{Step: step, Project: project, Err: err}
	var ee *ExitError
	if errors.As(err, &ee) {
		se.Output = ee.Output()
	}
	return se
}

// Applier applies a patch to a project's working tree and commits and
// pushes the result.
type Applier struct {
	cfg  GitConfig
	msgs Generator
	run  commandRunner
}

// NewApplier returns an Applier that asks msgs for commit messages.
func NewApplier(cfg GitConfig, msgs Generator) *Applier {
	return &Applier{cfg: cfg, msgs: msgs, run: runCommand}
}

// Apply runs git apply with the patch on stdin, then stages, commits,
// and pushes. It returns the commit message without trailers. The
// working tree is left as git leaves it when a step fails.
func (a *Applier) Apply(ctx context.Context, p Project, patch string, t Trailers) (string, error) {
	if strings.TrimSpace(patch) == "" {
		return "", ErrEmptyPatch
	}
	timeout := a.cfg.Timeout()

	setPhase(StepApply)
	defer clearPhase()
	if _, err := a.run(ctx, gitApply(p.Path, patch, timeout)); err != nil {
		return "", stepError(StepApply, p.Path, err)
	}

	msg := a.commitMessage(ctx, p.Path, patch)
	logf("commit message: %s", snippet(msg, 120))

	setPhase(StepCommit)
	if _, err := a.run(ctx, gitStageAll(p.Path, timeout)); err != nil {
		return "", stepError(StepStage, p.Path, err)
	}
	if _, err := a.run(ctx, gitCommit(p.Path, WithTrailers(msg, t), timeout)); err != nil {
		return "", stepError(StepCommit, p.Path, err)
	}

	if !a.cfg.PushEnabled() {
		logf("push disabled; leaving commit local")
		return msg, nil
	}
	setPhase(StepPush)
	if _, err := a.run(ctx, gitPush(p.Path, a.cfg.Remote, a.cfg.Branch, timeout)); err != nil {
		return "", stepError(StepPush, p.Path, err)
	}
	return msg, nil
}

// commitMessage asks the generator for a message and falls back to the
// default on any failure.
func (a *Applier) commitMessage(ctx context.Context, path, diff string) string {
	if a.msgs == nil {
		return DefaultCommitMessage
	}
	gen, err := a.msgs.GenerateCommitMessage(ctx, path, diff)
	if err != nil {
		logf("commit message generation failed, using default: %v", err)
		return DefaultCommitMessage
	}
	return NormalizeCommitMessage(gen.Text)
}
