// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrDisabled is returned by timer-driven passes when the scheduler has
// been disabled.
var ErrDisabled = errors.New("scheduler disabled")

// Project is one maintained source tree.
type Project struct {
	Path       string
	UnitSuffix string
}

// Name returns the last path segment.
func (p Project) Name() string { return filepath.Base(filepath.Clean(p.Path)) }

// Unit returns the systemd unit restarted after a push.
func (p Project) Unit() string { return p.Name() + orDefault(p.UnitSuffix, ".service") }

// ProjectsFromConfig returns the configured projects in order.
func ProjectsFromConfig(cfg Config) []Project {
	projects := make([]Project, 0, len(cfg.Scheduler.Projects))
	for _, path := range cfg.Scheduler.Projects {
		projects = append(projects, Project{Path: path, UnitSuffix: cfg.Systemd.UnitSuffix})
	}
	return projects
}

// Run states stored under KeyRunStatus.
const (
	RunIdle    = "idle"
	RunRunning = "running"
)

// Outcome is the result of one project visit, stored under OutcomeKey.
type Outcome string

const (
	OutcomeSkippedMissing   Outcome = "skipped_missing"
	OutcomeSkippedUnchanged Outcome = "skipped_unchanged"
	OutcomeSummarizeFailed  Outcome = "summarize_failed"
	OutcomeGenerateFailed   Outcome = "generate_failed"
	OutcomeNoChange         Outcome = "no_change"
	OutcomeApplyFailed      Outcome = "apply_failed"
	OutcomeCommitFailed     Outcome = "commit_failed"
	OutcomePushFailed       Outcome = "push_failed"
	OutcomePushed           Outcome = "pushed"
	OutcomeRestartFailed    Outcome = "restart_failed"
	OutcomeRestarted        Outcome = "restarted"
	OutcomePanicked         Outcome = "panicked"
)

// PatchApplier applies a sanitized patch and returns the commit message
// that was pushed. *Applier is the production implementation.
type PatchApplier interface {
	Apply(ctx context.Context, p Project, patch string, t Trailers) (string, error)
}

// Scheduler runs maintenance passes over the configured projects. At
// most one pass runs at a time.
type Scheduler struct {
	cfg       SchedulerConfig
	projects  []Project
	store     Store
	oracle    *ChangeOracle
	gen       Generator
	applier   PatchApplier
	restarter Restarter
	archive   *PatchArchive

	sem      *semaphore.Weighted
	requests chan struct{}
	enabled  atomic.Bool

	now   func() time.Time
	newID func() string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithArchive uploads every stored patch to a.
func WithArchive(a *PatchArchive) Option {
	return func(s *Scheduler) { s.archive = a }
}

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRunIDs replaces the run ID generator.
func WithRunIDs(newID func() string) Option {
	return func(s *Scheduler) { s.newID = newID }
}

// NewScheduler returns an enabled scheduler. restarter may be nil, in
// which case a successful push ends the visit.
func NewScheduler(cfg SchedulerConfig, projects []Project, store Store, gen Generator,
	applier PatchApplier, restarter Restarter, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		projects:  projects,
		store:     store,
		oracle:    NewChangeOracle(store),
		gen:       gen,
		applier:   applier,
		restarter: restarter,
		sem:       semaphore.NewWeighted(1),
		requests:  make(chan struct{}, 1),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	s.enabled.Store(true)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Projects returns the projects visited on every pass.
func (s *Scheduler) Projects() []Project { return s.projects }

// IsEnabled reports whether the periodic timer may start passes.
func (s *Scheduler) IsEnabled() bool { return s.enabled.Load() }

// SetEnabled turns the periodic timer on or off. Manual runs are not
// affected.
func (s *Scheduler) SetEnabled(v bool) { s.enabled.Store(v) }

// Trigger queues a manual pass without waiting for it. It returns false
// when a request is already pending; pending requests coalesce.
func (s *Scheduler) Trigger() bool {
	select {
	case s.requests <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce runs one pass over all projects, waiting for any pass already
// in flight. Per-project failures are recorded and never returned. The
// error reports a status store failure on the run record or a context
// cancelled between projects.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return s.runLocked(ctx)
}

// runScheduled is RunOnce for the timer: it re-checks the enabled flag
// after taking the lock.
func (s *Scheduler) runScheduled(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	if !s.IsEnabled() {
		return ErrDisabled
	}
	return s.runLocked(ctx)
}

// Run is the daemon loop. It runs a pass at start, then one per interval
// and one per manual request, until ctx is done. Once a tick finds the
// scheduler disabled the timer stops; manual requests are still served.
func (s *Scheduler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	stopTimer := func() {}
	if err := s.runScheduled(ctx); errors.Is(err, ErrDisabled) {
		logf("scheduler: timer disabled; serving manual requests only")
	} else {
		s.logRunError("startup", err)
		interval := s.cfg.Interval()
		if interval <= 0 {
			interval = 24 * time.Hour
		}
		ticker := time.NewTicker(interval)
		stopTimer = ticker.Stop
		tick = ticker.C
		logf("scheduler: next pass in %s", interval)
	}
	defer func() { stopTimer() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := s.runScheduled(ctx); errors.Is(err, ErrDisabled) {
				logf("scheduler: disabled; stopping timer")
				stopTimer()
				tick = nil
			} else {
				s.logRunError("timer", err)
			}
		case <-s.requests:
			s.logRunError("manual", s.RunOnce(ctx))
		}
	}
}

func (s *Scheduler) logRunError(trigger string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	logf("scheduler: %s pass failed: %v", trigger, err)
}

// runLocked performs the pass. The caller holds the semaphore.
func (s *Scheduler) runLocked(ctx context.Context) (err error) {
	runID := s.newID()
	start := s.now()
	logf("scheduler: pass %s starting over %d project(s)", runID, len(s.projects))
	if err := s.beginRun(runID, start); err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	defer func() {
		if ferr := s.finishRun(); ferr != nil {
			err = errors.Join(err, fmt.Errorf("recording run end: %w", ferr))
		}
		logf("scheduler: pass %s finished in %s", runID, s.now().Sub(start).Round(time.Second))
	}()

	// Subprocesses ignore cancellation. ctx is checked between projects.
	work := context.WithoutCancel(ctx)
	for _, p := range s.projects {
		if err := ctx.Err(); err != nil {
			logf("scheduler: pass %s cancelled before %s", runID, p.Path)
			return err
		}
		if err := s.store.Insert(KeyCurrentProject, p.Path); err != nil {
			return fmt.Errorf("recording current project: %w", err)
		}
		out := s.visit(work, runID, p)
		if err := s.store.Insert(OutcomeKey(p.Path), string(out)); err != nil {
			logf("scheduler: recording outcome for %s: %v", p.Path, err)
		}
	}
	return nil
}

func (s *Scheduler) beginRun(runID string, start time.Time) error {
	return errors.Join(
		s.store.Insert(KeyRunID, runID),
		s.store.Insert(KeyRunStartedAt, start.UTC().Format(time.RFC3339)),
		s.store.Insert(KeyRunFinishedAt, ""),
		s.store.Insert(KeyRunStatus, RunRunning),
	)
}

func (s *Scheduler) finishRun() error {
	return errors.Join(
		s.store.Insert(KeyCurrentProject, ""),
		s.store.Insert(KeyRunFinishedAt, s.now().UTC().Format(time.RFC3339)),
		s.store.Insert(KeyRunStatus, RunIdle),
		s.store.Flush(),
	)
}

// visit runs the pipeline for one project. Every failure ends the visit
// and is reported through the returned outcome.
func (s *Scheduler) visit(ctx context.Context, runID string, p Project) (out Outcome) {
	setProject(p.Name())
	defer clearProject()
	defer clearPhase()
	defer func() {
		if r := recover(); r != nil {
			logf("panic while maintaining %s: %v\n%s", p.Path, r, debug.Stack())
			out = OutcomePanicked
		}
	}()

	if _, err := os.Stat(p.Path); err != nil {
		logf("skipping: %v", err)
		return OutcomeSkippedMissing
	}

	skip, fingerprint := s.oracle.ShouldSkip(p.Path)
	if skip {
		logf("unchanged since %s; skipping", shortHash(fingerprint))
		return OutcomeSkippedUnchanged
	}

	setPhase("summarize")
	summary, err := s.gen.Summarize(ctx, p.Path)
	if err != nil {
		logf("summarize failed: %v", err)
		return OutcomeSummarizeFailed
	}
	if err := s.store.Insert(SummaryKey(p.Path), summary.Text); err != nil {
		logf("storing summary: %v", err)
		return OutcomeSummarizeFailed
	}
	s.writeSummaryFile(p, summary.Text)
	if err := s.oracle.Record(p.Path, fingerprint); err != nil {
		logf("%v", err)
	}

	setPhase("patch")
	gen, err := s.gen.GeneratePatch(ctx, p.Path)
	if err != nil {
		logf("patch generation failed: %v", err)
		return OutcomeGenerateFailed
	}
	patch := SanitizePatch(gen.Text)
	if patch == "" {
		logf("no diff in agent output (%s); nothing to change", gen.Kind)
		return OutcomeNoChange
	}
	if err := s.store.Insert(PatchKey(p.Path), patch); err != nil {
		logf("storing patch: %v", err)
	}
	if err := s.archive.Put(ctx, p, runID, patch); err != nil {
		logf("%v", err)
	}

	msg, err := s.applier.Apply(ctx, p, patch, Trailers{RunID: runID, Fingerprint: fingerprint})
	if err != nil {
		logf("%v", err)
		return outcomeForApplyError(err)
	}
	if err := appendCommitLog(s.store, p.Path, msg); err != nil {
		logf("storing commit log: %v", err)
	}

	if s.restarter == nil {
		return OutcomePushed
	}
	setPhase("restart")
	if err := s.restarter.Restart(ctx, p); err != nil {
		logf("restart failed (ignored): %v", err)
		return OutcomeRestartFailed
	}
	return OutcomeRestarted
}

func outcomeForApplyError(err error) Outcome {
	var se *StepError
	if !errors.As(err, &se) {
		return OutcomeApplyFailed
	}
	switch se.Step {
	case StepStage, StepCommit:
		return OutcomeCommitFailed
	case StepPush:
		return OutcomePushFailed
	default:
		return OutcomeApplyFailed
	}
}

// writeSummaryFile writes the summary into the project when a summary
// file is configured. Failures are logged only.
func (s *Scheduler) writeSummaryFile(p Project, text string) {
	if s.cfg.SummaryFile == "" {
		return
	}
	path := filepath.Join(p.Path, s.cfg.SummaryFile)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		logf("writing summary file: %v", err)
	}
}
