// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// schedulerHarness wires a Scheduler to in-memory fakes. Git and
// systemctl go through one fakeRunner so call order is observable.
type schedulerHarness struct {
	s      *Scheduler
	store  *MemStore
	runner *fakeRunner
	gen    *fakeGenerator
}

func newHarness(t *testing.T, paths []string, gen *fakeGenerator, opts ...Option) *schedulerHarness {
	t.Helper()
	store := NewMemStore()
	fr := &fakeRunner{}
	applier := NewApplier(GitConfig{Remote: "origin"}, gen)
	applier.run = fr.run
	restarter := NewSystemdRestarter(SystemdConfig{})
	restarter.run = fr.run

	projects := make([]Project, len(paths))
	for i, p := range paths {
		projects[i] = Project{Path: p}
	}
	ids := 0
	opts = append([]Option{WithRunIDs(func() string {
		ids++
		return fmt.Sprintf("run-%d", ids)
	})}, opts...)
	s := NewScheduler(SchedulerConfig{IntervalSec: 3600}, projects, store, gen, applier, restarter, opts...)
	return &schedulerHarness{s: s, store: store, runner: fr, gen: gen}
}

func (h *schedulerHarness) get(t *testing.T, key string) string {
	t.Helper()
	v, _, err := h.store.Get(key)
	require.NoError(t, err)
	return v
}

func TestRunOnce_FullPipeline(t *testing.T) {
	t.Parallel()
	dir, head := initRepo(t)
	gen := &fakeGenerator{summary: "a readme", patch: "Here you go:\n" + samplePatch, message: "fix: greet"}
	h := newHarness(t, []string{dir}, gen)

	require.NoError(t, h.s.RunOnce(context.Background()))

	assert.Equal(t, "a readme", h.get(t, SummaryKey(dir)))
	assert.Equal(t, head.String(), h.get(t, FingerprintKey(dir)))
	assert.Equal(t, samplePatch, h.get(t, PatchKey(dir)))
	assert.JSONEq(t, `["fix: greet"]`, h.get(t, CommitsKey(dir)))
	assert.Equal(t, string(OutcomeRestarted), h.get(t, OutcomeKey(dir)))
	assert.Equal(t,
		[]string{"git apply", "git add", "git commit", "git push", "systemctl restart"},
		h.runner.verbs())

	run, err := ReadRunRecord(h.store)
	require.NoError(t, err)
	assert.Equal(t, RunIdle, run.Status)
	assert.Empty(t, run.CurrentProject)
	assert.Equal(t, "run-1", run.ID)
	require.NotNil(t, run.StartedAt)
	require.NotNil(t, run.FinishedAt)
}

func TestRunOnce_IdempotentWhenUnchanged(t *testing.T) {
	t.Parallel()
	dir, _ := initRepo(t)
	gen := &fakeGenerator{summary: "s", patch: samplePatch, message: "fix: x"}
	h := newHarness(t, []string{dir}, gen)

	require.NoError(t, h.s.RunOnce(context.Background()))
	fp := h.get(t, FingerprintKey(dir))
	summary := h.get(t, SummaryKey(dir))
	calls := len(h.runner.verbs())

	require.NoError(t, h.s.RunOnce(context.Background()))
	assert.Equal(t, 1, gen.summaryCalls(), "second pass must not call the agent")
	assert.Len(t, gen.patched, 1)
	assert.Equal(t, fp, h.get(t, FingerprintKey(dir)))
	assert.Equal(t, summary, h.get(t, SummaryKey(dir)))
	assert.Len(t, h.runner.verbs(), calls, "second pass must not run subprocesses")
	assert.Equal(t, string(OutcomeSkippedUnchanged), h.get(t, OutcomeKey(dir)))
}

func TestRunOnce_P1UnchangedP2Changed(t *testing.T) {
	t.Parallel()
	p1, p1Head := initRepo(t)
	p2, _ := initRepo(t)
	fenced := "```\n--- a/x\n+++ b/x\n@@ -1 +1 @@\n-a\n+b\n```"
	gen := &fakeGenerator{summary: "s", patch: fenced, message: "fix: x"}
	h := newHarness(t, []string{p1, p2}, gen)
	require.NoError(t, h.store.Insert(FingerprintKey(p1), p1Head.String()))
	require.NoError(t, h.store.Insert(CommitsKey(p2), `["earlier"]`))

	require.NoError(t, h.s.RunOnce(context.Background()))

	assert.Equal(t, []string{p2}, gen.summarized, "p1 must not reach the agent")
	for _, c := range h.runner.calls {
		assert.NotEqual(t, p1, c.dir, "p1 ran %s", c)
	}
	assert.Equal(t, "--- a/x\n+++ b/x\n@@ -1 +1 @@\n-a\n+b\n", h.get(t, PatchKey(p2)))
	assert.Equal(t,
		[]string{"git apply", "git add", "git commit", "git push", "systemctl restart"},
		h.runner.verbs())
	assert.JSONEq(t, `["earlier","fix: x"]`, h.get(t, CommitsKey(p2)))
	assert.Equal(t, string(OutcomeSkippedUnchanged), h.get(t, OutcomeKey(p1)))
}

func TestRunOnce_FailureIsolation(t *testing.T) {
	t.Parallel()
	a, _ := initRepo(t)
	b, _ := initRepo(t)
	gen := &fakeGenerator{summary: "s", patch: samplePatch, message: "fix: x", failSummary: map[string]bool{a: true}}
	h := newHarness(t, []string{a, b}, gen)

	require.NoError(t, h.s.RunOnce(context.Background()))

	assert.Equal(t, string(OutcomeSummarizeFailed), h.get(t, OutcomeKey(a)))
	assert.Equal(t, string(OutcomeRestarted), h.get(t, OutcomeKey(b)))
	_, ok, _ := h.store.Get(FingerprintKey(a))
	assert.False(t, ok, "failed summary must not record a fingerprint")
	assert.JSONEq(t, `["fix: x"]`, h.get(t, CommitsKey(b)))
}

func TestRunOnce_PanicIsContained(t *testing.T) {
	t.Parallel()
	a, _ := initRepo(t)
	b, _ := initRepo(t)
	gen := &fakeGenerator{summary: "s", patch: samplePatch, message: "fix: x", panicOnPath: a}
	h := newHarness(t, []string{a, b}, gen)

	require.NoError(t, h.s.RunOnce(context.Background()))
	assert.Equal(t, string(OutcomePanicked), h.get(t, OutcomeKey(a)))
	assert.Equal(t, string(OutcomeRestarted), h.get(t, OutcomeKey(b)))
	assert.Equal(t, RunIdle, h.get(t, KeyRunStatus))
}

func TestRunOnce_Outcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		gen     *fakeGenerator
		handler func(execSpec) (ExecResult, error)
		want    Outcome
		patch   bool
		commits bool
	}{
		{"patch generation fails", &fakeGenerator{patchErr: errors.New("x")}, nil, OutcomeGenerateFailed, false, false},
		{"no diff", &fakeGenerator{patch: "Looks good to me."}, nil, OutcomeNoChange, false, false},
		{"apply fails", &fakeGenerator{patch: samplePatch}, failOn("apply", 1, "does not apply"), OutcomeApplyFailed, true, false},
		{"commit fails", &fakeGenerator{patch: samplePatch}, failOn("commit", 1, "nothing to commit"), OutcomeCommitFailed, true, false},
		{"push fails", &fakeGenerator{patch: samplePatch}, failOn("push", 128, "rejected"), OutcomePushFailed, true, false},
		{"restart fails", &fakeGenerator{patch: samplePatch}, failOn("restart", 5, "no unit"), OutcomeRestartFailed, true, true},
	}
	for _, tc := range tests {
		tc := tc // per-iteration copy for Go 1.21 loop semantics
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir, _ := initRepo(t)
			h := newHarness(t, []string{dir}, tc.gen)
			h.runner.handler = tc.handler

			require.NoError(t, h.s.RunOnce(context.Background()))
			assert.Equal(t, string(tc.want), h.get(t, OutcomeKey(dir)))
			_, hasPatch, _ := h.store.Get(PatchKey(dir))
			assert.Equal(t, tc.patch, hasPatch, "patch stored")
			_, hasCommits, _ := h.store.Get(CommitsKey(dir))
			assert.Equal(t, tc.commits, hasCommits, "commit log written")
		})
	}
}

func TestRunOnce_PushFailureSkipsRestart(t *testing.T) {
	t.Parallel()
	dir, _ := initRepo(t)
	h := newHarness(t, []string{dir}, &fakeGenerator{patch: samplePatch})
	h.runner.handler = failOn("push", 1, "rejected")

	require.NoError(t, h.s.RunOnce(context.Background()))
	assert.Equal(t, []string{"git apply", "git add", "git commit", "git push"}, h.runner.verbs())
}

func TestRunOnce_MissingProjectSkipped(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "gone")
	gen := &fakeGenerator{}
	h := newHarness(t, []string{missing}, gen)

	require.NoError(t, h.s.RunOnce(context.Background()))
	assert.Equal(t, string(OutcomeSkippedMissing), h.get(t, OutcomeKey(missing)))
	assert.Zero(t, gen.summaryCalls())
}

func TestRunOnce_SummaryFile(t *testing.T) {
	t.Parallel()
	dir, _ := initRepo(t)
	gen := &fakeGenerator{summary: "project summary"}
	h := newHarness(t, []string{dir}, gen)
	h.s.cfg.SummaryFile = "codex.md"

	require.NoError(t, h.s.RunOnce(context.Background()))
	data, err := os.ReadFile(filepath.Join(dir, "codex.md"))
	require.NoError(t, err)
	assert.Equal(t, "project summary", string(data))
}

func TestRunOnce_CancelledBetweenProjects(t *testing.T) {
	t.Parallel()
	a, _ := initRepo(t)
	b, _ := initRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &fakeGenerator{patch: samplePatch, onSummarize: func(string) { cancel() }}
	h := newHarness(t, []string{a, b}, gen)

	err := h.s.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{a}, gen.summarized)
	// The in-flight project still finished its push and restart.
	assert.Equal(t, string(OutcomeRestarted), h.get(t, OutcomeKey(a)))
	assert.Equal(t, RunIdle, h.get(t, KeyRunStatus))
	assert.Empty(t, h.get(t, KeyCurrentProject))
}

// failingStore fails every Insert of one key.
type failingStore struct {
	*MemStore
	key string
}

func (f failingStore) Insert(key, value string) error {
	if key == f.key {
		return errors.New("disk full")
	}
	return f.MemStore.Insert(key, value)
}

func TestRunOnce_StoreFailureIsPipelineError(t *testing.T) {
	t.Parallel()
	store := failingStore{MemStore: NewMemStore(), key: KeyRunStatus}
	gen := &fakeGenerator{}
	s := NewScheduler(SchedulerConfig{}, []Project{{Path: t.TempDir()}}, store, gen, nil, nil)

	err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Zero(t, gen.summaryCalls())
}

func TestRunOnce_SummaryWriteFailureLeavesFingerprintUnset(t *testing.T) {
	t.Parallel()
	dir, _ := initRepo(t)
	store := failingStore{MemStore: NewMemStore(), key: SummaryKey(dir)}
	gen := &fakeGenerator{summary: "s", patch: samplePatch}
	s := NewScheduler(SchedulerConfig{}, []Project{{Path: dir}}, store, gen, nil, nil)

	require.NoError(t, s.RunOnce(context.Background()))
	_, ok, _ := store.Get(FingerprintKey(dir))
	assert.False(t, ok, "fingerprint recorded without a stored summary")
	v, _, _ := store.Get(OutcomeKey(dir))
	assert.Equal(t, string(OutcomeSummarizeFailed), v)
	assert.Empty(t, gen.patched)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 2, gen.summaryCalls(), "next pass retries the summary")
}

func TestRunOnce_FailedStepKeepsCachedArtifacts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		gen  *fakeGenerator
		want Outcome
	}{
		{"patch generation fails", &fakeGenerator{summary: "new", patchErr: errors.New("agent crashed")}, OutcomeGenerateFailed},
		{"patch is not a diff", &fakeGenerator{summary: "new", patch: "Looks good to me."}, OutcomeNoChange},
	}
	for _, tc := range tests {
		tc := tc // per-iteration copy for Go 1.21 loop semantics
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir, _ := initRepo(t)
			h := newHarness(t, []string{dir}, tc.gen)
			require.NoError(t, h.store.Insert(PatchKey(dir), "old patch\n"))

			require.NoError(t, h.s.RunOnce(context.Background()))
			assert.Equal(t, string(tc.want), h.get(t, OutcomeKey(dir)))
			assert.Equal(t, "old patch\n", h.get(t, PatchKey(dir)))
			assert.Empty(t, h.runner.verbs(), "no git step without a new patch")
		})
	}

	t.Run("summarize fails", func(t *testing.T) {
		t.Parallel()
		dir, _ := initRepo(t)
		gen := &fakeGenerator{failSummary: map[string]bool{dir: true}}
		h := newHarness(t, []string{dir}, gen)
		require.NoError(t, h.store.Insert(SummaryKey(dir), "old summary"))

		require.NoError(t, h.s.RunOnce(context.Background()))
		assert.Equal(t, "old summary", h.get(t, SummaryKey(dir)))
	})
}

func TestRunOnce_MutualExclusion(t *testing.T) {
	t.Parallel()
	// A plain directory has no fingerprint, so every pass reaches the agent.
	dir := t.TempDir()
	var active, maxActive atomic.Int32
	gen := &fakeGenerator{onSummarize: func(string) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
	}}
	h := newHarness(t, []string{dir}, gen)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.s.RunOnce(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, gen.summaryCalls())
	assert.Equal(t, int32(1), maxActive.Load(), "passes overlapped")
}

func TestTrigger_Coalesces(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, &fakeGenerator{})
	assert.True(t, h.s.Trigger())
	assert.False(t, h.s.Trigger(), "second request while one is pending")
}

func TestRun_StartupPassAndManualTrigger(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	gen := &fakeGenerator{}
	h := newHarness(t, []string{dir}, gen)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	require.Eventually(t, func() bool { return gen.summaryCalls() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, h.s.Trigger, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return gen.summaryCalls() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_DisabledServesManualOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	gen := &fakeGenerator{}
	h := newHarness(t, []string{dir}, gen)
	h.s.SetEnabled(false)
	assert.False(t, h.s.IsEnabled())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, gen.summaryCalls(), "disabled scheduler ran a startup pass")

	require.True(t, h.s.Trigger())
	require.Eventually(t, func() bool { return gen.summaryCalls() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRunScheduled_DisabledAfterLock(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []string{t.TempDir()}, &fakeGenerator{})
	h.s.SetEnabled(false)
	assert.ErrorIs(t, h.s.runScheduled(context.Background()), ErrDisabled)
	assert.Zero(t, h.store.Writes())
}
