// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// initRepo creates a repository in a fresh temp dir with one commit and
// returns its path and the commit hash.
func initRepo(t *testing.T) (string, plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()
	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	return dir, commitFile(t, dir, "README.md", "hello\n", "initial commit")
}

// commitFile writes name in the repository at dir and commits it.
func commitFile(t *testing.T, dir, name, content, msg string) plumbing.Hash {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return h
}

// fakeRunner records every command and answers from a handler keyed by
// the first argument (e.g. "apply", "push", "restart").
type fakeRunner struct {
	mu      sync.Mutex
	calls   []execSpec
	handler func(spec execSpec) (ExecResult, error)
}

func (f *fakeRunner) run(_ context.Context, spec execSpec) (ExecResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(spec)
	}
	return ExecResult{}, nil
}

// verbs returns "name arg0" for each recorded call.
func (f *fakeRunner) verbs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		v := c.name
		if len(c.args) > 0 {
			v += " " + c.args[0]
		}
		out[i] = v
	}
	return out
}

// failOn returns a handler failing the command whose args contain verb.
func failOn(verb string, code int, stderr string) func(execSpec) (ExecResult, error) {
	return func(spec execSpec) (ExecResult, error) {
		for _, a := range spec.args {
			if a == verb {
				return ExecResult{}, &ExitError{Op: spec.String(), Code: code, Stderr: stderr}
			}
		}
		return ExecResult{}, nil
	}
}

// fakeGenerator returns canned generations and counts calls per step.
type fakeGenerator struct {
	mu          sync.Mutex
	summary     string
	summaryErr  error
	patch       string
	patchErr    error
	message     string
	messageErr  error
	summarized  []string
	patched     []string
	panicOnPath string
	failSummary map[string]bool
	onSummarize func(path string)
}

func (g *fakeGenerator) Summarize(_ context.Context, path string) (Generation, error) {
	g.mu.Lock()
	g.summarized = append(g.summarized, path)
	g.mu.Unlock()
	if g.onSummarize != nil {
		g.onSummarize(path)
	}
	if g.panicOnPath != "" && path == g.panicOnPath {
		panic("summarizer exploded")
	}
	if g.failSummary[path] {
		return Generation{}, errors.New("agent failed for " + path)
	}
	if g.summaryErr != nil {
		return Generation{}, g.summaryErr
	}
	return Generation{Text: g.summary, Kind: StructuredText}, nil
}

func (g *fakeGenerator) GeneratePatch(_ context.Context, path string) (Generation, error) {
	g.mu.Lock()
	g.patched = append(g.patched, path)
	g.mu.Unlock()
	if g.patchErr != nil {
		return Generation{}, g.patchErr
	}
	return Generation{Text: g.patch, Kind: StructuredText}, nil
}

func (g *fakeGenerator) GenerateCommitMessage(_ context.Context, _, _ string) (Generation, error) {
	if g.messageErr != nil {
		return Generation{}, g.messageErr
	}
	return Generation{Text: g.message, Kind: StructuredText}, nil
}

func (g *fakeGenerator) summaryCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.summarized)
}

// samplePatch is a minimal diff against the README created by initRepo.
const samplePatch = "diff --git a/README.md b/README.md\n" +
	"--- a/README.md\n" +
	"+++ b/README.md\n" +
	"@@ -1 +1 @@\n" +
	"-hello\n" +
	"+hello, world\n"

// transcript renders assistant messages as agent JSON lines.
func transcript(texts ...string) string {
	var b strings.Builder
	b.WriteString(`{"role":"system","content":[{"type":"input_text","text":"ignored"}]}` + "\n")
	for _, txt := range texts {
		b.WriteString(`{"role":"assistant","content":[{"type":"output_text","text":` + quoteJSON(txt) + `}]}` + "\n")
	}
	return b.String()
}

func quoteJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
