// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Generator produces text from a project directory. CodexClient is the
// production implementation; tests substitute fakes.
type Generator interface {
	Summarize(ctx context.Context, path string) (Generation, error)
	GeneratePatch(ctx context.Context, path string) (Generation, error)
	GenerateCommitMessage(ctx context.Context, path, diff string) (Generation, error)
}

// CodexClient invokes the agent CLI in a project directory and extracts
// the assistant's reply from its transcript.
type CodexClient struct {
	cfg     LLMConfig
	prompts Prompts
	run     commandRunner
}

// NewCodexClient renders the prompts for cfg. The binary is not looked up
// until the first call.
func NewCodexClient(cfg LLMConfig) (*CodexClient, error) {
	prompts, err := LoadPrompts(cfg)
	if err != nil {
		return nil, err
	}
	return &CodexClient{cfg: cfg, prompts: prompts, run: runCommand}, nil
}

func (c *CodexClient) Summarize(ctx context.Context, path string) (Generation, error) {
	return c.invoke(ctx, "summarize", path, c.prompts.Summarize)
}

func (c *CodexClient) GeneratePatch(ctx context.Context, path string) (Generation, error) {
	return c.invoke(ctx, "patch", path, c.prompts.Patch)
}

// GenerateCommitMessage appends diff to the commit-message instruction,
// truncated to the configured payload limit.
func (c *CodexClient) GenerateCommitMessage(ctx context.Context, path, diff string) (Generation, error) {
	payload := truncatePayload(diff, c.cfg.MaxPayloadBytes)
	return c.invoke(ctx, "commit message", path, c.prompts.CommitMessage+"\n\n"+payload)
}

// args builds the argument list: configured args, the optional provider
// selector, then the instruction.
func (c *CodexClient) args(instruction string) []string {
	args := append([]string{}, c.cfg.Args...)
	if c.cfg.Provider != "" {
		args = append(args, "--provider", c.cfg.Provider)
	}
	return append(args, instruction)
}

func (c *CodexClient) invoke(ctx context.Context, what, path, instruction string) (Generation, error) {
	start := time.Now()
	logf("codex: %s starting in %s (max time %s)", what, path, c.cfg.Timeout())
	res, err := c.run(ctx, execSpec{
		name:     orDefault(c.cfg.Binary, binCodex),
		args:     c.args(instruction),
		dir:      path,
		timeout:  c.cfg.Timeout(),
		progress: newProgressWriter(start),
	})
	if err != nil {
		logf("codex: %s failed after %s: %v", what, time.Since(start).Round(time.Second), err)
		return Generation{}, fmt.Errorf("codex %s: %w", what, err)
	}
	gen, err := ParseTranscript(res.Stdout)
	if err != nil {
		return Generation{}, fmt.Errorf("codex %s: %w", what, err)
	}
	logf("codex: %s finished in %s (%d bytes, %s)", what, res.Duration.Round(time.Second), len(gen.Text), gen.Kind)
	return gen, nil
}

// truncatePayload cuts s to at most limit bytes on a rune boundary. A
// non-positive limit disables truncation.
func truncatePayload(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// progressWriter logs a concise one-line summary of each assistant
// message in the agent's JSON-lines transcript as it streams. It does
// not retain output; the runner captures stdout separately.
type progressWriter struct {
	start     time.Time
	lastEvent time.Time
	partial   []byte
	turn      int
}

func newProgressWriter(start time.Time) *progressWriter {
	return &progressWriter{start: start, lastEvent: start}
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	pw.partial = append(pw.partial, p...)
	for {
		idx := bytes.IndexByte(pw.partial, '\n')
		if idx < 0 {
			break
		}
		pw.logLine(pw.partial[:idx])
		pw.partial = pw.partial[idx+1:]
	}
	return len(p), nil
}

// logLine parses a single JSON line and logs assistant turns.
func (pw *progressWriter) logLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var rec transcriptLine
	if json.Unmarshal(line, &rec) != nil || rec.Role != "assistant" {
		return
	}
	now := time.Now()
	step := now.Sub(pw.lastEvent).Round(time.Second)
	total := now.Sub(pw.start).Round(time.Second)
	pw.lastEvent = now
	pw.turn++

	for _, item := range rec.Content {
		if item.Type == "output_text" && item.Text != "" {
			logf("[%s +%s] turn %d: %s", total, step, pw.turn, snippet(item.Text, 120))
			return
		}
	}
	logf("[%s +%s] turn %d", total, step, pw.turn)
}

// snippet returns the first n bytes of s on one line.
func snippet(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return truncatePayload(s, n) + "..."
	}
	return s
}
