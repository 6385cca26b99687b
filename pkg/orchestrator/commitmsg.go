// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"strings"

	"github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"
)

// DefaultCommitMessage is used when the agent cannot produce one.
const DefaultCommitMessage = "chore: automated code quality improvements"

// maxSubjectLen bounds the first line of a commit message.
const maxSubjectLen = 72

// Trailer keys written on every maintenance commit.
const (
	trailerMaintainedBy = "Maintained-By"
	trailerRun          = "Maintenance-Run"
	trailerFingerprint  = "Maintenance-Fingerprint"
	maintainerName      = "pimainteno"
)

// Trailers identify the pass that produced a commit.
type Trailers struct {
	RunID       string
	Fingerprint string
}

// isConventionalSubject reports whether subject parses as a Conventional
// Commits header with one of the standard types.
func isConventionalSubject(subject string) bool {
	m := parser.NewMachine(conventionalcommits.WithTypes(conventionalcommits.TypesConventional))
	msg, err := m.Parse([]byte(subject))
	return err == nil && msg != nil && msg.Ok()
}

// NormalizeCommitMessage turns agent text into a commit message. Code
// fences are removed, a subject that is not a conventional commit gets a
// "chore: " prefix, and the subject is cut to 72 characters. The body is
// kept as written. Empty input yields DefaultCommitMessage.
func NormalizeCommitMessage(raw string) string {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(raw, "\r", ""), "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		lines = append(lines, l)
	}
	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return DefaultCommitMessage
	}

	subject, body, _ := strings.Cut(text, "\n")
	subject = strings.TrimSpace(subject)
	if !isConventionalSubject(subject) {
		subject = "chore: " + subject
	}
	if len(subject) > maxSubjectLen {
		subject = strings.TrimSpace(truncatePayload(subject, maxSubjectLen))
	}

	if body = strings.TrimSpace(body); body != "" {
		return subject + "\n\n" + body
	}
	return subject
}

// WithTrailers appends the maintenance trailers to msg. Empty values are
// omitted.
func WithTrailers(msg string, t Trailers) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(msg, "\n"))
	b.WriteString("\n\n")
	b.WriteString(trailerMaintainedBy + ": " + maintainerName)
	if t.RunID != "" {
		b.WriteString("\n" + trailerRun + ": " + t.RunID)
	}
	if t.Fingerprint != "" {
		b.WriteString("\n" + trailerFingerprint + ": " + t.Fingerprint)
	}
	b.WriteString("\n")
	return b.String()
}
