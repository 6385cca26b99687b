// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// logTags label a log line with the project the scheduler is visiting
// and the step it is in.
type logTags struct {
	project string
	phase   string
	since   time.Time
}

// prefix renders "[ts]", then "[project]" and "[phase +elapsed]" when set.
func (t logTags) prefix(now time.Time) string {
	var b strings.Builder
	b.WriteString("[" + now.Format(time.RFC3339) + "]")
	if t.project != "" {
		fmt.Fprintf(&b, " [%s]", t.project)
	}
	if t.phase != "" {
		fmt.Fprintf(&b, " [%s +%s]", t.phase, now.Sub(t.since).Round(time.Second))
	}
	return b.String()
}

var (
	tagsMu sync.RWMutex
	tags   logTags
)

func setProject(name string) {
	tagsMu.Lock()
	tags.project = name
	tagsMu.Unlock()
}

func clearProject() { setProject("") }

func setPhase(name string) {
	tagsMu.Lock()
	tags.phase, tags.since = name, time.Now()
	tagsMu.Unlock()
}

func clearPhase() {
	tagsMu.Lock()
	tags.phase, tags.since = "", time.Time{}
	tagsMu.Unlock()
}

func currentTags() logTags {
	tagsMu.RLock()
	defer tagsMu.RUnlock()
	return tags
}

// logOutput writes every line to stderr and, once opened, appends a
// copy to a file.
type logOutput struct {
	mu   sync.Mutex
	file io.WriteCloser
}

var logOut logOutput

func (l *logOutput) open(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	return nil
}

func (l *logOutput) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *logOutput) write(line string) {
	fmt.Fprint(os.Stderr, line)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		io.WriteString(l.file, line)
	}
}

func emit(t logTags, format string, args ...any) {
	logOut.write(t.prefix(time.Now()) + " " + fmt.Sprintf(format, args...) + "\n")
}

// logf tags the line with the current project and phase.
func logf(format string, args ...any) { emit(currentTags(), format, args...) }

// logUntagged is for goroutines that run beside the scheduler, such as
// the systemd monitor, whose lines must not carry the scheduler's tags.
func logUntagged(format string, args ...any) { emit(logTags{}, format, args...) }

// Logf writes an untagged line in the daemon format. The command and
// API packages log through it.
func Logf(format string, args ...any) { logUntagged(format, args...) }
