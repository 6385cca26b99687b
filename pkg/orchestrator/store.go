// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Store is the durable key/value map holding all externally observable
// state. Writes are independent key-level upserts.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Insert creates or replaces the value for key.
	Insert(key, value string) error
	// Flush makes prior writes durable.
	Flush() error
	Close() error
}

// Run-level keys.
const (
	KeyRunStatus      = "run:status"
	KeyRunID          = "run:id"
	KeyRunStartedAt   = "run:started_at"
	KeyRunFinishedAt  = "run:finished_at"
	KeyCurrentProject = "run:current_project"
)

// Systemd monitor keys.
const (
	KeySystemdStatus      = "systemd:status"
	KeySystemdLastChecked = "systemd:last_checked"
	KeySystemdFailures    = "systemd:failures"
)

// Per-project key prefixes. The full key is prefix + project path.
const (
	prefixFingerprint = "summary:"
	prefixSummaryText = "summary_text:"
	prefixPatch       = "patch:"
	prefixCommits     = "commits:"
	prefixOutcome     = "outcome:"
)

// maxCommitLog is the number of commit messages kept per project.
const maxCommitLog = 50

// FingerprintKey is the key holding the fingerprint recorded after the
// last successful summary of the project at path.
func FingerprintKey(path string) string { return prefixFingerprint + path }

// SummaryKey is the key holding the latest summary text.
func SummaryKey(path string) string { return prefixSummaryText + path }

// PatchKey is the key holding the latest sanitized patch.
func PatchKey(path string) string { return prefixPatch + path }

// CommitsKey is the key holding the JSON-encoded commit log.
func CommitsKey(path string) string { return prefixCommits + path }

// OutcomeKey is the key holding the last pipeline outcome.
func OutcomeKey(path string) string { return prefixOutcome + path }

// getOr returns the stored value or "" when the key is absent.
func getOr(s Store, key string) (string, error) {
	v, _, err := s.Get(key)
	return v, err
}

// readCommitLog decodes the commit log for path. A missing or corrupt
// entry reads as empty.
func readCommitLog(s Store, path string) ([]string, error) {
	raw, ok, err := s.Get(CommitsKey(path))
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var msgs []string
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		logf("readCommitLog: discarding corrupt log for %s: %v", path, err)
		return nil, nil
	}
	return msgs, nil
}

// appendCommitLog appends msg to the commit log for path, evicting the
// oldest entries beyond maxCommitLog.
func appendCommitLog(s Store, path, msg string) error {
	msgs, err := readCommitLog(s, path)
	if err != nil {
		return fmt.Errorf("reading commit log: %w", err)
	}
	msgs = append(msgs, msg)
	if len(msgs) > maxCommitLog {
		msgs = msgs[len(msgs)-maxCommitLog:]
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encoding commit log: %w", err)
	}
	return s.Insert(CommitsKey(path), string(data))
}

// MemStore is an in-memory Store. Flush is a no-op.
type MemStore struct {
	mu     sync.RWMutex
	data   map[string]string
	writes int
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: map[string]string{}}
}

func (m *MemStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemStore) Insert(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.writes++
	return nil
}

func (m *MemStore) Flush() error { return nil }
func (m *MemStore) Close() error { return nil }

// Writes returns the number of Insert calls so far.
func (m *MemStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
