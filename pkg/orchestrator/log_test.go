// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLog tees log output to a temp file for the duration of fn and
// returns the lines written. Callers must not run in parallel.
func captureLog(t *testing.T, fn func()) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, logOut.open(path))
	fn()
	logOut.close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestLogTags_Prefix(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		tags logTags
		want string
	}{
		{"none", logTags{}, "[2026-03-01T02:00:00Z]"},
		{"project", logTags{project: "web"}, "[2026-03-01T02:00:00Z] [web]"},
		{"phase", logTags{phase: "patch", since: now.Add(-3 * time.Minute)}, "[2026-03-01T02:00:00Z] [patch +3m0s]"},
		{"both", logTags{project: "web", phase: "apply", since: now.Add(-2 * time.Second)}, "[2026-03-01T02:00:00Z] [web] [apply +2s]"},
	}
	for _, tc := range tests {
		tc := tc // per-iteration copy for Go 1.21 loop semantics
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.tags.prefix(now))
		})
	}
}

func TestLogf_ProjectAndPhaseTags(t *testing.T) {
	// Not parallel: mutates the package log tags and output.
	lines := captureLog(t, func() {
		setProject("web")
		setPhase("apply")
		logf("hello %d", 1)
		clearPhase()
		clearProject()
		logf("untagged")
	})

	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "] [web] [apply +")
	assert.True(t, strings.HasSuffix(lines[0], " hello 1"))
	assert.NotContains(t, lines[1], "[web]")
	assert.True(t, strings.HasSuffix(lines[1], " untagged"))
}

func TestLogUntagged_IgnoresSchedulerTags(t *testing.T) {
	// Not parallel: mutates the package log tags and output.
	// is-failed exits 0, so the unit is reported as failed.
	fr := &fakeRunner{}
	m := NewSystemdMonitor(SystemdConfig{Units: []string{"bot.service"}}, nil, NewMemStore())
	m.run = fr.run

	lines := captureLog(t, func() {
		setProject("web")
		setPhase("patch")
		defer clearProject()
		defer clearPhase()
		require.NoError(t, m.Poll(context.Background()))
		Logf("api: GET /healthz 200")
	})

	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "monitor: failed units: [bot.service]")
	for _, line := range lines {
		assert.NotContains(t, line, "[web]")
		assert.NotContains(t, line, "[patch +")
	}
}
