// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"time"
)

// Binary names.
const (
	binGit       = "git"
	binCodex     = "codex"
	binSystemctl = "systemctl"
)

// orDefault returns val if non-empty, otherwise fallback.
func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

// Git helpers. Each returns the execSpec for a command run inside the
// project's working tree; callers pass it to their commandRunner.

func gitApply(dir, patch string, timeout time.Duration) execSpec {
	return execSpec{
		name:    binGit,
		args:    []string{"apply", "--whitespace=fix", "-"},
		dir:     dir,
		stdin:   patch,
		timeout: timeout,
	}
}

func gitStageAll(dir string, timeout time.Duration) execSpec {
	return execSpec{name: binGit, args: []string{"add", "-A"}, dir: dir, timeout: timeout}
}

func gitCommit(dir, msg string, timeout time.Duration) execSpec {
	return execSpec{name: binGit, args: []string{"commit", "--no-verify", "-m", msg}, dir: dir, timeout: timeout}
}

// gitPush pushes to remote. With an empty branch git pushes the current
// branch according to push.default.
func gitPush(dir, remote, branch string, timeout time.Duration) execSpec {
	args := []string{"push", orDefault(remote, "origin")}
	if branch != "" {
		args = append(args, branch)
	}
	return execSpec{name: binGit, args: args, dir: dir, timeout: timeout}
}

// Systemd helpers.

func systemctl(scope []string, timeout time.Duration, args ...string) execSpec {
	all := make([]string, 0, len(scope)+len(args))
	all = append(all, scope...)
	all = append(all, args...)
	return execSpec{name: binSystemctl, args: all, timeout: timeout}
}
