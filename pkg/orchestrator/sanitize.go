// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// diffStartPrefixes mark the first line of a unified diff.
var diffStartPrefixes = []string{"diff ", "--- ", "+++ ", "@@", "index "}

func isDiffStart(line string) bool {
	for _, p := range diffStartPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// SanitizePatch extracts a unified diff from agent text. Terminal escape
// sequences and carriage returns are removed, prose before the first
// diff line is dropped, and the diff ends at the first closing code
// fence. The result ends with exactly one newline, or is empty when no
// diff was found. Fences count only at column 0, since every diff body
// line starts with a space, '+', '-' or '\'.
func SanitizePatch(raw string) string {
	clean := strings.ReplaceAll(ansi.Strip(raw), "\r", "")

	var kept []string
	started := false
	for _, line := range strings.Split(clean, "\n") {
		if !started {
			if !isDiffStart(line) {
				continue
			}
			started = true
		} else if strings.HasPrefix(line, "```") {
			break
		}
		kept = append(kept, line)
	}
	if !started {
		return ""
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n") + "\n"
}
