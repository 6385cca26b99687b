// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrInvalidOutput is returned when agent output is not valid UTF-8.
var ErrInvalidOutput = errors.New("agent output is not valid UTF-8")

// TranscriptKind says how a Generation's text was obtained.
type TranscriptKind int

const (
	// StructuredText means the text was assembled from assistant
	// output_text items in the agent's JSON-lines transcript.
	StructuredText TranscriptKind = iota
	// RawFallback means no assistant text was found and the raw output
	// is returned unchanged.
	RawFallback
)

func (k TranscriptKind) String() string {
	switch k {
	case StructuredText:
		return "structured"
	case RawFallback:
		return "raw"
	default:
		return "unknown"
	}
}

// Generation is the text result of one agent invocation.
type Generation struct {
	Text string
	Kind TranscriptKind
}

// transcriptLine is the subset of a transcript record we read.
type transcriptLine struct {
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ParseTranscript extracts the assistant's text from agent output. Each
// line is decoded as JSON; lines that fail to decode or are not
// assistant messages are ignored. When nothing is collected the raw
// output is returned as a RawFallback.
func ParseTranscript(raw []byte) (Generation, error) {
	if !utf8.Valid(raw) {
		return Generation{}, ErrInvalidOutput
	}
	var parts []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec transcriptLine
		if json.Unmarshal([]byte(line), &rec) != nil || rec.Role != "assistant" {
			continue
		}
		for _, item := range rec.Content {
			if item.Type == "output_text" {
				parts = append(parts, item.Text)
			}
		}
	}
	if len(parts) == 0 {
		return Generation{Text: string(raw), Kind: RawFallback}, nil
	}
	return Generation{Text: strings.TrimSpace(strings.Join(parts, "")), Kind: StructuredText}, nil
}
