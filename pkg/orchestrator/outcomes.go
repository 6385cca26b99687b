// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// MaintenanceRecord holds the trailer data of one maintenance commit.
type MaintenanceRecord struct {
	Hash        string
	When        time.Time
	Subject     string
	RunID       string
	Fingerprint string
}

// History walks the project's history from HEAD and returns the commits
// carrying a Maintenance-Run trailer, newest first. A limit of zero or
// less returns all of them. A repository without commits has no history.
func History(path string, limit int) ([]MaintenanceRecord, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	iter, err := repo.Log(&git.LogOptions{})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	defer iter.Close()

	var records []MaintenanceRecord
	err = iter.ForEach(func(c *object.Commit) error {
		rec := parseMaintenanceMessage(c.Message)
		if rec == nil {
			return nil
		}
		rec.Hash = c.Hash.String()
		rec.When = c.Committer.When
		records = append(records, *rec)
		if limit > 0 && len(records) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking history: %w", err)
	}
	return records, nil
}

// parseMaintenanceMessage extracts the subject and trailers from a
// commit message. Returns nil if it has no Maintenance-Run trailer.
func parseMaintenanceMessage(msg string) *MaintenanceRecord {
	if !strings.Contains(msg, trailerRun+":") {
		return nil
	}
	subject, _, _ := strings.Cut(strings.TrimSpace(msg), "\n")
	rec := &MaintenanceRecord{Subject: strings.TrimSpace(subject)}
	for _, line := range strings.Split(msg, "\n") {
		key, val, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch key {
		case trailerRun:
			rec.RunID = val
		case trailerFingerprint:
			rec.Fingerprint = val
		}
	}
	if rec.RunID == "" {
		return nil
	}
	return rec
}

// PrintHistory writes records as an aligned table.
func PrintHistory(w io.Writer, records []MaintenanceRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no maintenance commits found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Commit\tDate\tRun\tSubject")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			shortHash(r.Hash), r.When.Format("2006-01-02 15:04"), shortHash(r.RunID), r.Subject)
	}
	return tw.Flush()
}

func shortHash(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
