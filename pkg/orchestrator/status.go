// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// RunRecord is the state of the current or most recent pass.
type RunRecord struct {
	ID             string     `json:"id" yaml:"id"`
	Status         string     `json:"status" yaml:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	CurrentProject string     `json:"current_project,omitempty" yaml:"current_project,omitempty"`
}

// ProjectStatus holds the stored artifacts of one project.
type ProjectStatus struct {
	Name        string   `json:"name" yaml:"name"`
	Path        string   `json:"path" yaml:"path"`
	Unit        string   `json:"unit" yaml:"unit"`
	Outcome     string   `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Summary     string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	Patch       string   `json:"patch,omitempty" yaml:"patch,omitempty"`
	Commits     []string `json:"commits" yaml:"commits"`
}

// SystemdStatus holds the monitor's last observations.
type SystemdStatus struct {
	Status      string     `json:"status,omitempty" yaml:"status,omitempty"`
	LastChecked *time.Time `json:"last_checked,omitempty" yaml:"last_checked,omitempty"`
	Failures    []string   `json:"failures" yaml:"failures"`
}

// Status is a point-in-time snapshot of the status store.
type Status struct {
	Run      RunRecord       `json:"run" yaml:"run"`
	Projects []ProjectStatus `json:"projects" yaml:"projects"`
	Systemd  SystemdStatus   `json:"systemd" yaml:"systemd"`
}

// Project returns the status of the project whose name or unit is name.
func (s Status) Project(name string) (ProjectStatus, bool) {
	for _, p := range s.Projects {
		if p.Name == name || p.Unit == name {
			return p, true
		}
	}
	return ProjectStatus{}, false
}

// ReadRunRecord reads the run-level keys. A store that has never seen a
// pass reads as idle.
func ReadRunRecord(store Store) (RunRecord, error) {
	var rec RunRecord
	var errs []error
	get := func(key string) string {
		v, err := getOr(store, key)
		errs = append(errs, err)
		return v
	}
	rec.ID = get(KeyRunID)
	rec.Status = get(KeyRunStatus)
	rec.CurrentProject = get(KeyCurrentProject)
	rec.StartedAt = parseTime(get(KeyRunStartedAt))
	rec.FinishedAt = parseTime(get(KeyRunFinishedAt))
	if rec.Status == "" {
		rec.Status = RunIdle
	}
	return rec, errors.Join(errs...)
}

// ReadStatus builds a snapshot of the run record, each project's
// artifacts, and the monitor keys.
func ReadStatus(store Store, projects []Project) (Status, error) {
	run, err := ReadRunRecord(store)
	if err != nil {
		return Status{}, err
	}
	st := Status{Run: run, Projects: make([]ProjectStatus, 0, len(projects))}

	var errs []error
	get := func(key string) string {
		v, err := getOr(store, key)
		errs = append(errs, err)
		return v
	}
	for _, p := range projects {
		commits, err := readCommitLog(store, p.Path)
		errs = append(errs, err)
		if commits == nil {
			commits = []string{}
		}
		st.Projects = append(st.Projects, ProjectStatus{
			Name:        p.Name(),
			Path:        p.Path,
			Unit:        p.Unit(),
			Outcome:     get(OutcomeKey(p.Path)),
			Fingerprint: get(FingerprintKey(p.Path)),
			Summary:     get(SummaryKey(p.Path)),
			Patch:       get(PatchKey(p.Path)),
			Commits:     commits,
		})
	}

	st.Systemd.Status = get(KeySystemdStatus)
	if secs, err := strconv.ParseInt(get(KeySystemdLastChecked), 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		st.Systemd.LastChecked = &t
	}
	st.Systemd.Failures = []string{}
	if raw := get(KeySystemdFailures); raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.Systemd.Failures); err != nil {
			st.Systemd.Failures = []string{}
		}
	}
	return st, errors.Join(errs...)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
