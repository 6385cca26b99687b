// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

// Orchestrator wires the maintenance components from a Config.
// Create one with New() or NewFromFile() and Close it when done.
type Orchestrator struct {
	cfg       Config
	store     Store
	archive   *PatchArchive
	scheduler *Scheduler
	monitor   *SystemdMonitor
}

// New validates cfg, opens the configured status store, and builds every
// component. It applies defaults to any zero-value Config fields.
func New(cfg Config) (*Orchestrator, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	store, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	o, err := NewWithStore(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return o, nil
}

// NewWithStore builds the components around an already opened store.
// The Orchestrator takes ownership of store and closes it in Close.
func NewWithStore(cfg Config, store Store) (*Orchestrator, error) {
	cfg.applyDefaults()
	if cfg.Scheduler.LogFile != "" {
		if err := logOut.open(cfg.Scheduler.LogFile); err != nil {
			return nil, err
		}
	}

	codex, err := NewCodexClient(cfg.LLM)
	if err != nil {
		return nil, err
	}
	archive, err := NewPatchArchive(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating patch archive: %w", err)
	}

	projects := ProjectsFromConfig(cfg)
	scheduler := NewScheduler(cfg.Scheduler, projects, store, codex,
		NewApplier(cfg.Git, codex),
		NewSystemdRestarter(cfg.Systemd),
		WithArchive(archive),
	)
	scheduler.SetEnabled(cfg.TimerEnabled())

	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		archive:   archive,
		scheduler: scheduler,
		monitor:   NewSystemdMonitor(cfg.Systemd, projects, store),
	}, nil
}

// NewFromFile reads configuration from a YAML file at the given path
// and returns a configured Orchestrator.
func NewFromFile(path string) (*Orchestrator, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	return New(cfg)
}

// Config returns a copy of the Orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Store returns the status store.
func (o *Orchestrator) Store() Store { return o.store }

// Scheduler returns the maintenance scheduler.
func (o *Orchestrator) Scheduler() *Scheduler { return o.scheduler }

// Monitor returns the systemd unit monitor.
func (o *Orchestrator) Monitor() *SystemdMonitor { return o.monitor }

// Status reads the current run record and per-project artifacts.
func (o *Orchestrator) Status() (Status, error) {
	return ReadStatus(o.store, o.scheduler.Projects())
}

// Trigger queues a manual maintenance pass. It returns false when one
// is already pending.
func (o *Orchestrator) Trigger() bool { return o.scheduler.Trigger() }

// Prepare creates the archive bucket when the archive is enabled.
// Callers log a failure and continue; uploads then fail per patch.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	return o.archive.EnsureBucket(ctx)
}

// Close flushes and closes the store and the log sink.
func (o *Orchestrator) Close() error {
	err := errors.Join(o.store.Flush(), o.store.Close())
	logOut.close()
	return err
}
