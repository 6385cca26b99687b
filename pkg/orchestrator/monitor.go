// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Monitor status values stored under KeySystemdStatus.
const (
	MonitorDisabled  = "disabled"
	MonitorListening = "listening"
)

// SystemdMonitor polls systemd for failed units and records them in the
// status store. It does not react to failures.
type SystemdMonitor struct {
	cfg   SystemdConfig
	units []string
	store Store
	run   commandRunner
	now   func() time.Time
}

// NewSystemdMonitor watches cfg.Units, or the units of projects when
// none are configured.
func NewSystemdMonitor(cfg SystemdConfig, projects []Project, store Store) *SystemdMonitor {
	units := cfg.Units
	if len(units) == 0 {
		for _, p := range projects {
			units = append(units, p.Unit())
		}
	}
	return &SystemdMonitor{cfg: cfg, units: units, store: store, run: runCommand, now: time.Now}
}

// Units returns the units polled.
func (m *SystemdMonitor) Units() []string { return m.units }

// Listen records the monitor status and, when enabled, polls until ctx
// is done. It returns nil on cancellation.
func (m *SystemdMonitor) Listen(ctx context.Context) error {
	if !m.cfg.Monitor {
		return m.store.Insert(KeySystemdStatus, MonitorDisabled)
	}
	if err := m.store.Insert(KeySystemdStatus, MonitorListening); err != nil {
		return err
	}
	every := m.cfg.PollInterval()
	if every <= 0 {
		every = time.Minute
	}
	logUntagged("monitor: watching %d unit(s) every %s", len(m.units), every)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := m.Poll(ctx); err != nil {
			logUntagged("monitor: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll checks every unit once and stores the failed ones.
func (m *SystemdMonitor) Poll(ctx context.Context) error {
	failed := []string{}
	for _, unit := range m.units {
		// is-failed exits 0 only when the unit is in the failed state.
		_, err := m.run(ctx, systemctl(m.cfg.ScopeArgs, m.cfg.Timeout(), "is-failed", "--quiet", unit))
		if err == nil {
			failed = append(failed, unit)
		}
	}
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("encoding failures: %w", err)
	}
	if err := m.store.Insert(KeySystemdFailures, string(data)); err != nil {
		return err
	}
	if len(failed) > 0 {
		logUntagged("monitor: failed units: %v", failed)
	}
	return m.store.Insert(KeySystemdLastChecked, strconv.FormatInt(m.now().Unix(), 10))
}
