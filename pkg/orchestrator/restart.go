// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"context"
	"fmt"
)

// Restarter restarts the service associated with a project.
type Restarter interface {
	Restart(ctx context.Context, p Project) error
}

// SystemdRestarter restarts a project's unit with systemctl.
type SystemdRestarter struct {
	cfg SystemdConfig
	run commandRunner
}

// NewSystemdRestarter returns a restarter using cfg's scope and timeout.
func NewSystemdRestarter(cfg SystemdConfig) *SystemdRestarter {
	return &SystemdRestarter{cfg: cfg, run: runCommand}
}

// Restart runs systemctl restart for the project's unit. It does nothing
// when restarts are disabled.
func (r *SystemdRestarter) Restart(ctx context.Context, p Project) error {
	unit := p.Unit()
	if !r.cfg.RestartEnabled() {
		logf("restart disabled; not restarting %s", unit)
		return nil
	}
	if _, err := r.run(ctx, systemctl(r.cfg.ScopeArgs, r.cfg.Timeout(), "restart", unit)); err != nil {
		return fmt.Errorf("restarting %s: %w", unit, err)
	}
	logf("restarted %s", unit)
	return nil
}
