// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package orchestrator

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNoFingerprint is returned when a project's HEAD cannot be read.
// Callers treat it as "cannot skip".
var ErrNoFingerprint = errors.New("no fingerprint")

// ChangeOracle decides whether a project changed since its last
// completed summary.
type ChangeOracle struct {
	store Store
}

// NewChangeOracle returns an oracle reading and recording fingerprints
// in store.
func NewChangeOracle(store Store) *ChangeOracle {
	return &ChangeOracle{store: store}
}

// Fingerprint returns the commit hash HEAD points at. A symbolic HEAD is
// followed exactly one level to its target reference.
func (c *ChangeOracle) Fingerprint(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %v", ErrNoFingerprint, path, err)
	}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("%w: reading HEAD: %v", ErrNoFingerprint, err)
	}
	if head.Type() == plumbing.SymbolicReference {
		target, err := repo.Reference(head.Target(), false)
		if err != nil {
			return "", fmt.Errorf("%w: reading %s: %v", ErrNoFingerprint, head.Target(), err)
		}
		head = target
	}
	if head.Type() != plumbing.HashReference || head.Hash().IsZero() {
		return "", fmt.Errorf("%w: %s does not name a commit", ErrNoFingerprint, head.Name())
	}
	return head.Hash().String(), nil
}

// ShouldSkip reports whether the project's fresh fingerprint matches the
// one recorded after its last summary. It also returns the fresh
// fingerprint, empty when none could be computed. Nothing is written.
func (c *ChangeOracle) ShouldSkip(path string) (bool, string) {
	fp, err := c.Fingerprint(path)
	if err != nil {
		logf("ShouldSkip: %v; treating as changed", err)
		return false, ""
	}
	stored, ok, err := c.store.Get(FingerprintKey(path))
	if err != nil {
		logf("ShouldSkip: reading stored fingerprint: %v; treating as changed", err)
		return false, fp
	}
	return ok && stored == fp, fp
}

// Record stores fingerprint as the project's last summarized state. An
// empty fingerprint is not recorded.
func (c *ChangeOracle) Record(path, fingerprint string) error {
	if fingerprint == "" {
		return nil
	}
	if err := c.store.Insert(FingerprintKey(path), fingerprint); err != nil {
		return fmt.Errorf("recording fingerprint: %w", err)
	}
	return nil
}
