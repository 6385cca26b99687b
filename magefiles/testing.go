// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/pimainteno/pkg/orchestrator"
)

// --- Test targets ---

// Unit runs go test on all packages.
func (Test) Unit() error { return goCmd(binGo, "test", "./...") }

// Race runs the unit tests with the race detector.
func (Test) Race() error { return goCmd(binGo, "test", "-race", "-count=1", "./...") }

// Cover writes a coverage profile to coverage.out and prints the total.
func (Test) Cover() error {
	if err := goCmd(binGo, "test", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	return goCmd(binGo, "tool", "cover", "-func=coverage.out")
}

// Smoke runs one real pass against a scratch repository. A shell script
// stands in for the agent, so the pass exercises git apply and commit
// along with the status store and history without network access. Push
// and restart are disabled.
func (Test) Smoke() error {
	logf("test:smoke: starting")
	dir, err := os.MkdirTemp("", "pimainteno-smoke-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	repo := filepath.Join(dir, "demo")
	if err := initSmokeRepo(repo); err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	agent := filepath.Join(dir, "fake-agent.sh")
	if err := os.WriteFile(agent, []byte(fakeAgentScript), 0o755); err != nil {
		return err
	}

	off := false
	cfg := orchestrator.DefaultConfig()
	cfg.Scheduler.Projects = []string{repo}
	cfg.LLM.Binary = agent
	cfg.Git.Push = &off
	cfg.Systemd.Restart = &off
	cfg.Store.Driver = orchestrator.StoreMemory

	o, err := orchestrator.New(cfg)
	if err != nil {
		return err
	}
	defer o.Close()

	ctx := context.Background()
	logf("test:smoke: running one pass")
	if err := o.Scheduler().RunOnce(ctx); err != nil {
		return fmt.Errorf("pass: %w", err)
	}
	st, err := o.Status()
	if err != nil {
		return err
	}
	p := st.Projects[0]
	if len(p.Commits) != 1 || !strings.HasPrefix(p.Commits[0], "fix:") {
		return fmt.Errorf("outcome %s: expected one fix commit, got %q", p.Outcome, p.Commits)
	}
	if _, err := os.Stat(filepath.Join(repo, "SMOKE.md")); err != nil {
		return fmt.Errorf("patch not applied: %w", err)
	}
	if p.Fingerprint == "" {
		return fmt.Errorf("fingerprint not recorded")
	}

	records, err := orchestrator.History(repo, 0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("history: no maintenance commits found")
	}
	_ = orchestrator.PrintHistory(os.Stdout, records)

	fmt.Println("Smoke test PASSED")
	return nil
}

func initSmokeRepo(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("demo\n"), 0o644); err != nil {
		return err
	}
	for _, args := range [][]string{
		{"init", "-q"},
		{"config", "user.email", "smoke@example.com"},
		{"config", "user.name", "Smoke Test"},
		{"add", "README.md"},
		{"commit", "-q", "-m", "initial"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out)
		}
	}
	return nil
}

// fakeAgentScript answers each instruction by matching a phrase from
// the embedded prompts.
const fakeAgentScript = `#!/bin/sh
case "$*" in
*"unified diff"*)
cat <<'PATCH'
Here is the change:
` + "```diff" + `
diff --git a/SMOKE.md b/SMOKE.md
new file mode 100644
--- /dev/null
+++ b/SMOKE.md
@@ -0,0 +1 @@
+maintained
` + "```" + `
PATCH
;;
*"commit message"*)
echo "fix: add smoke marker"
;;
*)
echo "A demo repository with a README."
;;
esac
`
