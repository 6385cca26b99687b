// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides the mage build targets for the pimainteno
// repository.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/mesh-intelligence/pimainteno/pkg/orchestrator"
)

// Test groups the testing targets.
type Test mg.Namespace

// Prompt groups prompt preview targets.
type Prompt mg.Namespace

const (
	binGo      = "go"
	binLint    = "golangci-lint"
	mainPkg    = "./cmd/pimainteno"
	binaryDir  = "bin"
	binaryName = "pimainteno"
)

// configPath returns the daemon config used by the Run and Status
// targets, honouring PIMAINTENO_CONFIG.
func configPath() string {
	if p := os.Getenv("PIMAINTENO_CONFIG"); p != "" {
		return p
	}
	return orchestrator.DefaultConfigFile
}

// newOrch creates an Orchestrator from the config file, writing the
// default config first when none exists.
func newOrch() (*orchestrator.Orchestrator, error) {
	path := configPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := orchestrator.WriteDefaultConfig(path); err != nil {
			return nil, fmt.Errorf("creating %s: %w", path, err)
		}
		logf("created default %s; add projects before running", path)
	}
	return orchestrator.NewFromFile(path)
}

// logf prints a timestamped log line to stderr.
func logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%s] %s\n", time.Now().Format(time.RFC3339), msg)
}

// goCmd runs a command with output attached to the terminal.
func goCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// --- Top-level targets ---

// Build compiles the pimainteno binary into bin/.
func Build() error {
	outPath := filepath.Join(binaryDir, binaryName)
	logf("build: go build -o %s %s", outPath, mainPkg)
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := goCmd(binGo, "build", "-o", outPath, mainPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	logf("build: done")
	return nil
}

// Lint runs golangci-lint on the project.
func Lint() error {
	logf("lint: running golangci-lint")
	if err := goCmd(binLint, "run", "./..."); err != nil {
		return fmt.Errorf("golangci-lint: %w", err)
	}
	logf("lint: done")
	return nil
}

// Install runs go install for the main package.
func Install() error {
	logf("install: go install %s", mainPkg)
	if err := goCmd(binGo, "install", mainPkg); err != nil {
		return fmt.Errorf("go install: %w", err)
	}
	logf("install: done")
	return nil
}

// Clean removes build artifacts.
func Clean() error {
	logf("clean: removing %s", binaryDir)
	if err := os.RemoveAll(binaryDir); err != nil {
		return fmt.Errorf("removing %s: %w", binaryDir, err)
	}
	logf("clean: done")
	return nil
}

// Init writes the default pimainteno.yaml.
func Init() error { return orchestrator.WriteDefaultConfig(configPath()) }

// Run performs one maintenance pass with the local config.
func Run() error {
	o, err := newOrch()
	if err != nil {
		return err
	}
	defer o.Close()
	ctx := context.Background()
	if err := o.Prepare(ctx); err != nil {
		logf("run: %v; continuing without archive", err)
	}
	return o.Scheduler().RunOnce(ctx)
}

// Status prints the stored status snapshot.
func Status() error {
	o, err := newOrch()
	if err != nil {
		return err
	}
	defer o.Close()
	st, err := o.Status()
	if err != nil {
		return err
	}
	for _, p := range st.Projects {
		fmt.Printf("%-20s %-18s %s\n", p.Name, orDash(p.Outcome), shortFingerprint(p.Fingerprint))
	}
	fmt.Printf("run %s: %s\n", orDash(st.Run.ID), st.Run.Status)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortFingerprint(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return orDash(s)
}

// --- Prompt targets ---

// Summarize prints the rendered summarize instruction.
func (Prompt) Summarize() error { return dumpPrompt(func(p orchestrator.Prompts) string { return p.Summarize }) }

// Patch prints the rendered patch instruction.
func (Prompt) Patch() error { return dumpPrompt(func(p orchestrator.Prompts) string { return p.Patch }) }

// Commit prints the rendered commit-message instruction.
func (Prompt) Commit() error {
	return dumpPrompt(func(p orchestrator.Prompts) string { return p.CommitMessage })
}

func dumpPrompt(pick func(orchestrator.Prompts) string) error {
	var llm orchestrator.LLMConfig
	if cfg, err := orchestrator.LoadConfig(configPath()); err == nil {
		llm = cfg.LLM
	}
	prompts, err := orchestrator.LoadPrompts(llm)
	if err != nil {
		return err
	}
	fmt.Println(pick(prompts))
	return nil
}
