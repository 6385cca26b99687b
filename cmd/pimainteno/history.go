// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pimainteno/pkg/orchestrator"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <project>",
		Short: "List maintenance commits in a project",
		Long: `List the commits PiMainteno pushed to a project, newest first.

The project is a configured project's name, unit, or path. A directory
that is not configured is read directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveProject(opts.configPath, args[0])
			if err != nil {
				return err
			}
			records, err := orchestrator.History(path, limit)
			if err != nil {
				return err
			}
			return orchestrator.PrintHistory(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum commits to list (0 for all)")
	return cmd
}

// resolveProject maps a name, unit, or path to a project directory.
// The config file is optional when arg is a directory.
func resolveProject(configPath, arg string) (string, error) {
	cfg, cfgErr := orchestrator.LoadConfig(configPath)
	if cfgErr == nil {
		for _, p := range orchestrator.ProjectsFromConfig(cfg) {
			if arg == p.Name() || arg == p.Unit() || arg == p.Path {
				return p.Path, nil
			}
		}
	}
	if info, err := os.Stat(arg); err == nil && info.IsDir() {
		return arg, nil
	}
	if cfgErr != nil {
		return "", fmt.Errorf("project %q: not a directory and config unavailable: %w", arg, cfgErr)
	}
	return "", fmt.Errorf("project %q is not configured in %s", arg, configPath)
}
