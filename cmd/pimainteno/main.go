// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Command pimainteno runs the self-healing maintenance daemon and its
// one-shot and inspection commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pimainteno/pkg/orchestrator"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// configEnv names the environment variable holding the default config path.
const configEnv = "PIMAINTENO_CONFIG"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "pimainteno",
		Short:         "PiMainteno - scheduled LLM maintenance for local git projects",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(),
		"config file (env "+configEnv+")")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newInitCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return orchestrator.DefaultConfigFile
}

// open loads the config file and builds the orchestrator.
func (o *rootOptions) open() (*orchestrator.Orchestrator, error) {
	return orchestrator.NewFromFile(o.configPath)
}
