// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/pimainteno/pkg/orchestrator"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one maintenance pass over all projects and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := opts.open()
			if err != nil {
				return err
			}
			defer o.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := o.Prepare(ctx); err != nil {
				orchestrator.Logf("run: %v; continuing without archive", err)
			}
			return o.Scheduler().RunOnce(ctx)
		},
	}
}
