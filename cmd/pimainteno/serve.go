// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/pimainteno/pkg/api"
	"github.com/mesh-intelligence/pimainteno/pkg/orchestrator"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: scheduler, status API, and systemd monitor",
		Long: `Run the maintenance daemon until SIGINT or SIGTERM.

A pass runs at startup and then every scheduler.interval_sec. The status
API listens on web.addr; POST /api/run queues a manual pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := opts.open()
			if err != nil {
				return err
			}
			defer o.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, o)
		},
	}
}

// serve runs the scheduler loop, the HTTP server, and the monitor until
// ctx is done or one of them fails.
func serve(ctx context.Context, o *orchestrator.Orchestrator) error {
	if err := o.Prepare(ctx); err != nil {
		orchestrator.Logf("serve: %v; continuing without archive", err)
	}
	cfg := o.Config()
	server := api.NewServer(o, cfg.Web)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.Scheduler().Run(ctx) })
	g.Go(func() error { return server.Serve(ctx) })
	g.Go(func() error { return o.Monitor().Listen(ctx) })

	err := g.Wait()
	orchestrator.Logf("serve: stopped")
	return err
}
