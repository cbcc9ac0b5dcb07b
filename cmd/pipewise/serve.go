// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pipewise-hq/pipewise/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant service",
		Long:  "Load configuration, wire all subsystems, and serve the assistant API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if viper.GetBool("verbose") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring subsystems: %w", err)
	}
	defer application.close()

	// Expired rate-limit windows are swept in the background for the
	// lifetime of the server.
	application.limiter.StartCleanup(ctx, time.Hour)

	slog.Info("starting pipewise assistant service",
		"listen", cfg.Server.Listen,
		"storage", cfg.Storage.Path,
	)

	return application.server.Start(ctx)
}
