// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pipewise-hq/pipewise/internal/config"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

// NewRootCmd creates the root pipewise command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipewise",
		Short:         "Pipewise - AI assistant service for the revenue pipeline",
		Long:          "Pipewise runs the assistant orchestration service: readiness checks, provider fallback chains, rate limiting, and deterministic fallback plans.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags. These map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return pwerr.Errorf(pwerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// Auto-discover pipewise.yaml from standard locations.
		// Note: SetConfigType is intentionally omitted. When set, Viper
		// falls back to trying the bare config name without extension,
		// which collides with the ./pipewise binary in the project root.
		v.SetConfigName("pipewise")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pipewise")
		v.AddConfigPath("/etc/pipewise")
		// No config file is fine; defaults and env vars still apply.
		// Parse or permission errors must surface.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return pwerr.Errorf(pwerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
		}
	}

	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return pwerr.Errorf(pwerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}
