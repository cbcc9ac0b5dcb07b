// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pipewise Contributors

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pipewise-hq/pipewise/internal/config"
	"github.com/pipewise-hq/pipewise/internal/provider"
	pwerr "github.com/pipewise-hq/pipewise/pkg/errors"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show assistant service status",
		Long:  "Check the running service's readiness endpoint and optionally probe the configured provider API keys.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:18942", "service address to check")
	cmd.Flags().Bool("check-keys", false, "probe configured provider API keys against their vendors")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	checkKeys, _ := cmd.Flags().GetBool("check-keys")
	out := cmd.OutOrStdout()

	client := newServiceClient(addr)
	var body struct {
		State   string `json:"state"`
		Variant string `json:"variant"`
		Usable  bool   `json:"usable"`
		Detail  string `json:"detail"`
	}
	if err := client.getJSON("/api/v1/assistant/readiness", &body); err != nil {
		if pwerr.HasCode(err, pwerr.CodeCLIServiceNotRunning) {
			_, _ = fmt.Fprintf(out, "Service at %s is not running (run 'pipewise serve')\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Service at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Service at %s: %s (variant=%s, usable=%t)\n", addr, body.State, body.Variant, body.Usable)
	if body.Detail != "" {
		_, _ = fmt.Fprintf(out, "Detail: %s\n", body.Detail)
	}

	if !checkKeys {
		return nil
	}
	return probeKeys(cmd)
}

// probeKeys validates each configured provider API key against its
// vendor. Probe failures are reported, not returned, so one bad key
// does not hide the rest.
func probeKeys(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	kinds := map[string]provider.Kind{
		"anthropic": provider.KindAnthropic,
		"openai":    provider.KindOpenAI,
		"google":    provider.KindGoogle,
	}

	probed := false
	for name, kind := range kinds {
		pc, ok := cfg.Providers[name]
		if !ok || pc.APIKey == "" {
			continue
		}
		probed = true

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		err := provider.ValidateKey(ctx, defaultHTTPClient, kind, pc.APIKey)
		cancel()

		switch {
		case err == nil:
			_, _ = fmt.Fprintf(out, "%-12s key valid\n", name+":")
		case pwerr.HasCode(err, pwerr.CodeProviderCredentialInvalid):
			_, _ = fmt.Fprintf(out, "%-12s key rejected by vendor\n", name+":")
		default:
			_, _ = fmt.Fprintf(out, "%-12s probe failed: %s\n", name+":", err)
		}
	}

	if !probed {
		_, _ = fmt.Fprintln(out, "No provider API keys configured")
	}
	return nil
}
