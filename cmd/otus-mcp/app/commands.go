// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the otus-mcp command-line application.
package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tecrolabs/otus-mcp/pkg/config"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/versions"
)

// NewRootCmd creates a new root command for the otus-mcp CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "otus-mcp",
		DisableAutoGenTag: true,
		Short:             "MCP server for the Otus API, protected by OAuth 2.1",
		Long: `otus-mcp exposes the Otus API as MCP tools. It acts as an OAuth 2.1 protected
resource and fronts the Ares authorization broker so MCP clients can:

- discover the authorization server (RFC 9728, RFC 8414)
- register dynamically (RFC 7591)
- run the authorization code flow with PKCE through /oauth/authorize
- call /mcp with an Auth0-issued bearer token

Configuration is read from an optional YAML file and OTUS_MCP_* environment variables.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

// serverFlags maps flags of the serve command to configuration keys.
var serverFlags = map[string]string{
	"host": "server.host",
	"port": "server.port",
	"url":  "server.url",
}

func addServerFlags(flags *pflag.FlagSet) {
	flags.String("host", "", "Host to listen on (overrides server.host)")
	flags.Int("port", 0, "Port to listen on (overrides server.port)")
	flags.String("url", "", "Public URL of this server (overrides server.url)")
}

// loadConfig reads the configuration named by --config and applies the
// server flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	for name, key := range serverFlags {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path != "" {
		logger.Infof("Loading configuration from: %s", path)
	}

	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the otus-mcp server",
		Long: `Start the otus-mcp server. It serves the discovery documents, client
registration, the OAuth proxy and fallback flows, and the bearer-protected /mcp
endpoint until it receives SIGINT or SIGTERM.`,
		RunE: runServe,
	}
	addServerFlags(cmd.Flags())
	return cmd
}

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(),
				"otus-mcp %s\nCommit: %s\nBuilt: %s\nGo: %s\nPlatform: %s\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version information as JSON")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the configuration from defaults, the --config file and the environment,
validate it and print the effective configuration as YAML. Secrets are omitted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				logger.Errorf("Configuration is invalid: %v", err)
				return err
			}

			out, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}
			logger.Infof("Configuration is valid")
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
