// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/apidesk/internal/config"
)

func newConfigCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Long:  "Print the configuration after files, .env and environment overrides. The auth token is redacted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}

	get := &cobra.Command{
		Use:     "get <key>",
		Short:   "Print one configuration value",
		Example: "  apidesk config get server.port\n  apidesk config get session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.AuthToken != "" {
				cfg.Server.AuthToken = "[REDACTED]"
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			if s, ok := v.(string); ok {
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if flags.configPath != "" {
				fmt.Fprintln(out, flags.configPath)
				return nil
			}
			found, err := config.FindConfigFile()
			if err != nil {
				return err
			}
			if found != "" {
				fmt.Fprintln(out, found)
				return nil
			}
			def, err := config.ConfigPathTOML()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", def, DimStyle.Render("(not created; using defaults)"))
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := flags.configPath
			if target == "" {
				p, err := config.ConfigPathTOML()
				if err != nil {
					return err
				}
				target = p
			}
			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", target)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.SaveTOML(config.Default(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", RenderConditional(SuccessStyle, "[OK]"), target)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	cmd.AddCommand(show, get, path, initCmd)
	return cmd
}
