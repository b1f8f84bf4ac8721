// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/jeranaias/apidesk/internal/config"
	"github.com/jeranaias/apidesk/internal/server"
)

// Version information (can be overridden at build time)
var (
	Version   = server.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitConfig = 2
)

// configError marks failures to load or validate configuration.
type configError struct{ err error }

func (e *configError) Error() string { return "configuration: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// GetExitCode maps an error returned by a command to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cerr *configError
	if errors.As(err, &cerr) {
		return ExitConfig
	}
	return ExitError
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
}

// NewRootCommand builds the apidesk command tree.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "apidesk",
		Short: "Multi-provider API console",
		Long: `apidesk puts chat, image generation, video search, stock and crypto
quotes and news search behind one session, with API keys entered per
session and never written to disk.

Configuration is read from ~/.apidesk/config.toml (or .yaml/.json),
then .env and APIDESK_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.apidesk/config.toml)")

	root.AddCommand(
		newServeCommand(flags),
		newShellCommand(flags),
		newConfigCommand(flags),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command and exits with the mapped code on failure.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", RenderConditional(ErrorStyle, "Error:"), err)
		os.Exit(GetExitCode(err))
	}
}

// loadConfig reads the configuration named by --config, or the default
// search path when the flag is empty.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFromPath(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &configError{err: err}
	}
	return cfg, nil
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", RenderConditional(TitleStyle.Copy().MarginBottom(0), "apidesk"), Version)
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("Git commit:", 14), GitCommit)
	fmt.Fprintf(w, "  %s%s\n", RenderLabel("Built:", 14), BuildDate)
	fmt.Fprintf(w, "  %s%s %s/%s\n", RenderLabel("Go:", 14), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
