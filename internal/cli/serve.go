// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/apidesk/internal/config"
	"github.com/jeranaias/apidesk/internal/credential"
	"github.com/jeranaias/apidesk/internal/logging"
	"github.com/jeranaias/apidesk/internal/provider"
	"github.com/jeranaias/apidesk/internal/server"
	"github.com/jeranaias/apidesk/internal/session"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	host        string
	port        int
	watchConfig bool
}

func newServeCommand(flags *globalFlags) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Run the HTTP API server. Each client creates a session, enters its
own provider keys and drives the features over JSON, SSE or WebSocket.`,
		Example: `  apidesk serve
  apidesk serve --port 9000 --host 0.0.0.0
  apidesk serve --config ./apidesk.toml --watch-config`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = opts.host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = opts.port
			}
			if err := cfg.Validate(); err != nil {
				return &configError{err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, flags.configPath, opts.watchConfig)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().BoolVar(&opts.watchConfig, "watch-config", false, "reload log level and rate limits when the config file changes")
	return cmd
}

// newLogger builds the root logger. The logger itself passes everything and
// the zerolog global level filters, so a config reload can change it.
func newLogger(cfg *config.Config) zerolog.Logger {
	settings := cfg.LoggerSettings()
	level, err := logging.ParseLevel(settings.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	settings.Level = "debug"
	return logging.New(settings).Level(zerolog.TraceLevel)
}

// newManager wires the session manager to real provider clients.
func newManager(cfg *config.Config, logger zerolog.Logger) *session.Manager {
	opts := cfg.ProviderOptions(logger)
	return session.NewManager(cfg.SessionSettings(), func(keys *credential.Store) session.Invokers {
		return provider.NewSet(keys, opts)
	}, logging.Component(logger, "session"))
}

func runServe(ctx context.Context, cfg *config.Config, configPath string, watchConfig bool) error {
	logger := newLogger(cfg)

	mgr := newManager(cfg, logger)
	go mgr.Run(ctx)

	srv := server.New(server.Config{
		Addr:              cfg.Addr(),
		AuthToken:         cfg.Server.AuthToken,
		CORSOrigins:       cfg.Server.CORSOrigins,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}, mgr, logger)

	if watchConfig {
		if err := startConfigWatch(ctx, configPath, srv, logger); err != nil {
			logger.Warn().Err(err).Msg("CONFIG_WATCH_DISABLED")
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		mgr.Shutdown()
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// startConfigWatch applies the log level and throttle settings from the
// config file whenever it changes. Other settings need a restart.
func startConfigWatch(ctx context.Context, configPath string, srv *server.Server, logger zerolog.Logger) error {
	path := configPath
	if path == "" {
		found, err := config.FindConfigFile()
		if err != nil {
			return err
		}
		if found == "" {
			return errors.New("no config file to watch")
		}
		path = found
	}

	logger.Info().Str("path", path).Msg("CONFIG_WATCH_START")
	return config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("CONFIG_RELOAD_FAILED")
			return
		}
		applyReload(cfg, srv, logger)
	})
}

func applyReload(cfg *config.Config, srv *server.Server, logger zerolog.Logger) {
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	srv.SetRateLimit(cfg.Server.RequestsPerSecond, cfg.Server.Burst)
	logger.Info().Str("level", cfg.Logging.Level).Msg("CONFIG_RELOADED")
}
