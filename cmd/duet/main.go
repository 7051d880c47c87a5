package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/duet"
	"github.com/aixgo-dev/duet/internal/logsink"
	"github.com/aixgo-dev/duet/internal/observability"
	"github.com/aixgo-dev/duet/pkg/config"
	metrics "github.com/aixgo-dev/duet/pkg/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "duet",
		Short:        "Run chat agents that keep a room talking",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), metrics.Version)
			return err
		},
	}
}

type runOptions struct {
	configFile string
	httpPort   int
	logLevel   string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sign the agents in and keep them chatting until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", os.Getenv("DUET_CONFIG"), "YAML configuration file")
	cmd.Flags().IntVar(&opts.httpPort, "http-port", 0, "observability HTTP port, 0 disables (overrides config)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	return cmd
}

func loadConfig(cmd *cobra.Command, opts runOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("http-port") {
		cfg.HTTP.Port = opts.httpPort
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	level := logsink.ParseLevel(cfg.Log.Level)
	ring := logsink.NewRing(cfg.Engine.LogCapacity, level)
	logger := logsink.SetupLogger(logOut, ring, level)
	slog.SetDefault(logger)

	logger.Info("starting duet", "version", metrics.Version, "room", cfg.Room, "agents", len(cfg.Agents))

	if err := observability.Init(cfg.Tracing, logger); err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	engine, err := duet.New(cfg, duet.WithLogger(logger, ring))
	if err != nil {
		return err
	}

	hc := metrics.NewHealthChecker()
	engine.RegisterHealthChecks(hc)

	errChan := make(chan error, 1)
	var server *metrics.Server
	if cfg.HTTP.Port > 0 {
		server = metrics.NewServer(cfg.HTTP.Port,
			metrics.WithHealthChecker(hc),
			metrics.WithLogs(func() []string {
				entries := engine.RecentLogs()
				lines := make([]string, len(entries))
				for i, e := range entries {
					lines[i] = e.String()
				}
				return lines
			}),
			metrics.WithStatus(func() any { return engine.Status() }),
		)
		go func() {
			logger.Info("starting HTTP server", "port", cfg.HTTP.Port)
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
	}

	if err := engine.Start(ctx, duet.ParamsFromConfig(cfg)); err != nil {
		if !engine.Running() {
			shutdown(logger, engine, server)
			return err
		}
		logger.Warn("some agents could not sign in", "error", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errChan:
		logger.Error("stopping after error", "error", runErr)
	}

	shutdown(logger, engine, server)
	return runErr
}

func shutdown(logger *slog.Logger, engine *duet.Engine, server *metrics.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := engine.Stop(ctx); err != nil {
		logger.Error("engine stop", "error", err)
	}
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
	}
	if err := engine.Close(); err != nil {
		logger.Warn("memory backend close", "error", err)
	}
	if err := observability.Shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown", "error", err)
	}
	logger.Info("duet stopped")
}
