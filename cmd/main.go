// Command driftwatch runs the correlation pipeline: a producer emitting
// paired feature and ground-truth messages, a scorer turning features into
// predictions, and an aggregator joining the halves into error metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/okian/driftwatch/internal/adapters/http/api"
	app "github.com/okian/driftwatch/internal/app"
	"github.com/okian/driftwatch/internal/config"
	"github.com/okian/driftwatch/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			logger.Error(err)
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "driftwatch",
		Short: "Streaming model-quality pipeline",
		Long: "driftwatch emits observation pairs, scores features against a model, " +
			"correlates predictions with ground truth, and appends per-record error " +
			"metrics to a durable log.",
	}

	rootCmd.AddCommand(
		newRoleCommand("run", "Run all pipeline stages in one process",
			app.Roles{Produce: true, Score: true, Aggregate: true}),
		newRoleCommand("produce", "Run only the producer stage",
			app.Roles{Produce: true}),
		newRoleCommand("score", "Run only the scorer stage",
			app.Roles{Score: true}),
		newRoleCommand("aggregate", "Run only the aggregator stage",
			app.Roles{Aggregate: true}),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newRoleCommand builds a subcommand that runs the service with a fixed
// role set until interrupted.
func newRoleCommand(use, short string, roles app.Roles) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context(), roles)
		},
	}
}

func runService(parent context.Context, roles app.Roles) error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Get()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	// Apply configured log level (fallback to info on invalid input).
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := app.New(cfg,
		app.WithRoles(roles),
		app.WithLogger(log),
	)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	// Operational HTTP surface: health, stats, metrics.
	mux := http.NewServeMux()
	api.NewServer(svc).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	log.Info(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	return nil
}
