package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/okian/runac/internal/adapters/http/api"
	"github.com/okian/runac/internal/adapters/http/swagger"
	service "github.com/okian/runac/internal/app"
	"github.com/okian/runac/internal/config"
	"github.com/okian/runac/internal/domain/record"
	"github.com/okian/runac/internal/domain/wager"
	"github.com/okian/runac/pkg/logger"
	"github.com/okian/runac/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		logger.Get().Fatal(context.Background(), "runac failed", logger.Error(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "runac",
		Short:         "run.ac community backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newLookupCmd(), newSimulateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func newLookupCmd() *cobra.Command {
	var timeHMS, gridPath string
	var distanceKm float64
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Print the runbility of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sec, err := record.ParseHMS(timeHMS)
			if err != nil {
				return err
			}
			cfg := config.New(cmd.Context())
			cfg.GridPath = gridPath
			svc, err := service.New(cmd.Context(), cfg, service.WithLogger(logger.Nop()))
			if err != nil {
				return err
			}
			defer func() { _ = svc.Stop(cmd.Context()) }()

			res := svc.Lookup(sec, distanceKm)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pace %s/km  runbility %.2f  tier %s\n", res.Pace, res.Runbility, res.Tier)
			return err
		},
	}
	cmd.Flags().StringVar(&timeHMS, "time", "", "finish time as H:MM:SS, MM:SS or seconds")
	cmd.Flags().Float64Var(&distanceKm, "distance", 0, "distance in km")
	cmd.Flags().StringVar(&gridPath, "grid", "", "JSON grid file; empty uses the built-in grid")
	_ = cmd.MarkFlagRequired("time")
	_ = cmd.MarkFlagRequired("distance")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var table string
	var trials int
	var stake int64
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Estimate the return of a wager table by sampling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if trials < 1 {
				return fmt.Errorf("trials must be positive, got %d", trials)
			}
			if _, err := wager.ValidateStake(float64(stake)); err != nil {
				return err
			}
			dist, err := wager.ByName(table)
			if err != nil {
				return err
			}
			src := wager.DefaultSource()
			var paid int64
			for range trials {
				paid += wager.Payout(stake, dist.Sample(src))
			}
			staked := stake * int64(trials)
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"table %s  expected %.4f  observed %.4f  (%d trials of %d)\n",
				dist.Name(), dist.ExpectedMultiplier(), float64(paid)/float64(staked), trials, stake)
			return err
		},
	}
	cmd.Flags().StringVar(&table, "table", wager.TableStandard, "wager table: standard or classic")
	cmd.Flags().IntVar(&trials, "trials", 100_000, "number of draws")
	cmd.Flags().Int64Var(&stake, "stake", 100, "stake per draw")
	return cmd
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.InitWithWriter(os.Stdout, cfg.LogFormat); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	return run(ctx, cfg, log)
}

// run serves until ctx is done, then shuts down within the configured timeout.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	svc, err := service.New(ctx, cfg, service.WithLogger(log))
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		_ = svc.Stop(ctx)
		return fmt.Errorf("start service: %w", err)
	}

	go startServiceMetricsUpdater(ctx, svc)

	r := chi.NewRouter()
	swagger.Register(ctx, r)
	api.NewServer(svc,
		api.WithLogger(log.Named("http")),
		api.WithRateLimit(cfg.BetRatePerSecond, cfg.BetBurst),
	).Register(ctx, r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service stop failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// startServiceMetricsUpdater refreshes the gauges derived from service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	stats := svc.Stats(ctx)
	if n, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(n)
	}
	if n, ok := stats["leaderboardUsers"].(int); ok {
		metrics.UpdateLeaderboardUsers(n)
	}
	if n, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(n)
	}
}
