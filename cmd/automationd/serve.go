package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/config"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/logging"
)

const readHeaderTimeout = 10 * time.Second

// serveOptions selects which parts of the process run.
type serveOptions struct {
	api       bool
	scheduler bool
}

func newServeCmd(load func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, tick loop and background workers",
		Long: `Run the HTTP API together with the tick loop (unless SCHEDULER_ENABLED=false),
the stale claim reconciler and the run analytics consumer.

Several instances may run against the same store; the scheduler lease
ensures only one of them processes due jobs per tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load()
			return runProcess(cmd.Context(), cfg, serveOptions{api: true, scheduler: cfg.SchedulerEnabled})
		},
	}
}

func newSchedulerCmd(load func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run only the tick loop and background workers (no API)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProcess(cmd.Context(), load(), serveOptions{scheduler: true})
		},
	}
}

// runProcess validates cfg, wires the app and serves until SIGINT or SIGTERM.
func runProcess(ctx context.Context, cfg config.Config, opts serveOptions) error {
	if err := config.Validate(cfg); err != nil {
		return withExit(exitInvalidConfig, err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return withExit(exitInvalidConfig, err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logging.Component(logger, "automationd")

	logConfigWarnings(cfg, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return withExit(exitRuntimeError, err)
	}
	defer a.close()

	logger.Info("automationd: started",
		zap.String("version", version),
		zap.Bool("api", opts.api),
		zap.Bool("scheduler", opts.scheduler),
		zap.String("store", cfg.StoreBackend),
		zap.String("lease", cfg.LeaseBackend))
	if err := a.serve(ctx, opts); err != nil {
		return withExit(exitRuntimeError, err)
	}
	logger.Info("automationd: stopped")
	return nil
}

// serve runs the selected components until ctx is done or one of them
// fails, then stops them in order: producers first, then the event bus
// drain, then the HTTP servers.
func (a *app) serve(ctx context.Context, opts serveOptions) error {
	g, gctx := errgroup.WithContext(ctx)

	var servers []*http.Server
	if opts.api {
		servers = append(servers, &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: readHeaderTimeout,
		})
	}
	if h := a.metricsHandler(); h != nil {
		mux := http.NewServeMux()
		mux.Handle(a.cfg.MetricsPath, h)
		servers = append(servers, &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		})
	}
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			a.logger.Info("http: listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrapf(err, "listen on %s", srv.Addr)
			}
			return nil
		})
	}

	var producers sync.WaitGroup
	if opts.scheduler {
		producers.Add(1)
		g.Go(func() error {
			defer producers.Done()
			return a.runner.Run(gctx)
		})
	} else {
		a.logger.Info("scheduler: disabled in this process")
	}
	if a.reconciler != nil {
		producers.Add(1)
		g.Go(func() error {
			defer producers.Done()
			a.reconciler.Run(gctx)
			return nil
		})
	}

	// The bus outlives gctx so events published by the last tick are drained.
	busCtx, stopBus := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBus()
	busDone := make(chan struct{})
	if a.bus != nil {
		go func() {
			defer close(busDone)
			a.bus.Consume(busCtx, a.analytics.Record)
		}()
	} else {
		close(busDone)
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("automationd: shutting down")

		producers.Wait()
		stopBus()
		<-busDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http: shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		return nil
	})

	return g.Wait()
}
