package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/nimbus/internal/config"
	"github.com/yairfalse/nimbus/internal/guard"
	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/internal/orchestrator"
	"github.com/yairfalse/nimbus/internal/provider/aws"
	"github.com/yairfalse/nimbus/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// app is everything a command needs, built once per invocation.
type app struct {
	cfg  *config.Config
	orch *orchestrator.Orchestrator
	out  printer
	tel  *telemetry.Provider
}

// commandFunc is the body of a subcommand.
type commandFunc func(ctx context.Context, a *app) error

// runE adapts fn into a cobra RunE that builds the app, runs fn alongside the
// signal handler and optional metrics server, and tears everything down.
func runE(fn commandFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		out, err := newPrinter(flags.output, cmd.OutOrStdout())
		if err != nil {
			return &usageError{err: err}
		}

		cfg, err := loadConfig(cmd.Flags(), flags)
		if err != nil {
			return err
		}

		if err := telemetry.SetupLogging(telemetry.LogOptions{
			Level: cfg.Log.Level,
			JSON:  flags.jsonLogs || !isatty.IsTerminal(os.Stderr.Fd()),
		}); err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := newApp(ctx, cfg, out)
		if err != nil {
			return err
		}
		defer a.close()

		return a.run(ctx, fn)
	}
}

func newApp(ctx context.Context, cfg *config.Config, out printer) (*app, error) {
	tel, err := telemetry.NewProvider(ctx, cfg.OTEL, cfg.Metrics.Addr != "")
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	p, err := aws.New(ctx, aws.Config{Region: cfg.AWS.Region, Profile: cfg.AWS.Profile})
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Clients{
		Compute:    p,
		Storage:    p,
		Logs:       p,
		Billing:    p,
		Classifier: p,
		Deployer:   p,
	}, optionsFrom(cfg)).WithRecorder(tel).WithTracer(tel.Tracer())

	if cfg.Policy.File != "" {
		engine, err := guard.Load(ctx, cfg.Policy.File)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, err
		}
		orch.WithGuard(engine)
	}

	log.Debug().
		Str("region", p.Region()).
		Str("policy", cfg.Policy.File).
		Str("metrics_addr", cfg.Metrics.Addr).
		Msg("nimbus ready")

	return &app{cfg: cfg, orch: orch, out: out, tel: tel}, nil
}

// optionsFrom maps the loaded configuration onto orchestrator options.
func optionsFrom(cfg *config.Config) orchestrator.Options {
	return orchestrator.Options{
		Wait:             cfg.WaitSpec(),
		BatchConcurrency: cfg.Batch.Concurrency,
		DefaultLogLimit:  cfg.Logs.DefaultLimit,
		LogPageSize:      cfg.Logs.PageSize,
		Cost: orchestrator.CostDefaults{
			Granularity: cfg.Cost.Granularity,
			GroupBy:     cfg.Cost.GroupBy,
			Metric:      cfg.Cost.Metric,
		},
	}
}

// run executes fn in a run group with signal handling and, when configured, a
// metrics server. The command's own error wins over the group's.
func (a *app) run(ctx context.Context, fn commandFunc) error {
	var (
		g      run.Group
		cmdErr error
	)

	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Add(func() error {
		cmdErr = fn(cmdCtx, a)
		return cmdErr
	}, func(error) {
		cancel()
	})

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if a.cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           newRouter(a.tel.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Add(func() error {
			log.Info().Str("addr", srv.Addr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Run()
	if cmdErr != nil {
		return cmdErr
	}
	var sig run.SignalError
	if errors.As(err, &sig) {
		return opserr.Cancelled("nimbus", "", err)
	}
	return err
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}
