package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/evemarket/internal/arbitrage"
	"github.com/alanyoungcy/evemarket/internal/domain"
	"github.com/alanyoungcy/evemarket/internal/pipeline"
	"github.com/alanyoungcy/evemarket/internal/server"
	"github.com/alanyoungcy/evemarket/internal/server/handler"
	"github.com/alanyoungcy/evemarket/internal/service"
)

// components are the services every mode builds from the same dependencies.
type components struct {
	query  *service.QueryService
	runner *pipeline.Runner
}

// buildComponents wires the services. Pipeline runs stop when ctx ends.
func (a *App) buildComponents(ctx context.Context, deps *Dependencies) components {
	query := service.NewQueryService(deps.Items, deps.Regions, deps.Snapshots, deps.History, deps.SnapshotCache, a.root)
	catalog := service.NewCatalogService(deps.Items, deps.Regions, deps.ESI, a.cfg.Catalog.RefreshAfter.Duration, a.root)

	ingestor := pipeline.NewIngestor(pipeline.IngestorConfig{
		Regions:       seedRegions(a.cfg.Regions),
		ItemLimit:     a.cfg.Pipeline.ItemLimit,
		HistoryDays:   a.cfg.Pipeline.HistoryDays,
		BatchSize:     a.cfg.Pipeline.BatchSize,
		CommitTimeout: a.cfg.Pipeline.CommitTimeout.Duration,
		SkipCatalog:   a.cfg.Pipeline.SkipCatalog,
	}, pipeline.IngestorDeps{
		Source:  deps.ESI,
		Catalog: catalog,
		Items:   deps.Items,
		History: deps.History,
		Writer:  deps.Batches,
		Store:   deps.Store,
		Cache:   deps.SnapshotCache,
		Logger:  a.root,
	})

	runnerDeps := pipeline.RunnerDeps{
		Ingester: ingestor,
		Locks:    deps.LockManager,
		Runs:     deps.Runs,
		Lifetime: ctx,
		Logger:   a.root,
	}
	if deps.Notifier.Enabled() {
		runnerDeps.Alerter = deps.Notifier
		if a.cfg.Arbitrage.AlertTop > 0 {
			runnerDeps.Scanner = arbitrage.NewDetector(arbitrage.DetectorConfig{
				Source:    query,
				Namer:     query,
				Alerter:   deps.Notifier,
				MinProfit: a.cfg.Arbitrage.MinProfit,
				Top:       a.cfg.Arbitrage.AlertTop,
				Logger:    a.root,
			})
		}
	}

	return components{
		query:  query,
		runner: pipeline.NewRunner(runnerDeps, a.cfg.Pipeline.LockTTL.Duration),
	}
}

// OnceMode performs a single pipeline run and returns its outcome.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	c := a.buildComponents(ctx, deps)
	run, err := c.runner.Run(ctx, domain.RunTriggerManual)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}
	a.logger.InfoContext(ctx, "run complete",
		slog.String("run_id", run.ID),
		slog.Int("items", run.Stats.Items),
		slog.Int("snapshots", run.Stats.Snapshots),
		slog.Int("history_inserted", run.Stats.HistoryInserted),
		slog.Int("transient_failures", run.Stats.TransientFailures),
		slog.Int("permanent_failures", run.Stats.PermanentFailures),
	)
	return nil
}

// ScrapeMode runs the scheduler without the HTTP API.
func (a *App) ScrapeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scrape mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildComponents(ctx, deps)
	a.startScheduler(ctx, g, deps, c)
	return g.Wait()
}

// ServeMode serves the HTTP API only. Runs happen through the trigger
// endpoint or another process.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildComponents(ctx, deps)
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// FullMode runs the scheduler and the HTTP API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	c := a.buildComponents(ctx, deps)
	a.startScheduler(ctx, g, deps, c)
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, c components) {
	var archiver *pipeline.Archiver
	if deps.Archiver != nil && a.cfg.Pipeline.ArchiveCron != "" {
		archiver = pipeline.NewArchiver(deps.Archiver, a.root)
	}
	sched := pipeline.NewScheduler(c.runner.Run, pipeline.SchedulerConfig{
		Interval:    a.cfg.Pipeline.Interval.Duration,
		RunOnStart:  a.cfg.Pipeline.RunOnStart,
		Archiver:    archiver,
		ArchiveCron: a.cfg.Pipeline.ArchiveCron,
		Logger:      a.root,
	})
	g.Go(func() error {
		return sched.Run(ctx)
	})
}

// startHTTPServer adds an HTTP server goroutine to the given errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c components) {
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		WriteTimeout:    a.cfg.Server.WriteTimeout.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Store, a.root),
		Markets:  handler.NewMarketHandler(c.query, a.root),
		Arb:      handler.NewArbHandler(c.query, a.cfg.Arbitrage.MinProfit, a.root),
		Pipeline: handler.NewPipelineHandler(c.runner, a.root),
	}, deps.APILimiter, a.root)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
