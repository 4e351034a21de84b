package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// RunFunc starts one pipeline run.
type RunFunc func(ctx context.Context, trigger domain.RunTrigger) (domain.PipelineRun, error)

// Scheduler drives periodic pipeline runs and, when configured, the monthly
// archive job.
type Scheduler struct {
	run         RunFunc
	interval    time.Duration
	runOnStart  bool
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// SchedulerConfig configures a Scheduler. A nil Archiver disables archiving.
type SchedulerConfig struct {
	Interval    time.Duration
	RunOnStart  bool
	Archiver    *Archiver
	ArchiveCron string
	Logger      *slog.Logger
}

// NewScheduler creates a Scheduler around run.
func NewScheduler(run RunFunc, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Scheduler{
		run:         run,
		interval:    cfg.Interval,
		runOnStart:  cfg.RunOnStart,
		archiver:    cfg.Archiver,
		archiveCron: cfg.ArchiveCron,
		logger:      cfg.Logger.With(slog.String("component", "scheduler")),
	}
}

// Run blocks until ctx is cancelled. Individual run failures are logged and
// never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting",
		slog.Duration("interval", s.interval),
		slog.Bool("run_on_start", s.runOnStart),
		slog.String("archive_cron", s.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.loop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("scrape loop: %w", err)
	})

	if s.archiver != nil && s.archiveCron != "" {
		g.Go(func() error {
			err := s.archiver.RunCron(ctx, s.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) error {
	if s.runOnStart {
		s.tick(ctx, domain.RunTriggerStartup)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, domain.RunTriggerSchedule)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, trigger domain.RunTrigger) {
	_, err := s.run(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRunInProgress):
		s.logger.InfoContext(ctx, "skipping tick, another run holds the lock")
	case ctx.Err() != nil:
	default:
		s.logger.ErrorContext(ctx, "scheduled run failed", slog.String("error", err.Error()))
	}
}
