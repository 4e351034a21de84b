package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// runLockKey names the lock every process takes before ingesting.
const runLockKey = "pipeline:run"

// Ingester performs one ingestion run.
type Ingester interface {
	Ingest(ctx context.Context) (domain.RunStats, error)
}

// Scanner looks for arbitrage after a successful run.
type Scanner interface {
	Scan(ctx context.Context) ([]domain.Opportunity, error)
}

// Alerter delivers a titled message for an event type.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RunnerDeps groups the collaborators of a Runner. Scanner and Alerter may
// be nil. Lifetime bounds every run: cancelling it stops the run in flight.
// It defaults to context.Background().
type RunnerDeps struct {
	Ingester Ingester
	Locks    domain.LockManager
	Runs     domain.RunStore
	Scanner  Scanner
	Alerter  Alerter
	Lifetime context.Context
	Logger   *slog.Logger
}

// Runner serializes pipeline runs. Callers in the same process that arrive
// while a run is in flight share its result; another process holding the
// run lock makes Run fail with domain.ErrRunInProgress.
type Runner struct {
	ingester Ingester
	locks    domain.LockManager
	runs     domain.RunStore
	scanner  Scanner
	alerter  Alerter
	lifetime context.Context
	lockTTL  time.Duration
	group    singleflight.Group
	logger   *slog.Logger

	mu        sync.Mutex
	waiters   int
	cancelRun context.CancelFunc
}

// NewRunner creates a Runner. The run lock is held for lockTTL and renewed
// every third of it while the run lasts, so lockTTL bounds how long a
// crashed process can block others. It defaults to 30 minutes.
func NewRunner(deps RunnerDeps, lockTTL time.Duration) *Runner {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	lifetime := deps.Lifetime
	if lifetime == nil {
		lifetime = context.Background()
	}
	return &Runner{
		ingester: deps.Ingester,
		locks:    deps.Locks,
		runs:     deps.Runs,
		scanner:  deps.Scanner,
		alerter:  deps.Alerter,
		lifetime: lifetime,
		lockTTL:  lockTTL,
		logger:   deps.Logger.With(slog.String("component", "runner")),
	}
}

// Run executes one pipeline run and returns its record. The record is
// returned alongside a failure so callers can report partial counts.
//
// Callers that arrive while a run is in flight join it. Cancelling ctx ends
// this caller's wait; the run itself stops once every caller has gone or
// the runner's lifetime ends.
func (r *Runner) Run(ctx context.Context, trigger domain.RunTrigger) (domain.PipelineRun, error) {
	r.mu.Lock()
	r.waiters++
	r.mu.Unlock()

	ch := r.group.DoChan(runLockKey, func() (any, error) {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(r.lifetime, cancel)
		defer stop()

		r.mu.Lock()
		r.cancelRun = cancel
		abandoned := r.waiters == 0
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			r.cancelRun = nil
			r.mu.Unlock()
		}()
		if abandoned {
			cancel()
		}
		return r.run(runCtx, trigger)
	})

	select {
	case res := <-ch:
		r.leave()
		if res.Shared {
			r.logger.DebugContext(ctx, "joined in-flight run", slog.String("trigger", string(trigger)))
		}
		run, _ := res.Val.(domain.PipelineRun)
		return run, res.Err
	case <-ctx.Done():
		r.leave()
		return domain.PipelineRun{}, fmt.Errorf("pipeline: wait for run: %w", ctx.Err())
	}
}

// leave drops a waiter and cancels the run in flight when none remain.
func (r *Runner) leave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiters--
	if r.waiters == 0 && r.cancelRun != nil {
		r.cancelRun()
	}
}

func (r *Runner) run(ctx context.Context, trigger domain.RunTrigger) (domain.PipelineRun, error) {
	lock, err := r.locks.Acquire(ctx, runLockKey, r.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.PipelineRun{}, fmt.Errorf("pipeline: %w", domain.ErrRunInProgress)
		}
		return domain.PipelineRun{}, fmt.Errorf("pipeline: acquire run lock: %w", err)
	}
	defer lock.Release()

	ctx, lost := context.WithCancelCause(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		r.keepLock(ctx, lock, lost)
	}()
	defer func() {
		lost(nil)
		<-renewed
	}()

	run := domain.PipelineRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	log := r.logger.With(slog.String("run_id", run.ID), slog.String("trigger", string(trigger)))

	if err := r.runs.Create(ctx, run); err != nil {
		log.WarnContext(ctx, "could not record run start", slog.String("error", err.Error()))
	}
	log.InfoContext(ctx, "pipeline run started")

	stats, ingestErr := r.ingester.Ingest(ctx)
	if cause := context.Cause(ctx); ingestErr != nil && errors.Is(cause, domain.ErrLockLost) {
		ingestErr = cause
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Stats = stats
	run.Status = domain.RunStatusSucceeded
	if ingestErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = ingestErr.Error()
	}

	// Record the outcome even when the caller has gone away.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.runs.Finish(finishCtx, run); err != nil {
		log.WarnContext(ctx, "could not record run finish", slog.String("error", err.Error()))
	}

	if ingestErr != nil {
		log.ErrorContext(ctx, "pipeline run failed",
			slog.Duration("elapsed", finished.Sub(run.StartedAt)),
			slog.String("error", ingestErr.Error()),
		)
		r.alert(finishCtx, log, run)
		return run, fmt.Errorf("pipeline: run %s: %w", run.ID, ingestErr)
	}

	log.InfoContext(ctx, "pipeline run succeeded",
		slog.Duration("elapsed", finished.Sub(run.StartedAt)),
		slog.Int("snapshots", stats.Snapshots),
		slog.Int("history_inserted", stats.HistoryInserted),
	)

	if r.scanner != nil {
		if _, err := r.scanner.Scan(ctx); err != nil {
			log.WarnContext(ctx, "arbitrage scan failed", slog.String("error", err.Error()))
		}
	}
	return run, nil
}

// keepLock extends the run lock until ctx ends. Losing the lock cancels the
// run with domain.ErrLockLost since another process may now be ingesting.
func (r *Runner) keepLock(ctx context.Context, lock domain.Lock, lost context.CancelCauseFunc) {
	t := time.NewTicker(r.lockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			err := lock.Extend(ctx, r.lockTTL)
			if err == nil {
				continue
			}
			if errors.Is(err, domain.ErrLockLost) {
				r.logger.ErrorContext(ctx, "run lock lost, stopping run", slog.String("error", err.Error()))
				lost(fmt.Errorf("pipeline: %w", err))
				return
			}
			if ctx.Err() == nil {
				r.logger.WarnContext(ctx, "run lock extend failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runner) alert(ctx context.Context, log *slog.Logger, run domain.PipelineRun) {
	if r.alerter == nil {
		return
	}
	msg := fmt.Sprintf("run %s (%s) failed after %d items: %s", run.ID, run.Trigger, run.Stats.Items, run.Error)
	if err := r.alerter.Notify(ctx, "pipeline_failed", "Market data update failed", msg); err != nil {
		log.WarnContext(ctx, "failure alert not delivered", slog.String("error", err.Error()))
	}
}

// Recent returns the latest run records, newest first.
func (r *Runner) Recent(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	runs, err := r.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list runs: %w", err)
	}
	return runs, nil
}
