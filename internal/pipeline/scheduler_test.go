package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

func TestScheduler_RunsOnStartThenOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var triggers []domain.RunTrigger
	run := func(_ context.Context, trigger domain.RunTrigger) (domain.PipelineRun, error) {
		mu.Lock()
		defer mu.Unlock()
		triggers = append(triggers, trigger)
		if len(triggers) == 2 {
			return domain.PipelineRun{}, domain.ErrRunInProgress
		}
		if len(triggers) >= 3 {
			cancel()
		}
		return domain.PipelineRun{}, nil
	}

	s := NewScheduler(run, SchedulerConfig{
		Interval:   5 * time.Millisecond,
		RunOnStart: true,
		Logger:     discardLogger(),
	})
	require.NoError(t, s.Run(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(triggers), 3)
	assert.Equal(t, domain.RunTriggerStartup, triggers[0])
	assert.Equal(t, domain.RunTriggerSchedule, triggers[1])
}

func TestScheduler_InvalidArchiveCronFails(t *testing.T) {
	run := func(context.Context, domain.RunTrigger) (domain.PipelineRun, error) {
		return domain.PipelineRun{}, nil
	}
	s := NewScheduler(run, SchedulerConfig{
		Interval:    time.Hour,
		Archiver:    NewArchiver(&recordingArchiver{}, discardLogger()),
		ArchiveCron: "not a cron",
		Logger:      discardLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiver")
}
