package domain

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunTrigger records what started a pipeline run.
type RunTrigger string

const (
	RunTriggerSchedule RunTrigger = "schedule"
	RunTriggerManual   RunTrigger = "manual"
	RunTriggerStartup  RunTrigger = "startup"
)

// RunStats counts the outcome of every unit of work in a run.
type RunStats struct {
	Items             int `json:"items"`
	Pairs             int `json:"pairs"`
	Snapshots         int `json:"snapshots"`
	HistoryInserted   int `json:"history_inserted"`
	HistorySkipped    int `json:"history_skipped"`
	TransientFailures int `json:"transient_failures"`
	PermanentFailures int `json:"permanent_failures"`
	BatchesCommitted  int `json:"batches_committed"`
	BatchesFailed     int `json:"batches_failed"`
}

// Add accumulates the counters of o into s.
func (s *RunStats) Add(o RunStats) {
	s.Items += o.Items
	s.Pairs += o.Pairs
	s.Snapshots += o.Snapshots
	s.HistoryInserted += o.HistoryInserted
	s.HistorySkipped += o.HistorySkipped
	s.TransientFailures += o.TransientFailures
	s.PermanentFailures += o.PermanentFailures
	s.BatchesCommitted += o.BatchesCommitted
	s.BatchesFailed += o.BatchesFailed
}

// PipelineRun is the persisted record of one ingestion run.
type PipelineRun struct {
	ID         string     `json:"id"`
	Trigger    RunTrigger `json:"trigger"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Stats      RunStats   `json:"stats"`
	Error      string     `json:"error,omitempty"`
}
