package pipeline

import (
	"time"

	"celigo/internal/poller"
	"celigo/internal/publish"
	"celigo/internal/runs"
	"celigo/internal/scheduler"
)

// StageOutcome is the record of one stage in a work unit's run.
type StageOutcome struct {
	Stage      string
	JobID      scheduler.JobID
	State      poller.State
	Ticks      int
	Attempts   int
	OutputPath string
	Elapsed    time.Duration
}

// WorkUnitResult is what Run reports for one raw input.
type WorkUnitResult struct {
	WorkUnitID    string
	CorrelationID string
	RunID         int64
	InputPath     string
	Profile       string
	Workspace     string
	// Retained is set when the workspace was kept on disk.
	Retained    bool
	Status      runs.Status
	FailedStage string
	ErrorKind   string
	Stages      []StageOutcome
	Artifacts   []publish.Artifact
	Record      *publish.Record
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Succeeded reports whether every stage completed and the results were published.
func (r WorkUnitResult) Succeeded() bool {
	return r.Status == runs.StatusComplete
}

// Duration returns the wall time of the run.
func (r WorkUnitResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FinalOutput returns the output path of the last completed stage.
func (r WorkUnitResult) FinalOutput() string {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if r.Stages[i].State == poller.StateComplete {
			return r.Stages[i].OutputPath
		}
	}
	return ""
}
