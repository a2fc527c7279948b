package runs

import "time"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusTimeout  Status = "timeout"
)

// Terminal reports whether the run has finished.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusTimeout
}

// Run is one driver invocation over a raw input.
type Run struct {
	ID            int64
	CorrelationID string
	WorkUnitID    string
	InputPath     string
	Profile       string
	Workspace     string
	Status        Status
	FailedStage   string
	ErrorKind     string
	ErrorMessage  string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StageResult records one submitted stage attempt.
type StageResult struct {
	ID          int64
	RunID       int64
	Stage       string
	Attempt     int
	JobID       string
	State       string
	Ticks       int
	OutputPath  string
	Detail      string
	SubmittedAt *time.Time
	FinishedAt  time.Time
}

// Summary counts runs started on one day. Running covers runs that have not
// reached a terminal status.
type Summary struct {
	Day      time.Time
	Total    int
	Complete int
	Failed   int
	Timeout  int
	Running  int
}
