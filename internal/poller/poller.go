package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"celigo/internal/fileutil"
	"celigo/internal/logging"
	"celigo/internal/retry"
	"celigo/internal/scheduler"
	"celigo/internal/services"
)

// State is the poller's view of a submitted job.
type State string

const (
	StateWaiting  State = "waiting"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
	// StateTimeout is reported when the tick budget runs out before the job
	// reaches Complete or Failed. It is never folded into StateFailed.
	StateTimeout State = "timeout"
)

// Terminal reports whether s ends polling.
func (s State) Terminal() bool {
	switch s {
	case StateComplete, StateFailed, StateTimeout:
		return true
	default:
		return false
	}
}

// QueueChecker answers whether the scheduler still lists a job.
type QueueChecker interface {
	InQueue(ctx context.Context, id scheduler.JobID) (scheduler.QueueSample, error)
}

// Target identifies what to watch.
type Target struct {
	JobID      scheduler.JobID
	OutputPath string
}

// Bounds are the per-stage polling limits.
type Bounds struct {
	Interval       time.Duration
	MaxTicks       int
	GraceThreshold int
}

// Validate rejects bounds that would spin or never terminate.
func (b Bounds) Validate() error {
	switch {
	case b.Interval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", b.Interval)
	case b.MaxTicks <= 0:
		return fmt.Errorf("max ticks must be positive, got %d", b.MaxTicks)
	case b.GraceThreshold <= 0:
		return fmt.Errorf("failure grace threshold must be positive, got %d", b.GraceThreshold)
	}
	return nil
}

// Tick describes one completed poll iteration.
type Tick struct {
	Number     int
	State      State
	Grace      int
	OutputSeen bool
	Sample     scheduler.QueueSample
}

// Result is the outcome of Poll.
type Result struct {
	State      State
	Ticks      int
	LastSample scheduler.QueueSample
	Elapsed    time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithOutputCheck overrides how output existence is tested.
func WithOutputCheck(check func(path string) (bool, error)) Option {
	return func(p *Poller) {
		if check != nil {
			p.outputExists = check
		}
	}
}

// WithQueryRetry sets the retry policy applied to each queue query.
func WithQueryRetry(retries int, backoff retry.Config) Option {
	return func(p *Poller) {
		p.queryRetries = retries
		p.queryBackoff = backoff
	}
}

// WithTickObserver registers a callback invoked after every tick.
func WithTickObserver(fn func(Tick)) Option {
	return func(p *Poller) {
		p.onTick = fn
	}
}

// WithLogger sets the poller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logging.NewComponentLogger(logger, "poller")
	}
}

// Poller decides when a submitted job is done by watching for its output file
// and its presence in the scheduler queue. A Poller holds no per-job state and
// may be shared by concurrent work units.
type Poller struct {
	queue        QueueChecker
	outputExists func(string) (bool, error)
	queryRetries int
	queryBackoff retry.Config
	onTick       func(Tick)
	logger       *slog.Logger
}

// New constructs a Poller backed by queue.
func New(queue QueueChecker, opts ...Option) *Poller {
	p := &Poller{
		queue:        queue,
		outputExists: fileutil.Exists,
		logger:       logging.NewComponentLogger(nil, "poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll ticks every b.Interval until the job completes, fails, or runs out of
// ticks. Each tick first checks the output path (present means Complete no
// matter what the queue says), then samples the queue. A job seen in the queue
// is Running; once Running, consecutive absent ticks count toward the grace
// threshold and reaching it means Failed. A job never seen stays Waiting.
//
// The returned error is non-nil only when the queue could not be queried after
// retries (services.ErrQuery), the bounds are invalid, or ctx ended. Failed and
// Timeout are reported through Result.State.
func (p *Poller) Poll(ctx context.Context, target Target, b Bounds) (Result, error) {
	if err := b.Validate(); err != nil {
		return Result{State: StateWaiting}, services.Wrap(services.ErrConfiguration, "poll", "bounds", "", err)
	}
	if p.queue == nil {
		return Result{State: StateWaiting}, services.Wrap(services.ErrConfiguration, "poll", "bounds", "queue checker required", nil)
	}

	logger := logging.WithContext(ctx, p.logger).With(
		logging.String(logging.FieldJobID, string(target.JobID)),
	)
	started := time.Now()
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	state := StateWaiting
	grace := 0
	result := Result{State: state}

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			result.Elapsed = time.Since(started)
			return result, fmt.Errorf("poll %s cancelled: %w", target.JobID, ctx.Err())
		case <-ticker.C:
		}
		result.Ticks = tick

		if p.outputPresent(logger, target.OutputPath) {
			result.State = StateComplete
			p.observe(Tick{Number: tick, State: StateComplete, Grace: grace, OutputSeen: true, Sample: result.LastSample})
			result.Elapsed = time.Since(started)
			logger.Info("job output detected",
				logging.Int("tick", tick),
				logging.String("output", target.OutputPath),
				logging.String(logging.FieldEventType, "job_complete"),
			)
			return result, nil
		}

		sample, err := p.sample(ctx, logger, target.JobID)
		if err != nil {
			result.State = state
			result.Elapsed = time.Since(started)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, fmt.Errorf("poll %s cancelled: %w", target.JobID, ctxErr)
			}
			return result, err
		}
		result.LastSample = sample

		previous := state
		switch {
		case sample.Present:
			state = StateRunning
			grace = 0
		case state == StateRunning:
			grace++
			if grace >= b.GraceThreshold {
				state = StateFailed
			}
		}
		if state != previous {
			logger.Info("job state changed",
				logging.String("from", string(previous)),
				logging.String("to", string(state)),
				logging.Int("tick", tick),
				logging.String(logging.FieldEventType, "job_state"),
			)
		} else {
			logger.Debug("poll tick",
				logging.Int("tick", tick),
				logging.String("state", string(state)),
				logging.Bool("in_queue", sample.Present),
				logging.Int("grace", grace),
				logging.String(logging.FieldEventType, "poll_tick"),
			)
		}

		if state != StateFailed && tick >= b.MaxTicks {
			state = StateTimeout
		}
		result.State = state
		p.observe(Tick{Number: tick, State: state, Grace: grace, Sample: sample})
		if state.Terminal() {
			result.Elapsed = time.Since(started)
			return result, nil
		}
	}
}

func (p *Poller) outputPresent(logger *slog.Logger, path string) bool {
	if path == "" {
		return false
	}
	ok, err := p.outputExists(path)
	if err != nil {
		logging.WarnWithContext(logger, "output check failed; treating as absent", "output_check_failed",
			logging.String("output", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "completion detection delayed by one tick"),
			logging.String(logging.FieldErrorHint, "check the shared filesystem mount"),
		)
		return false
	}
	return ok
}

func (p *Poller) sample(ctx context.Context, logger *slog.Logger, id scheduler.JobID) (scheduler.QueueSample, error) {
	var sample scheduler.QueueSample
	err := retry.Do(ctx, retry.Policy{
		Retries: p.queryRetries,
		Backoff: p.queryBackoff,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			logging.WarnWithContext(logger, "queue query failed; retrying", "queue_query_retry",
				logging.Int("attempt", attempt),
				logging.Duration("wait", wait),
				logging.Error(err),
				logging.String(logging.FieldImpact, "job state unknown until the query succeeds"),
			)
		},
	}, func(ctx context.Context) error {
		s, err := p.queue.InQueue(ctx, id)
		if err != nil {
			return err
		}
		sample = s
		return nil
	})
	if err != nil && !errors.Is(err, services.ErrQuery) && ctx.Err() == nil {
		err = services.Wrap(services.ErrQuery, "poll", "queue query", string(id), err)
	}
	return sample, err
}

func (p *Poller) observe(t Tick) {
	if p.onTick != nil {
		p.onTick(t)
	}
}
