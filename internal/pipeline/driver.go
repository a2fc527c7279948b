package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"celigo/internal/config"
	"celigo/internal/logging"
	"celigo/internal/notifications"
	"celigo/internal/observability"
	"celigo/internal/poller"
	"celigo/internal/publish"
	"celigo/internal/runs"
	"celigo/internal/services"
	"celigo/internal/stage"
	"celigo/internal/textutil"
	"celigo/internal/workspace"
)

// Pseudo-stage names reported when a run fails outside a scheduler stage.
const (
	stageWorkspace = "workspace"
	stagePublish   = "publish"
)

// Scheduler is the batch system as the driver sees it: a place to submit
// rendered scripts and a queue to watch.
type Scheduler interface {
	stage.SchedulerClient
	poller.QueueChecker
}

// Workspaces hands out work unit directories. *workspace.Manager satisfies it.
type Workspaces interface {
	PathFor(id string) string
	Acquire(ctx context.Context, id string) (*workspace.Handle, error)
	StageInput(ctx context.Context, h *workspace.Handle, sourcePath string, opts workspace.StageInputOptions) (string, error)
	Release(h *workspace.Handle) error
	Retain(h *workspace.Handle) error
}

// Driver runs work units through one stage profile.
type Driver struct {
	cfg       *config.Config
	profile   stage.Profile
	scheduler Scheduler
	submitter *stage.Submitter
	workspace Workspaces
	store     *runs.Store
	notifier  notifications.Service
	publisher publish.Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger

	pollInterval time.Duration
	retain       bool
	pollerOpts   []poller.Option
}

// Option configures optional Driver collaborators.
type Option func(*Driver)

// WithWorkspaceManager shares a workspace manager instead of building one from config.
func WithWorkspaceManager(m Workspaces) Option {
	return func(d *Driver) { d.workspace = m }
}

// WithStore records every run and stage attempt in the history store.
func WithStore(store *runs.Store) Option {
	return func(d *Driver) { d.store = store }
}

// WithNotifier replaces the notifier built from config.
func WithNotifier(n notifications.Service) Option {
	return func(d *Driver) { d.notifier = n }
}

// WithPublisher hands successful work units to p.
func WithPublisher(p publish.Publisher) Option {
	return func(d *Driver) { d.publisher = p }
}

// WithMetrics records run and stage metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithLogger sets the driver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithPollInterval overrides every stage's poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) { d.pollInterval = interval }
}

// WithRetainWorkspace keeps workspaces on disk after every run.
func WithRetainWorkspace(retain bool) Option {
	return func(d *Driver) { d.retain = retain }
}

// WithPollerOptions appends options to every stage's poller.
func WithPollerOptions(opts ...poller.Option) Option {
	return func(d *Driver) { d.pollerOpts = append(d.pollerOpts, opts...) }
}

// NewDriver validates profile and wires the driver's collaborators. A
// missing workspace manager or notifier is built from cfg; without a store
// or publisher those steps are skipped.
func NewDriver(cfg *config.Config, profile stage.Profile, sched Scheduler, opts ...Option) (*Driver, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new driver", "config required", nil)
	}
	if sched == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new driver", "scheduler required", nil)
	}
	if err := profile.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new driver", "invalid profile", err)
	}
	d := &Driver{cfg: cfg, profile: profile, scheduler: sched}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "pipeline")
	if d.workspace == nil {
		d.workspace = workspace.New(cfg, d.logger)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	d.submitter = stage.NewSubmitter(sched, d.logger)
	return d, nil
}

// Profile returns the profile the driver runs.
func (d *Driver) Profile() stage.Profile {
	return d.profile
}

// Run takes rawInputPath through every stage of the profile. The returned
// error carries the failure kind (services.ErrStageFailed,
// services.ErrStageTimeout, services.ErrSubmission, and so on); the result is
// populated either way.
func (d *Driver) Run(ctx context.Context, rawInputPath string) (WorkUnitResult, error) {
	res := WorkUnitResult{
		WorkUnitID:    textutil.WorkUnitID(rawInputPath),
		CorrelationID: uuid.NewString(),
		InputPath:     rawInputPath,
		Profile:       d.profile.Name,
		StartedAt:     time.Now(),
	}
	ctx = services.WithRequestID(ctx, res.CorrelationID)
	d.metrics.RecordRunStarted(ctx, res.Profile)
	if res.WorkUnitID == "" {
		err := services.Wrap(services.ErrWorkspace, stageWorkspace, "derive id", rawInputPath, errors.New("input name yields no work unit id"))
		d.conclude(ctx, &res, stageWorkspace, err)
		return res, err
	}
	ctx = services.WithWorkUnit(ctx, res.WorkUnitID)

	d.begin(ctx, &res)
	failedStage, err := d.withWorkspace(ctx, &res, func(h *workspace.Handle) (string, error) {
		return d.execute(ctx, &res, h)
	})
	d.conclude(ctx, &res, failedStage, err)
	return res, err
}

func (d *Driver) begin(ctx context.Context, res *WorkUnitResult) {
	logger := logging.WithContext(ctx, d.logger)
	if d.store != nil {
		run, err := d.store.Begin(ctx, runs.Run{
			CorrelationID: res.CorrelationID,
			WorkUnitID:    res.WorkUnitID,
			InputPath:     res.InputPath,
			Profile:       res.Profile,
			Workspace:     d.workspace.PathFor(res.WorkUnitID),
			StartedAt:     res.StartedAt,
		})
		if err != nil {
			logging.WarnWithContext(logger, "run history unavailable", "run_history_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this run will not appear in celigo history"),
				logging.String(logging.FieldErrorHint, "check state_dir permissions"),
			)
		} else {
			res.RunID = run.ID
		}
	}
	logger.Info("work unit started",
		logging.String("input", res.InputPath),
		logging.String("profile", res.Profile),
		logging.Int("stages", len(d.profile.Stages)),
		logging.String(logging.FieldEventType, "run_start"),
	)
}

// withWorkspace holds the work unit's workspace for the duration of fn and
// gives it up exactly once afterwards, keeping it on disk when retention was
// requested or a failed run should be kept for inspection.
func (d *Driver) withWorkspace(ctx context.Context, res *WorkUnitResult, fn func(*workspace.Handle) (string, error)) (failedStage string, err error) {
	h, err := d.workspace.Acquire(ctx, res.WorkUnitID)
	if err != nil {
		return stageWorkspace, err
	}
	res.Workspace = h.Path
	defer func() {
		keep := d.retain || (err != nil && d.cfg.Workspace.KeepFailedWorkspaces)
		relErr := d.releaseWorkspace(h, keep)
		if relErr != nil && err == nil {
			failedStage, err = stageWorkspace, relErr
		}
		res.Retained = keep && relErr == nil
	}()
	return fn(h)
}

func (d *Driver) releaseWorkspace(h *workspace.Handle, keep bool) error {
	var err error
	if keep {
		err = d.workspace.Retain(h)
	} else {
		err = d.workspace.Release(h)
	}
	if err != nil && !errors.Is(err, services.ErrWorkspace) {
		err = services.Wrap(services.ErrWorkspace, stageWorkspace, "release", h.Path, err)
	}
	return err
}
