package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"celigo/internal/config"
	"celigo/internal/fileutil"
	"celigo/internal/logging"
	"celigo/internal/services"
)

const (
	// OwnerMarker is written into every workspace this package creates so
	// cleanup never touches directories it does not own.
	OwnerMarker = ".celigo-owner"
	lockDirName = ".locks"
	stageName   = "workspace"
)

// ErrAlreadyReleased is returned by a second Release or Retain on the same handle.
var ErrAlreadyReleased = errors.New("workspace already released")

// Options configures a Manager.
type Options struct {
	Root              string
	ExistingPolicy    string
	ConcurrentPolicy  string
	LockRetryInterval time.Duration
	MinFreeBytes      uint64
}

// Manager creates, hands out, and removes per work unit directories under a
// single root.
type Manager struct {
	opts      Options
	logger    *slog.Logger
	freeSpace func(string) (uint64, error)
}

// Handle is an acquired workspace. It must be passed to exactly one of
// Release or Retain.
type Handle struct {
	ID   string
	Path string

	lock     *flock.Flock
	released atomic.Bool
}

// StageInputOptions controls StageInput.
type StageInputOptions struct {
	// Overwrite replaces a differing file of the same name already in the workspace.
	Overwrite bool
}

// New builds a Manager from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Manager {
	return NewWithOptions(Options{
		Root:              cfg.Paths.WorkspaceRoot,
		ExistingPolicy:    cfg.Workspace.ExistingPolicy,
		ConcurrentPolicy:  cfg.Workspace.ConcurrentPolicy,
		LockRetryInterval: time.Duration(cfg.Workspace.LockRetryIntervalMS) * time.Millisecond,
		MinFreeBytes:      uint64(cfg.Workspace.MinFreeGiB) << 30,
	}, logger)
}

// NewWithOptions builds a Manager from explicit options.
func NewWithOptions(opts Options, logger *slog.Logger) *Manager {
	if opts.ExistingPolicy == "" {
		opts.ExistingPolicy = config.PolicyReject
	}
	if opts.ConcurrentPolicy == "" {
		opts.ConcurrentPolicy = config.PolicyReject
	}
	if opts.LockRetryInterval <= 0 {
		opts.LockRetryInterval = 500 * time.Millisecond
	}
	return &Manager{
		opts:      opts,
		logger:    logging.NewComponentLogger(logger, "workspace"),
		freeSpace: fileutil.FreeBytes,
	}
}

// Root returns the directory holding every workspace.
func (m *Manager) Root() string {
	return m.opts.Root
}

// PathFor returns the workspace directory for id without creating it.
func (m *Manager) PathFor(id string) string {
	return filepath.Join(m.opts.Root, id)
}

// Acquire creates or claims the workspace for id. A directory that is empty
// or whose owner marker names id is reused; any other non-empty one is
// handled according to the existing-directory policy. A second concurrent claim on the same id is
// rejected or waits, depending on the concurrency policy.
func (m *Manager) Acquire(ctx context.Context, id string) (*Handle, error) {
	if err := validateID(id); err != nil {
		return nil, services.Wrap(services.ErrWorkspace, stageName, "acquire", "invalid work unit id", err)
	}
	lockDir := filepath.Join(m.opts.Root, lockDirName)
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrWorkspace, stageName, "acquire", "create workspace root", err)
	}
	if err := m.checkFreeSpace(); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(lockDir, id+".lock"))
	if err := m.lock(ctx, lock, id); err != nil {
		return nil, err
	}

	path := m.PathFor(id)
	if err := m.prepareDir(path, id); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	m.logger.Debug("workspace acquired",
		logging.String(logging.FieldWorkUnit, id),
		logging.String("path", path),
		logging.String(logging.FieldEventType, "workspace_acquired"),
	)
	return &Handle{ID: id, Path: path, lock: lock}, nil
}

func (m *Manager) lock(ctx context.Context, lock *flock.Flock, id string) error {
	if m.opts.ConcurrentPolicy == config.PolicySerialize {
		ok, err := lock.TryLockContext(ctx, m.opts.LockRetryInterval)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return services.Wrap(services.ErrWorkUnitBusy, stageName, "lock", "gave up waiting for "+id, ctxErr)
			}
			return services.Wrap(services.ErrWorkspace, stageName, "lock", id, err)
		}
		if !ok {
			return services.Wrap(services.ErrWorkUnitBusy, stageName, "lock", id, nil)
		}
		return nil
	}
	ok, err := lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrWorkspace, stageName, "lock", id, err)
	}
	if !ok {
		return services.Wrap(services.ErrWorkUnitBusy, stageName, "lock", "another run holds "+id, nil)
	}
	return nil
}

func (m *Manager) prepareDir(path, id string) error {
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return createOwned(path, id)
	case err != nil:
		return services.Wrap(services.ErrWorkspace, stageName, "acquire", "stat workspace", err)
	case !info.IsDir():
		return services.Wrap(services.ErrWorkspace, stageName, "acquire", fmt.Sprintf("%s exists and is not a directory", path), nil)
	}

	empty, err := fileutil.DirEmpty(path, OwnerMarker)
	if err != nil {
		return services.Wrap(services.ErrWorkspace, stageName, "acquire", "read workspace", err)
	}
	if empty {
		return writeMarker(path, id)
	}
	owned, err := ownedBy(path, id)
	if err != nil {
		return services.Wrap(services.ErrWorkspace, stageName, "acquire", "read owner marker", err)
	}
	if owned {
		m.logger.Debug("reclaiming workspace left by an earlier run",
			logging.String(logging.FieldWorkUnit, id),
			logging.String("path", path),
		)
		return nil
	}

	switch m.opts.ExistingPolicy {
	case config.PolicyReuse:
		logging.WarnWithContext(m.logger, "reusing non-empty workspace", "workspace_reused",
			logging.String(logging.FieldWorkUnit, id),
			logging.String("path", path),
			logging.String(logging.FieldImpact, "stage outputs left from an earlier run count as complete"),
			logging.String(logging.FieldErrorHint, "set workspace.existing_policy = \"clean\" to start fresh"),
		)
		return writeMarker(path, id)
	case config.PolicyClean:
		if err := os.RemoveAll(path); err != nil {
			return services.Wrap(services.ErrWorkspace, stageName, "acquire", "clean existing workspace", err)
		}
		m.logger.Info("cleaned existing workspace",
			logging.String(logging.FieldWorkUnit, id),
			logging.String("path", path),
			logging.String(logging.FieldEventType, "workspace_cleaned"),
		)
		return createOwned(path, id)
	default:
		return services.Wrap(services.ErrWorkspace, stageName, "acquire",
			fmt.Sprintf("%s already contains files from another run", path), nil)
	}
}

// ownedBy reports whether the owner marker in path names id.
func ownedBy(path, id string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(path, OwnerMarker))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(data)) == id, nil
}

func createOwned(path, id string) error {
	if err := os.Mkdir(path, 0o755); err != nil {
		return services.Wrap(services.ErrWorkspace, stageName, "acquire", "create workspace", err)
	}
	return writeMarker(path, id)
}

func writeMarker(path, id string) error {
	if err := os.WriteFile(filepath.Join(path, OwnerMarker), []byte(id+"\n"), 0o644); err != nil {
		return services.Wrap(services.ErrWorkspace, stageName, "acquire", "write owner marker", err)
	}
	return nil
}

func (m *Manager) checkFreeSpace() error {
	if m.opts.MinFreeBytes == 0 || m.freeSpace == nil {
		return nil
	}
	free, err := m.freeSpace(m.opts.Root)
	if err != nil {
		return services.Wrap(services.ErrWorkspace, stageName, "acquire", "check free space", err)
	}
	if free < m.opts.MinFreeBytes {
		return services.Wrap(services.ErrWorkspace, stageName, "acquire",
			fmt.Sprintf("only %d MiB free under %s, need %d MiB", free>>20, m.opts.Root, m.opts.MinFreeBytes>>20), nil)
	}
	return nil
}

// StageInput copies sourcePath into the workspace and returns the staged path.
// An identical file already present is accepted as is; a differing one is only
// replaced when opts.Overwrite is set.
func (m *Manager) StageInput(ctx context.Context, h *Handle, sourcePath string, opts StageInputOptions) (string, error) {
	if h == nil || h.released.Load() {
		return "", services.Wrap(services.ErrWorkspace, stageName, "stage input", "workspace not held", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := filepath.Join(h.Path, filepath.Base(sourcePath))
	err := fileutil.CopyFileVerified(sourcePath, dst, fileutil.CopyOptions{Overwrite: opts.Overwrite})
	if errors.Is(err, fileutil.ErrDestinationExists) {
		same, cmpErr := fileutil.SameContent(sourcePath, dst)
		if cmpErr == nil && same {
			m.logger.Debug("input already staged",
				logging.String(logging.FieldWorkUnit, h.ID),
				logging.String("path", dst),
			)
			return dst, nil
		}
	}
	if err != nil {
		return "", services.Wrap(services.ErrWorkspace, stageName, "stage input", sourcePath, err)
	}
	m.logger.Info("input staged",
		logging.String(logging.FieldWorkUnit, h.ID),
		logging.String("source", sourcePath),
		logging.String("path", dst),
		logging.String(logging.FieldEventType, "input_staged"),
	)
	return dst, nil
}

// Release deletes the workspace directory and drops the work unit lock.
func (m *Manager) Release(h *Handle) error {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	defer h.unlock()
	if err := os.RemoveAll(h.Path); err != nil {
		return services.Wrap(services.ErrWorkspace, stageName, "release", h.Path, err)
	}
	m.logger.Debug("workspace released",
		logging.String(logging.FieldWorkUnit, h.ID),
		logging.String(logging.FieldEventType, "workspace_released"),
	)
	return nil
}

// Retain drops the work unit lock but keeps the directory for inspection.
func (m *Manager) Retain(h *Handle) error {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	h.unlock()
	m.logger.Info("workspace retained",
		logging.String(logging.FieldWorkUnit, h.ID),
		logging.String("path", h.Path),
		logging.String(logging.FieldEventType, "workspace_retained"),
	)
	return nil
}

func (h *Handle) unlock() {
	if h.lock != nil {
		_ = h.lock.Unlock()
	}
}

func validateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("empty id")
	case id == "." || id == ".." || id == lockDirName:
		return fmt.Errorf("reserved id %q", id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("id %q contains a path separator", id)
	}
	return nil
}
