package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"celigo/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkspaceRoot = filepath.Join(base, "workspaces")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Workspace.MinFreeGiB = 0
	cfgVal.Scheduler.PollIntervalSeconds = 1
	cfgVal.Scheduler.MaxTicks = 10
	cfgVal.Scheduler.QueryRetries = 0
	cfgVal.Scheduler.QueryBackoffMS = 1
	cfgVal.Scheduler.QueryBackoffMaxMS = 1
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Notifications.SlackWebhookURL = ""
	cfgVal.Storage.Endpoint = ""
	cfgVal.Database.DSN = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithProfile selects the stage profile on the test config.
func WithProfile(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Profile = name
	}
}

// WithNtfyTopic points notifications at the provided topic URL.
func WithNtfyTopic(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = url
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the scheduler's submit and query
// binaries are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Scheduler.SubmitCommand, b.cfg.Scheduler.QueryCommand}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkspaceRoot)
}
