package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkspaceRoot string `toml:"workspace_root"`
	StateDir      string `toml:"state_dir"`
	LogDir        string `toml:"log_dir"`
}

// Workspace controls per work unit scratch directories.
type Workspace struct {
	// ExistingPolicy decides what Acquire does with a non-empty directory it
	// did not create: "reject", "reuse", or "clean".
	ExistingPolicy string `toml:"existing_policy"`
	// ConcurrentPolicy decides what happens when another run holds the same
	// work unit: "reject" fails fast, "serialize" waits for the lock.
	ConcurrentPolicy     string `toml:"concurrent_policy"`
	LockRetryIntervalMS  int    `toml:"lock_retry_interval_ms"`
	MinFreeGiB           int    `toml:"min_free_gib"`
	StaleAfterHours      int    `toml:"stale_after_hours"`
	KeepFailedWorkspaces bool   `toml:"keep_failed_workspaces"`
}

// Scheduler contains the batch scheduler command surface and poll defaults.
type Scheduler struct {
	SubmitCommand          string   `toml:"submit_command"`
	QueryCommand           string   `toml:"query_command"`
	QueryArgs              []string `toml:"query_args"`
	SubmitPattern          string   `toml:"submit_pattern"`
	PollIntervalSeconds    int      `toml:"poll_interval_seconds"`
	MinPollIntervalSeconds int      `toml:"min_poll_interval_seconds"`
	MaxTicks               int      `toml:"max_ticks"`
	FailureGraceThreshold  int      `toml:"failure_grace_threshold"`
	QueryRetries           int      `toml:"query_retries"`
	QueryBackoffMS         int      `toml:"query_backoff_ms"`
	QueryBackoffMaxMS      int      `toml:"query_backoff_max_ms"`
	CommandTimeoutSeconds  int      `toml:"command_timeout_seconds"`
}

// Pipeline selects the stage profile and run concurrency.
type Pipeline struct {
	Profile           string `toml:"profile"`
	ProfilePath       string `toml:"profile_path"`
	MaxConcurrentRuns int    `toml:"max_concurrent_runs"`
	StageRetries      int    `toml:"stage_retries"`
	// Params override profile parameters, e.g. pipelines_dir or partition.
	Params map[string]string `toml:"params"`
}

// Notifications contains configuration for run notifications.
type Notifications struct {
	NtfyTopic       string `toml:"ntfy_topic"`
	SlackWebhookURL string `toml:"slack_webhook_url"`
	RequestTimeout  int    `toml:"request_timeout"`
	OnSuccess       bool   `toml:"on_success"`
}

// Storage contains the S3-compatible artifact store settings.
type Storage struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Database contains the result database settings.
type Database struct {
	DSN      string `toml:"dsn"`
	Table    string `toml:"table"`
	MaxConns int    `toml:"max_conns"`
}

// Metrics controls the Prometheus endpoint.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for celigo.
//
// Configuration sections by subsystem:
//   - Paths: workspace, state, and log directories
//   - Workspace: reuse and locking policy for work unit directories
//   - Scheduler: sbatch/squeue commands and poll bounds
//   - Pipeline: stage profile and concurrency
//   - Notifications: ntfy / Slack delivery
//   - Storage: artifact bucket
//   - Database: result table
//   - Metrics: Prometheus listener
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workspace     Workspace     `toml:"workspace"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Notifications Notifications `toml:"notifications"`
	Storage       Storage       `toml:"storage"`
	Database      Database      `toml:"database"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/celigo/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config (or in the
// working directory) is loaded first so credentials can stay out of the TOML file.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads optional .env files without overriding variables already set
// in the environment.
func loadDotEnv(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env"), ".env"}
	seen := map[string]struct{}{}
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load %s: %w", abs, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("celigo.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkspaceRoot, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryPath returns the location of the run history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// StorageEnabled reports whether artifact upload is configured.
func (c *Config) StorageEnabled() bool {
	return c.Storage.Endpoint != "" && c.Storage.Bucket != ""
}

// DatabaseEnabled reports whether result upserts are configured.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.DSN != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
