package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkspace()
	c.normalizeScheduler()
	if err := c.normalizePipeline(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeStorage()
	c.normalizeDatabase()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkspaceRoot) == "" {
		c.Paths.WorkspaceRoot = defaultWorkspaceRoot
	}
	if c.Paths.WorkspaceRoot, err = expandPath(c.Paths.WorkspaceRoot); err != nil {
		return fmt.Errorf("paths.workspace_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkspace() {
	c.Workspace.ExistingPolicy = strings.ToLower(strings.TrimSpace(c.Workspace.ExistingPolicy))
	if c.Workspace.ExistingPolicy == "" {
		c.Workspace.ExistingPolicy = defaultExistingPolicy
	}
	c.Workspace.ConcurrentPolicy = strings.ToLower(strings.TrimSpace(c.Workspace.ConcurrentPolicy))
	if c.Workspace.ConcurrentPolicy == "" {
		c.Workspace.ConcurrentPolicy = defaultConcurrentPolicy
	}
	if c.Workspace.LockRetryIntervalMS <= 0 {
		c.Workspace.LockRetryIntervalMS = defaultLockRetryIntervalMS
	}
}

func (c *Config) normalizeScheduler() {
	c.Scheduler.SubmitCommand = strings.TrimSpace(c.Scheduler.SubmitCommand)
	if c.Scheduler.SubmitCommand == "" {
		c.Scheduler.SubmitCommand = defaultSubmitCommand
	}
	c.Scheduler.QueryCommand = strings.TrimSpace(c.Scheduler.QueryCommand)
	if c.Scheduler.QueryCommand == "" {
		c.Scheduler.QueryCommand = defaultQueryCommand
	}
	if strings.TrimSpace(c.Scheduler.SubmitPattern) == "" {
		c.Scheduler.SubmitPattern = defaultSubmitPattern
	}
	if c.Scheduler.MinPollIntervalSeconds <= 0 {
		c.Scheduler.MinPollIntervalSeconds = defaultMinPollIntervalSeconds
	}
	if c.Scheduler.QueryBackoffMS <= 0 {
		c.Scheduler.QueryBackoffMS = defaultQueryBackoffMS
	}
	if c.Scheduler.QueryBackoffMaxMS <= 0 {
		c.Scheduler.QueryBackoffMaxMS = defaultQueryBackoffMaxMS
	}
	if c.Scheduler.CommandTimeoutSeconds <= 0 {
		c.Scheduler.CommandTimeoutSeconds = defaultCommandTimeoutSeconds
	}
}

func (c *Config) normalizePipeline() error {
	c.Pipeline.Profile = strings.TrimSpace(c.Pipeline.Profile)
	if c.Pipeline.Profile == "" {
		c.Pipeline.Profile = defaultProfile
	}
	if strings.TrimSpace(c.Pipeline.ProfilePath) != "" {
		expanded, err := expandPath(c.Pipeline.ProfilePath)
		if err != nil {
			return fmt.Errorf("pipeline.profile_path: %w", err)
		}
		c.Pipeline.ProfilePath = expanded
	}
	if c.Pipeline.MaxConcurrentRuns <= 0 {
		c.Pipeline.MaxConcurrentRuns = 1
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("CELIGO_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	if c.Notifications.SlackWebhookURL == "" {
		if value, ok := os.LookupEnv("SLACK_WEBHOOK_URL"); ok {
			c.Notifications.SlackWebhookURL = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.SlackWebhookURL = strings.TrimSpace(c.Notifications.SlackWebhookURL)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeStorage() {
	if c.Storage.Endpoint == "" {
		c.Storage.Endpoint = os.Getenv("CELIGO_S3_ENDPOINT")
	}
	if c.Storage.AccessKey == "" {
		c.Storage.AccessKey = os.Getenv("CELIGO_S3_ACCESS_KEY")
	}
	if c.Storage.SecretKey == "" {
		c.Storage.SecretKey = os.Getenv("CELIGO_S3_SECRET_KEY")
	}
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
}

func (c *Config) normalizeDatabase() {
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("CELIGO_DATABASE_URL"); ok {
			c.Database.DSN = value
		} else {
			c.Database.DSN = os.Getenv("DATABASE_URL")
		}
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	c.Database.Table = strings.TrimSpace(c.Database.Table)
	if c.Database.Table == "" {
		c.Database.Table = defaultDatabaseTable
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = defaultDatabaseMaxConns
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
