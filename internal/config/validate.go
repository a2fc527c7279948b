package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkspace(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWorkspace() error {
	if strings.TrimSpace(c.Paths.WorkspaceRoot) == "" {
		return errors.New("paths.workspace_root must be set")
	}
	switch c.Workspace.ExistingPolicy {
	case PolicyReject, PolicyReuse, PolicyClean:
	default:
		return fmt.Errorf("workspace.existing_policy: unsupported value %q (want reject, reuse, or clean)", c.Workspace.ExistingPolicy)
	}
	switch c.Workspace.ConcurrentPolicy {
	case PolicyReject, PolicySerialize:
	default:
		return fmt.Errorf("workspace.concurrent_policy: unsupported value %q (want reject or serialize)", c.Workspace.ConcurrentPolicy)
	}
	if c.Workspace.MinFreeGiB < 0 {
		return errors.New("workspace.min_free_gib must be >= 0")
	}
	if c.Workspace.StaleAfterHours < 0 {
		return errors.New("workspace.stale_after_hours must be >= 0")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.PollIntervalSeconds < c.Scheduler.MinPollIntervalSeconds {
		return fmt.Errorf("scheduler.poll_interval_seconds must be >= %d", c.Scheduler.MinPollIntervalSeconds)
	}
	if c.Scheduler.MaxTicks <= 0 {
		return errors.New("scheduler.max_ticks must be positive")
	}
	if c.Scheduler.FailureGraceThreshold <= 0 {
		return errors.New("scheduler.failure_grace_threshold must be positive")
	}
	if c.Scheduler.QueryRetries < 0 {
		return errors.New("scheduler.query_retries must be >= 0")
	}
	pattern, err := regexp.Compile(c.Scheduler.SubmitPattern)
	if err != nil {
		return fmt.Errorf("scheduler.submit_pattern: %w", err)
	}
	if pattern.NumSubexp() < 1 {
		return errors.New("scheduler.submit_pattern must capture the job id in a group")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.StageRetries < 0 {
		return errors.New("pipeline.stage_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Endpoint == "" {
		return nil
	}
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket must be set when storage.endpoint is configured")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return errors.New("storage credentials missing; set storage.access_key/secret_key or CELIGO_S3_ACCESS_KEY/CELIGO_S3_SECRET_KEY")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if !tableNamePattern.MatchString(c.Database.Table) {
		return fmt.Errorf("database.table: invalid identifier %q", c.Database.Table)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}
