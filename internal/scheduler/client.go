package scheduler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"celigo/internal/config"
	"celigo/internal/services"
)

// JobID is the identifier the scheduler assigns at submission.
type JobID string

// QueueSample is one observation of the scheduler queue for a job.
type QueueSample struct {
	JobID     JobID
	Present   bool
	Output    string
	SampledAt time.Time
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithClock overrides the sample timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// unknownJobMarkers identify query failures that mean the scheduler has
// already forgotten the job, which is the same as it being absent.
var unknownJobMarkers = []string{"invalid job id specified"}

// Client wraps the submission and queue query commands.
type Client struct {
	submitBinary  string
	queryBinary   string
	queryArgs     []string
	submitPattern *regexp.Regexp
	timeout       time.Duration
	exec          Executor
	now           func() time.Time
}

// New constructs a scheduler client from the scheduler config section.
func New(cfg config.Scheduler, opts ...Option) (*Client, error) {
	submit := strings.TrimSpace(cfg.SubmitCommand)
	query := strings.TrimSpace(cfg.QueryCommand)
	if submit == "" || query == "" {
		return nil, errors.New("scheduler submit and query commands required")
	}
	pattern, err := regexp.Compile(cfg.SubmitPattern)
	if err != nil {
		return nil, fmt.Errorf("compile submit pattern: %w", err)
	}
	if pattern.NumSubexp() < 1 {
		return nil, errors.New("submit pattern must capture the job id")
	}
	client := &Client{
		submitBinary:  submit,
		queryBinary:   query,
		queryArgs:     append([]string(nil), cfg.QueryArgs...),
		submitPattern: pattern,
		timeout:       time.Duration(cfg.CommandTimeoutSeconds) * time.Second,
		exec:          commandExecutor{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Submit hands scriptPath to the scheduler and returns the acknowledged job id
// together with the raw acknowledgment text.
func (c *Client) Submit(ctx context.Context, scriptPath string) (JobID, string, error) {
	if strings.TrimSpace(scriptPath) == "" {
		return "", "", services.Wrap(services.ErrSubmission, "scheduler", "submit", "script path required", nil)
	}
	stdout, err := c.run(ctx, c.submitBinary, []string{scriptPath})
	if err != nil {
		return "", stdout, services.Wrap(services.ErrSubmission, "scheduler", c.submitBinary, scriptPath, err)
	}
	id, ok := ParseSubmission(c.submitPattern, stdout)
	if !ok {
		return "", stdout, services.Wrap(services.ErrSubmission, "scheduler", c.submitBinary,
			fmt.Sprintf("unrecognized acknowledgment %q", strings.TrimSpace(stdout)), nil)
	}
	return id, stdout, nil
}

// InQueue reports whether the scheduler still lists id. A failing query
// command is returned as a query error and is never reported as absence,
// except for the scheduler's explicit unknown-job response.
func (c *Client) InQueue(ctx context.Context, id JobID) (QueueSample, error) {
	sample := QueueSample{JobID: id}
	if id == "" {
		return sample, services.Wrap(services.ErrQuery, "scheduler", "query", "job id required", nil)
	}
	args := append(append([]string(nil), c.queryArgs...), string(id))
	stdout, err := c.run(ctx, c.queryBinary, args)
	sample.SampledAt = c.now()
	sample.Output = stdout
	if err != nil {
		if isUnknownJob(err, stdout) {
			return sample, nil
		}
		return sample, services.Wrap(services.ErrQuery, "scheduler", c.queryBinary, string(id), err)
	}
	sample.Present = ParseQueue(stdout)
	return sample, nil
}

func (c *Client) run(ctx context.Context, binary string, args []string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var out strings.Builder
	err := c.exec.Run(ctx, binary, args, func(line string) {
		out.WriteString(line)
		out.WriteByte('\n')
	})
	return out.String(), err
}

// ParseSubmission extracts the job id from a submission acknowledgment.
func ParseSubmission(pattern *regexp.Regexp, output string) (JobID, bool) {
	match := pattern.FindStringSubmatch(output)
	if len(match) < 2 || strings.TrimSpace(match[1]) == "" {
		return "", false
	}
	return JobID(strings.TrimSpace(match[1])), true
}

// ParseQueue reports whether query output holds at least one data row after
// the header row.
func ParseQueue(output string) bool {
	rows := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			rows++
		}
	}
	return rows >= 2
}

func isUnknownJob(err error, stdout string) bool {
	text := strings.ToLower(err.Error() + "\n" + stdout)
	for _, marker := range unknownJobMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
