package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"celigo/internal/config"
)

const userAgent = "Celigo-Go/0.1.0"

// Event describes the end of one work unit's run.
type Event struct {
	WorkUnitID string
	// Status is the terminal run status: complete, failed, or timeout.
	Status string
	Stage  string
	Detail string
	Hint   string
	At     time.Time
}

// Report is the per-day run summary.
type Report struct {
	Day      time.Time
	Total    int
	Complete int
	Failed   int
	Timeout  int
}

// Service defines the notification surface exposed to the pipeline driver.
type Service interface {
	NotifyRunFailed(ctx context.Context, event Event) error
	NotifyRunCompleted(ctx context.Context, event Event) error
	NotifyDailyReport(ctx context.Context, report Report) error
	TestNotification(ctx context.Context) error
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// sender delivers a payload over one transport.
type sender interface {
	send(ctx context.Context, data payload) error
}

// NewService builds a notification service that fans out to every
// configured transport (ntfy topic, Slack webhook). With none configured a
// noop implementation is returned.
func NewService(cfg *config.Config) Service {
	n := cfg.Notifications
	timeout := time.Duration(n.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var senders []sender
	if topic := strings.TrimSpace(n.NtfyTopic); topic != "" {
		senders = append(senders, newNtfySender(topic, timeout))
	}
	if hook := strings.TrimSpace(n.SlackWebhookURL); hook != "" {
		senders = append(senders, newSlackSender(hook, timeout))
	}
	if len(senders) == 0 {
		return noopService{}
	}
	return &service{senders: senders, onSuccess: n.OnSuccess}
}

type service struct {
	senders   []sender
	onSuccess bool
}

var titleCaser = cases.Title(language.English)

func (s *service) NotifyRunFailed(ctx context.Context, event Event) error {
	status := strings.TrimSpace(event.Status)
	if status == "" {
		status = "failed"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", formatDate(event.At))
	fmt.Fprintf(&b, "Work unit: %s\n", strings.TrimSpace(event.WorkUnitID))
	if stage := strings.TrimSpace(event.Stage); stage != "" {
		fmt.Fprintf(&b, "Stage: %s\n", stage)
	}
	detail := strings.TrimSpace(event.Detail)
	if detail == "" {
		detail = "unknown"
	}
	fmt.Fprintf(&b, "Error: %s", detail)
	if hint := strings.TrimSpace(event.Hint); hint != "" {
		fmt.Fprintf(&b, "\nHint: %s", hint)
	}

	return s.broadcast(ctx, payload{
		title:    "Celigo - Run " + titleCaser.String(status),
		message:  b.String(),
		tags:     []string{"celigo", status, "alert"},
		priority: "high",
	})
}

func (s *service) NotifyRunCompleted(ctx context.Context, event Event) error {
	if !s.onSuccess {
		return nil
	}
	return s.broadcast(ctx, payload{
		title:   "Celigo - Run Complete",
		message: fmt.Sprintf("Processed %s on %s", strings.TrimSpace(event.WorkUnitID), formatDate(event.At)),
		tags:    []string{"celigo", "complete"},
	})
}

func (s *service) NotifyDailyReport(ctx context.Context, report Report) error {
	message := fmt.Sprintf("Celigo runs on %s: %d total, %d complete, %d failed",
		report.Day.Format(time.DateOnly), report.Total, report.Complete, report.Failed+report.Timeout)
	if report.Timeout > 0 {
		message += fmt.Sprintf(" (%d timed out)", report.Timeout)
	}
	priority := ""
	if report.Failed+report.Timeout > 0 {
		priority = "high"
	}
	return s.broadcast(ctx, payload{
		title:    "Celigo - Daily Report",
		message:  message,
		tags:     []string{"celigo", "report"},
		priority: priority,
	})
}

func (s *service) TestNotification(ctx context.Context) error {
	return s.broadcast(ctx, payload{
		title:    "Celigo - Test",
		message:  "Notification system test",
		tags:     []string{"celigo", "test"},
		priority: "low",
	})
}

// broadcast tries every transport and joins their failures.
func (s *service) broadcast(ctx context.Context, data payload) error {
	var errs []error
	for _, snd := range s.senders {
		if err := snd.send(ctx, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format(time.DateTime)
}

type noopService struct{}

func (noopService) NotifyRunFailed(context.Context, Event) error    { return nil }
func (noopService) NotifyRunCompleted(context.Context, Event) error { return nil }
func (noopService) NotifyDailyReport(context.Context, Report) error { return nil }
func (noopService) TestNotification(context.Context) error          { return nil }
