package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"celigo/internal/config"
	"celigo/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []captured
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &seen
}

func TestNewServiceReturnsNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	ctx := context.Background()
	if err := svc.NotifyRunFailed(ctx, notifications.Event{WorkUnitID: "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("expected noop test notification to return nil, got %v", err)
	}
}

func TestNtfyFormatsPayloads(t *testing.T) {
	at := time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC)
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "run failed",
			send: func(s notifications.Service) error {
				return s.NotifyRunFailed(context.Background(), notifications.Event{
					WorkUnitID: "3500001234_A1", Status: "failed", Stage: "ilastik",
					Detail: "job left the queue without output", At: at,
				})
			},
			expectTitle:    "Celigo - Run Failed",
			expectMessage:  "Date: 2026-03-02 14:05:00\nWork unit: 3500001234_A1\nStage: ilastik\nError: job left the queue without output",
			expectTags:     "celigo,failed,alert",
			expectPriority: "high",
		},
		{
			name: "run timeout with hint",
			send: func(s notifications.Service) error {
				return s.NotifyRunFailed(context.Background(), notifications.Event{
					WorkUnitID: "u", Status: "timeout", Stage: "downsample", Detail: "tick budget exhausted",
					Hint: "raise max_ticks", At: at,
				})
			},
			expectTitle:    "Celigo - Run Timeout",
			expectMessage:  "Date: 2026-03-02 14:05:00\nWork unit: u\nStage: downsample\nError: tick budget exhausted\nHint: raise max_ticks",
			expectTags:     "celigo,timeout,alert",
			expectPriority: "high",
		},
		{
			name: "run completed",
			send: func(s notifications.Service) error {
				return s.NotifyRunCompleted(context.Background(), notifications.Event{WorkUnitID: "u", At: at})
			},
			expectTitle:   "Celigo - Run Complete",
			expectMessage: "Processed u on 2026-03-02 14:05:00",
			expectTags:    "celigo,complete",
		},
		{
			name: "daily report",
			send: func(s notifications.Service) error {
				return s.NotifyDailyReport(context.Background(), notifications.Report{
					Day: at, Total: 5, Complete: 3, Failed: 1, Timeout: 1,
				})
			},
			expectTitle:    "Celigo - Daily Report",
			expectMessage:  "Celigo runs on 2026-03-02: 5 total, 3 complete, 2 failed (1 timed out)",
			expectTags:     "celigo,report",
			expectPriority: "high",
		},
		{
			name:           "test notification",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "Celigo - Test",
			expectMessage:  "Notification system test",
			expectTags:     "celigo,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, seen := newNtfyServer(t, http.StatusOK)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5
			cfg.Notifications.OnSuccess = true

			if err := tc.send(notifications.NewService(&cfg)); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if len(*seen) != 1 {
				t.Fatalf("expected 1 request, got %d", len(*seen))
			}
			got := (*seen)[0]
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestRunCompletedSuppressedByDefault(t *testing.T) {
	server, seen := newNtfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	if err := notifications.NewService(&cfg).NotifyRunCompleted(context.Background(), notifications.Event{WorkUnitID: "u"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*seen) != 0 {
		t.Fatalf("expected completion to be suppressed, got %d requests", len(*seen))
	}
}

func TestSlackWebhookReceivesJSON(t *testing.T) {
	var text string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var msg struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode: %v", err)
		}
		text = msg.Text
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.SlackWebhookURL = server.URL
	err := notifications.NewService(&cfg).NotifyRunFailed(context.Background(), notifications.Event{
		WorkUnitID: "plate", Stage: "cellprofiler", Detail: "boom",
	})
	if err != nil {
		t.Fatalf("NotifyRunFailed: %v", err)
	}
	if !strings.HasPrefix(text, "*Celigo - Run Failed*\n") || !strings.Contains(text, "Error: boom") {
		t.Fatalf("unexpected slack text %q", text)
	}
}

func TestBroadcastJoinsTransportErrors(t *testing.T) {
	failing, _ := newNtfyServer(t, http.StatusInternalServerError)
	ok, seen := newNtfyServer(t, http.StatusOK)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = failing.URL
	cfg.Notifications.SlackWebhookURL = ok.URL

	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ntfy returned 500") {
		t.Fatalf("expected ntfy failure, got %v", err)
	}
	if len(*seen) != 1 {
		t.Fatalf("expected slack delivery despite ntfy failure, got %d", len(*seen))
	}
}
