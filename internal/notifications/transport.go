package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ntfySender struct {
	endpoint string
	client   *http.Client
}

func newNtfySender(endpoint string, timeout time.Duration) *ntfySender {
	return &ntfySender{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (n *ntfySender) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	return do(n.client, req, "ntfy")
}

type slackSender struct {
	webhook string
	client  *http.Client
}

func newSlackSender(webhook string, timeout time.Duration) *slackSender {
	return &slackSender{webhook: webhook, client: &http.Client{Timeout: timeout}}
}

type slackMessage struct {
	Text string `json:"text"`
}

func (s *slackSender) send(ctx context.Context, data payload) error {
	text := data.message
	if data.title != "" {
		text = "*" + data.title + "*\n" + text
	}
	body, err := json.Marshal(slackMessage{Text: text})
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	return do(s.client, req, "slack")
}

func do(client *http.Client, req *http.Request, name string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s notification: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s returned %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
