package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"billingest/internal/config"
)

const userAgent = "billingest/0.1"

// Service defines the alert surface used by the workflow and CLI.
type Service interface {
	NotifyKnownBad(ctx context.Context, file, kind, reason string) error
	NotifyError(ctx context.Context, err error, file string) error
	NotifyRunCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op one when no topic is set.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := 10 * time.Second
	if secs := cfg.Notifications.RequestTimeout; secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return &ntfyService{topicURL: topic, http: &http.Client{Timeout: timeout}}
}

// alert is one ntfy message. Title, Tags and Priority travel as headers; the
// body is plain text.
type alert struct {
	title    string
	body     string
	tags     []string
	priority string
}

func (a alert) header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	if a.title != "" {
		h.Set("Title", "billingest - "+a.title)
	}
	h.Set("Tags", strings.Join(append([]string{"billingest"}, a.tags...), ","))
	if a.priority != "" {
		h.Set("Priority", a.priority)
	}
	return h
}

type ntfyService struct {
	topicURL string
	http     *http.Client
}

func (n *ntfyService) NotifyKnownBad(ctx context.Context, file, kind, reason string) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "unknown"
	}
	lines := []string{fmt.Sprintf("%s was marked known-bad (%s)", strings.TrimSpace(file), kind)}
	if reason = strings.TrimSpace(reason); reason != "" {
		lines = append(lines, reason)
	}
	return n.post(ctx, alert{
		title:    "Known-bad file",
		body:     strings.Join(lines, "\n"),
		tags:     []string{"known-bad", "review"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, file string) error {
	subject := "Ingest failed"
	if file = strings.TrimSpace(file); file != "" {
		subject += " for " + file
	}
	detail := "unknown"
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	return n.post(ctx, alert{
		title:    "Error",
		body:     subject + ": " + detail,
		tags:     []string{"error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	took := max(duration.Round(time.Second), 0)
	a := alert{
		title: "Run complete",
		body:  fmt.Sprintf("%d file(s) ingested in %s", processed, took),
		tags:  []string{"run", "completed"},
	}
	if failed > 0 {
		a.title += " (with errors)"
		a.body = fmt.Sprintf("%d ingested, %d failed in %s", processed, failed, took)
	}
	return n.post(ctx, a)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.post(ctx, alert{
		title:    "Test",
		body:     "Notification system test",
		tags:     []string{"test"},
		priority: "low",
	})
}

func (n *ntfyService) post(ctx context.Context, a alert) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topicURL, strings.NewReader(a.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header = a.header()

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return fmt.Errorf("ntfy returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyKnownBad(context.Context, string, string, string) error      { return nil }
func (noopService) NotifyError(context.Context, error, string) error                  { return nil }
func (noopService) NotifyRunCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
