// Package ntfy sends push notifications about uploads and executions via
// ntfy.sh or a self-hosted ntfy server.
package ntfy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/REM-Infotech/crawjud-ui/internal/logger"
)

// Event names accepted in the events list.
const (
	EventUpload   = "upload"
	EventFinished = "finished"
	EventStopped  = "stopped"
)

type Client struct {
	url    string // full URL: https://ntfy.sh/{topic}
	token  string // optional bearer token for reserved topics
	events map[string]bool
	http   *http.Client
	log    *slog.Logger
}

// New creates a new ntfy client. Topic can be a bare topic name (expanded to
// https://ntfy.sh/{topic}) or a full URL (https://ntfy.example.com/mytopic).
// Events is a comma-separated list of event types to send (e.g. "finished,stopped").
func New(topic, token, events string, log *slog.Logger) *Client {
	url := topic
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		url = "https://ntfy.sh/" + topic
	}
	evMap := make(map[string]bool)
	for _, e := range strings.Split(events, ",") {
		e = strings.TrimSpace(e)
		if e != "" {
			evMap[e] = true
		}
	}
	return &Client{
		url:    url,
		token:  token,
		events: evMap,
		http:   &http.Client{Timeout: 10 * time.Second},
		log:    logger.Or(log),
	}
}

func (c *Client) Enabled(event string) bool { return c.events[event] }

// Notify implements upload.Notifier for the upload event.
func (c *Client) Notify(title, message string) {
	if !c.events[EventUpload] {
		return
	}
	c.post(context.Background(), "CrawJUD: "+title, message, "default", "outbox_tray")
}

// SendFinished reports an execution that ran to the end.
func (c *Client) SendFinished(ctx context.Context, pid, bot string, successes, errors int) {
	if !c.events[EventFinished] {
		return
	}
	if bot == "" {
		bot = "Robô"
	}
	priority, tags := "default", "white_check_mark"
	if errors > 0 {
		priority, tags = "high", "warning"
	}
	title := fmt.Sprintf("%s finalizado", bot)
	body := fmt.Sprintf("Execução %s: %d sucessos, %d erros", pid, successes, errors)
	c.post(ctx, title, body, priority, tags)
}

// SendStopped reports an execution stopped before the end.
func (c *Client) SendStopped(ctx context.Context, pid, bot string) {
	if !c.events[EventStopped] {
		return
	}
	if bot == "" {
		bot = "Robô"
	}
	c.post(ctx, fmt.Sprintf("%s encerrado", bot), fmt.Sprintf("Execução %s encerrada", pid), "high", "x")
}

// SendTest sends a test notification synchronously and returns any error.
func (c *Client) SendTest(ctx context.Context) error {
	return c.post(ctx, "crawjud test", "Push notifications are working!", "default", "test_tube")
}

func (c *Client) post(ctx context.Context, title, body, priority, tags string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(body))
	if err != nil {
		c.log.Warn("ntfy: build request", "err", err)
		return err
	}
	req.Header.Set("Title", mime.QEncoding.Encode("utf-8", title))
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("ntfy: post failed", "err", err)
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("ntfy: HTTP %d", resp.StatusCode)
		c.log.Warn("ntfy: post rejected", "status", resp.StatusCode)
		return err
	}
	return nil
}
