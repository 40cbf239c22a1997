package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyloom/internal/config"
)

const userAgent = "Storyloom/0.1.0"

// Event names a pipeline milestone.
type Event string

const (
	EventTopicFailed          Event = "topic_failed"
	EventPublicationPending   Event = "publication_pending"
	EventPublicationScheduled Event = "publication_scheduled"
	EventPublished            Event = "published"
	EventError                Event = "error"
	EventTest                 Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		topicFailures: cfg.Notifications.TopicFailures,
		publications:  cfg.Notifications.Publications,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	topicFailures bool
	publications  bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) render(event Event, payload Payload) (message, bool) {
	title := payload.text("title")
	switch event {
	case EventTopicFailed:
		if !n.topicFailures {
			return message{}, false
		}
		return message{
			title:    "Storyloom - Topic Failed",
			body:     fmt.Sprintf("❌ %s failed at %s: %s", title, payload.text("jobType"), payload.text("error")),
			tags:     []string{"storyloom", "topic", "error"},
			priority: "high",
		}, true
	case EventPublicationPending:
		if !n.publications {
			return message{}, false
		}
		return message{
			title: "Storyloom - Review Needed",
			body:  fmt.Sprintf("🎬 Ready for review: %s", title),
			tags:  []string{"storyloom", "publication", "review"},
		}, true
	case EventPublicationScheduled:
		if !n.publications {
			return message{}, false
		}
		return message{
			title: "Storyloom - Scheduled",
			body:  fmt.Sprintf("📅 Scheduled: %s at %s", title, payload.text("scheduledAt")),
			tags:  []string{"storyloom", "publication", "scheduled"},
		}, true
	case EventPublished:
		if !n.publications {
			return message{}, false
		}
		return message{
			title:    "Storyloom - Published",
			body:     fmt.Sprintf("✅ Published: %s", title),
			tags:     []string{"storyloom", "publication", "published"},
			priority: "high",
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := payload.text("context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := payload.text("error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Storyloom - Error",
			body:     builder.String(),
			tags:     []string{"storyloom", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Storyloom - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"storyloom", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
