package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/telhawk-systems/telhawk-audit/common/logging"
	"github.com/telhawk-systems/telhawk-audit/common/messaging"
)

// Channel defines the interface for notification delivery.
type Channel interface {
	Send(ctx context.Context, n *Notification) error
	Type() string
}

// NATSChannel publishes notifications to audit.notifications.<rule>.
type NATSChannel struct {
	publisher messaging.Publisher
}

func NewNATSChannel(p messaging.Publisher) *NATSChannel {
	return &NATSChannel{publisher: p}
}

func (c *NATSChannel) Type() string {
	return "nats"
}

func (c *NATSChannel) Send(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := &messaging.Message{
		Subject: messaging.NotificationSubject(n.Rule),
		Data:    data,
		Headers: map[string]string{messaging.HeaderEventID: n.EventID},
	}
	if err := c.publisher.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return nil
}

// WebhookChannel sends notifications via HTTP POST behind a circuit breaker.
type WebhookChannel struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewWebhookChannel creates a webhook notification channel. The breaker opens
// after five consecutive failures and probes again after thirty seconds.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "notification-webhook",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// A rejected payload says nothing about endpoint health.
				return err == nil || errors.Is(err, ErrRejected)
			},
		}),
	}
}

func (w *WebhookChannel) Type() string {
	return "webhook"
}

// BreakerState reports the circuit breaker state for health checks.
func (w *WebhookChannel) BreakerState() string {
	return w.breaker.State().String()
}

func (w *WebhookChannel) Send(ctx context.Context, n *Notification) error {
	_, err := w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, w.post(ctx, n)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return err
}

func (w *WebhookChannel) post(ctx context.Context, n *Notification) error {
	payload := map[string]interface{}{
		"text":      n.Message,
		"event_id":  n.EventID,
		"rule":      n.Rule,
		"entity_id": n.EntityID,
		"author":    n.Author,
		"timestamp": n.CreatedAt.Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "TelHawk-Audit/1.0")
	req.Header.Set(messaging.HeaderEventID, n.EventID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send webhook: %v", ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: webhook returned status %d", ErrChannelUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: webhook returned status %d", ErrRejected, resp.StatusCode)
	}
}

// LogChannel writes notifications to the service log.
type LogChannel struct {
	logger *logging.Logger
}

func NewLogChannel(logger *logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Type() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, n *Notification) error {
	l.logger.InfoContext(ctx, "notification",
		logging.EventID(n.EventID),
		logging.Rule(n.Rule),
		"message", n.Message,
	)
	return nil
}

// MultiChannel delivers to every channel and joins their errors.
type MultiChannel struct {
	channels []Channel
}

func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

func (m *MultiChannel) Type() string {
	return "multi"
}

func (m *MultiChannel) Send(ctx context.Context, n *Notification) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Type(), err))
		}
	}
	return errors.Join(errs...)
}
