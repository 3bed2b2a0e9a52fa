// Package notify delivers alert notifications to the configured webhook
// endpoint. Dispatch is fire-and-forget: alert evaluation never blocks on
// delivery, and delivery failures are logged rather than propagated back
// into the evaluation cycle.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/config"
	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/pkg/logger"
)

// Notification is one outbound alert notification.
type Notification struct {
	AlertID    string                  `json:"alert_id"`
	ProductRef string                  `json:"product_ref"`
	Type       domain.NotificationType `json:"type"`
	Priority   domain.AlertPriority    `json:"priority"`
	Message    string                  `json:"message"`
	Channels   []string                `json:"channels"`
	SentAt     time.Time               `json:"sent_at"`
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// NewDispatcher selects the dispatcher for the given configuration: a
// webhook dispatcher per configured URL (fanned out through a composite when
// there is more than one), the log dispatcher when none are set.
func NewDispatcher(cfg config.NotifierConfig, log zerolog.Logger) Dispatcher {
	var urls []string
	for _, u := range strings.Split(cfg.URL, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}

	switch len(urls) {
	case 0:
		return NewLogDispatcher(log)
	case 1:
		return NewHTTPDispatcher(config.NotifierConfig{URL: urls[0], Timeout: cfg.Timeout}, log)
	default:
		sinks := make([]Dispatcher, 0, len(urls))
		for _, u := range urls {
			sinks = append(sinks, NewHTTPDispatcher(config.NotifierConfig{URL: u, Timeout: cfg.Timeout}, log))
		}
		return NewCompositeDispatcher(sinks...)
	}
}

// CompositeDispatcher fans every notification out to a set of dispatchers.
// All sinks are attempted regardless of individual failures.
type CompositeDispatcher struct {
	sinks []Dispatcher
}

// NewCompositeDispatcher creates a fan-out dispatcher over the given sinks.
func NewCompositeDispatcher(sinks ...Dispatcher) *CompositeDispatcher {
	return &CompositeDispatcher{sinks: sinks}
}

// Send delivers the notification to every sink, returning the first error
// after all sinks have been attempted.
func (d *CompositeDispatcher) Send(ctx context.Context, n Notification) error {
	var firstErr error
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, n); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HTTPDispatcher posts notifications to a webhook endpoint. Send returns
// immediately; delivery happens on a background goroutine with its own
// timeout so a slow endpoint cannot stall an alert sweep.
type HTTPDispatcher struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	log        zerolog.Logger
	wg         sync.WaitGroup
}

// NewHTTPDispatcher creates a webhook dispatcher.
func NewHTTPDispatcher(cfg config.NotifierConfig, log zerolog.Logger) *HTTPDispatcher {
	return &HTTPDispatcher{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: logger.Component(log, "notifier"),
	}
}

// Send queues the notification for delivery and returns immediately.
func (d *HTTPDispatcher) Send(ctx context.Context, n Notification) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		// Detached context: the caller's evaluation cycle may already be done
		deliverCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.post(deliverCtx, n); err != nil {
			d.log.Error().
				Err(err).
				Str("alert_id", n.AlertID).
				Str("product_ref", n.ProductRef).
				Msg("Failed to deliver notification")
			return
		}

		d.log.Debug().
			Str("alert_id", n.AlertID).
			Str("type", string(n.Type)).
			Msg("Notification delivered")
	}()
	return nil
}

func (d *HTTPDispatcher) post(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Close waits for in-flight deliveries to finish, up to a short grace period.
func (d *HTTPDispatcher) Close() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		d.log.Warn().Msg("Timed out waiting for in-flight notifications")
	}
}

// LogDispatcher writes notifications to the log. Used when no webhook is
// configured; keeps the alert pipeline observable in development.
type LogDispatcher struct {
	log zerolog.Logger
}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: logger.Component(log, "notifier")}
}

// Send logs the notification.
func (d *LogDispatcher) Send(ctx context.Context, n Notification) error {
	d.log.Info().
		Str("alert_id", n.AlertID).
		Str("product_ref", n.ProductRef).
		Str("type", string(n.Type)).
		Str("priority", string(n.Priority)).
		Strs("channels", n.Channels).
		Msg(n.Message)
	return nil
}
