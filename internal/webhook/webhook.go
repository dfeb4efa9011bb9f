// Package webhook fans lifecycle events out to operator-registered URLs.
// Delivery is best effort: one attempt per event with a short timeout;
// failures are logged and counted, never retried, and never surfaced to the
// caller whose action produced the event.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/eventlog"
	"github.com/yanizio/platformx/internal/metrics"
)

// Event names delivered to tenant webhooks.
const (
	EventDeployed       = "app.deployed"
	EventUpdated        = "app.updated"
	EventDeleted        = "app.deleted"
	EventError          = "app.error"
	EventBuildCompleted = "app.build.completed"
	EventBuildFailed    = "app.build.failed"
	EventTest           = "webhook.test"
)

// Payload is the JSON document posted to the registered URL.
type Payload struct {
	Event     string         `json:"event"`
	Slug      string         `json:"slug"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Dispatcher posts events.  Zero value is not usable; call New.
type Dispatcher struct {
	client  *http.Client
	events  *eventlog.Logger
	enabled bool
}

// New builds a Dispatcher.  When enabled is false every Dispatch is a no-op,
// matching the platform-wide webhook switch.
func New(events *eventlog.Logger, timeout time.Duration, enabled bool) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		client:  &http.Client{Timeout: timeout},
		events:  events,
		enabled: enabled,
	}
}

// Dispatch posts one event to url in a background goroutine.  A blank url
// is a no-op.  The caller's context is not used: the event belongs to the
// platform, not the request that triggered it.
func (d *Dispatcher) Dispatch(url, event, slug string, data map[string]any) {
	if !d.enabled || url == "" {
		return
	}
	go d.deliver(url, event, slug, data)
}

// DispatchSync posts one event and reports the outcome; used by the
// webhook-test admin endpoint where the operator wants the result.
func (d *Dispatcher) DispatchSync(url, event, slug string, data map[string]any) error {
	if url == "" {
		return nil
	}
	return d.post(url, event, slug, data)
}

func (d *Dispatcher) deliver(url, event, slug string, data map[string]any) {
	if err := d.post(url, event, slug, data); err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
		zap.L().Warn("webhook delivery failed",
			zap.String("slug", slug), zap.String("event", event), zap.Error(err))
		if d.events != nil {
			d.events.Log(context.Background(), slug, eventlog.EventWebhook, "warn",
				"delivery failed: "+err.Error(), map[string]any{"event": event, "url": url})
		}
		return
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
}

func (d *Dispatcher) post(url, event, slug string, data map[string]any) error {
	body, err := json.Marshal(Payload{
		Event:     event,
		Slug:      slug,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PlatformX-Event", event)
	req.Header.Set("X-PlatformX-App", slug)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return fmt.Sprintf("endpoint returned %d %s", e.code, http.StatusText(e.code))
}
