package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Sink defines the interface for audit event destinations.
type Sink interface {
	// Write sends an audit event to the sink.
	Write(ctx context.Context, event *Event) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes audit events to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Write logs the audit event.
func (s *LogSink) Write(_ context.Context, event *Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.Time("timestamp", event.Timestamp),
		zap.String("attempt_id", event.AttemptID),
		zap.String("actor_user", event.Actor.User),
	}

	if event.Actor.RemoteLogin != "" {
		fields = append(fields, zap.String("actor_remote_login", event.Actor.RemoteLogin))
	}
	if event.Actor.Service != "" {
		fields = append(fields, zap.String("actor_service", event.Actor.Service))
	}
	if event.Actor.RemoteHost != "" {
		fields = append(fields, zap.String("actor_host", event.Actor.RemoteHost))
	}
	if event.Organization != "" {
		fields = append(fields, zap.String("organization", event.Organization))
	}
	if event.Team != "" {
		fields = append(fields, zap.String("team", event.Team))
	}
	if event.Outcome != "" {
		fields = append(fields, zap.String("outcome", event.Outcome))
	}
	if event.Message != "" {
		fields = append(fields, zap.String("message", event.Message))
	}

	if len(event.Details) > 0 {
		if detailsJSON, err := json.Marshal(event.Details); err == nil {
			fields = append(fields, zap.String("details", string(detailsJSON)))
		}
	}

	s.logger.Info("audit_event", fields...)
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// WebhookSink posts each audit event as JSON to an HTTP endpoint.
type WebhookSink struct {
	name       string
	url        string
	httpClient *http.Client
	headers    map[string]string
	logger     *zap.Logger
}

// WebhookSinkConfig configures a WebhookSink.
type WebhookSinkConfig struct {
	Name    string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// NewWebhookSink creates a new WebhookSink.
func NewWebhookSink(cfg WebhookSinkConfig, logger *zap.Logger) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &WebhookSink{
		name:       cfg.Name,
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		headers:    cfg.Headers,
		logger:     logger.Named("webhook-sink"),
	}, nil
}

// Write sends the audit event to the webhook.
func (s *WebhookSink) Write(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send audit event to %s: %w", s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s returned error status: %d", s.url, resp.StatusCode)
	}

	s.logger.Debug("webhook event sent",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))
	return nil
}

// Close is a no-op for WebhookSink.
func (s *WebhookSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string {
	if s.name != "" {
		return s.name
	}
	return "webhook"
}

// MultiSink writes to multiple sinks in order.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a sink that writes to multiple destinations.
func NewMultiSink(sinks []Sink, logger *zap.Logger) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger,
	}
}

// Write sends the event to all sinks. A failing sink does not stop the
// remaining ones; the last error is returned.
func (s *MultiSink) Write(ctx context.Context, event *Event) error {
	var lastErr error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, event); err != nil {
			s.logger.Warn("audit sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("error", err.Error()))
			lastErr = err
		}
	}
	return lastErr
}

// Close closes all sinks.
func (s *MultiSink) Close() error {
	var lastErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			s.logger.Warn("audit sink close failed",
				zap.String("sink", sink.Name()),
				zap.String("error", err.Error()))
			lastErr = err
		}
	}
	return lastErr
}

// Name returns the sink identifier.
func (s *MultiSink) Name() string {
	return "multi"
}

// Len reports how many sinks are attached.
func (s *MultiSink) Len() int {
	return len(s.sinks)
}
