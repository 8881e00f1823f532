// Package natsaudit publishes critical and fatal escalations to a NATS
// subject so an operator channel can pick them up. Delivery is best effort:
// alerting must never block or fail document processing.
package natsaudit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/scanwatcher/internal/core/domain"
)

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
}

type Sink struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

func New(url, subject string, options Options, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("scanwatcher"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("audit_nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("audit_nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect audit nats: %w", err)
	}
	return &Sink{conn: conn, subject: subject, logger: logger}, nil
}

func (s *Sink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// Escalate publishes the record as JSON. Failures are logged, not returned:
// the caller has already decided this event must not interrupt processing.
func (s *Sink) Escalate(ctx context.Context, record domain.AuditRecord) {
	if err := ctx.Err(); err != nil {
		return
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("audit_record_marshal_failed", "error", err)
		return
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		s.logger.Error("audit_publish_failed",
			"subject", s.subject,
			"severity", record.Severity,
			"error", err,
		)
		return
	}
	s.logger.Info("audit_record_published",
		"subject", s.subject,
		"severity", record.Severity,
		"component", record.Component,
	)
}

// NoopSink satisfies the audit port when no NATS endpoint is configured.
// Records still land in the structured log.
type NoopSink struct {
	logger *slog.Logger
}

func NewNoop(logger *slog.Logger) *NoopSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopSink{logger: logger}
}

func (s *NoopSink) Escalate(_ context.Context, record domain.AuditRecord) {
	s.logger.Error("escalation",
		"severity", record.Severity,
		"component", record.Component,
		"message", record.Message,
	)
}
