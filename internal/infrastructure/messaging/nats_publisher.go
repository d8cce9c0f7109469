package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// DefaultSubjectPrefix is prepended to the event type: approval.workflow.created, ...
const DefaultSubjectPrefix = "approval"

// Conn is the part of *nats.Conn the publisher uses
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Config holds NATS connection settings
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	ConnectWait   time.Duration
	ReconnectWait time.Duration
}

// Connect dials NATS and keeps reconnecting in the background
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	name := cfg.Name
	if name == "" {
		name = "approval-engine"
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.ConnectWait > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectWait))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// NATSPublisher publishes events on subject <prefix>.<event type>.
// The event id travels in the Nats-Msg-Id header so JetStream-backed
// subjects drop redelivered duplicates.
type NATSPublisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher on an open connection
func NewNATSPublisher(conn Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an event type is published on
func (p *NATSPublisher) Subject(t event.Type) string {
	return p.prefix + "." + t.String()
}

// Publish sends the event and waits for the server to acknowledge the flush
func (p *NATSPublisher) Publish(ctx context.Context, evt *event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(p.Subject(evt.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, evt.ID)
	if evt.CorrelationID != "" {
		msg.Header.Set("Correlation-Id", evt.CorrelationID)
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush %s: %w", msg.Subject, err)
	}

	p.logger.Debug("Event published",
		zap.String("subject", msg.Subject),
		zap.String("event_id", evt.ID),
		zap.String("workflow_id", evt.WorkflowID))
	return nil
}

// LogPublisher writes events to the log; used when no broker is configured
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, evt *event.Event) error {
	p.logger.Info("Event emitted",
		zap.String("event_type", evt.Type.String()),
		zap.String("event_id", evt.ID),
		zap.String("workflow_id", evt.WorkflowID),
		zap.String("transaction_id", evt.TransactionID),
		zap.Any("payload", evt.Payload))
	return nil
}

// Handler adapts a publisher to a dispatcher handler
func Handler(p port.EventPublisher) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		return p.Publish(ctx, evt)
	}
}

var (
	_ port.EventPublisher = (*NATSPublisher)(nil)
	_ port.EventPublisher = (*LogPublisher)(nil)
	_ Conn                = (*nats.Conn)(nil)
)
