package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Producer publishes JSON events on NATS. Each event goes to
// "<subject>.<key>", e.g. enrollment.events.student.created.
type Producer struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

func NewProducer(url string, subject string, logger *slog.Logger) (*Producer, error) {
	nc, err := nats.Connect(url, nats.Name("enrollment-service"))
	if err != nil {
		return nil, err
	}

	logger.Info("NATS producer initialized", "url", url, "subject", subject)

	return &Producer{
		conn:    nc,
		subject: subject,
		logger:  logger,
	}, nil
}

func SubjectFor(subject, key string) string {
	if key == "" {
		return subject
	}
	return subject + "." + key
}

func (p *Producer) SendMessage(ctx context.Context, key string, value interface{}) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal message", "error", err)
		return err
	}

	subject := SubjectFor(p.subject, key)
	if err := p.conn.Publish(subject, valueBytes); err != nil {
		p.logger.ErrorContext(ctx, "failed to send message to NATS", "subject", subject, "error", err)
		return err
	}

	p.logger.DebugContext(ctx, "message sent to NATS", "subject", subject)
	return nil
}

// HealthCheck verifies NATS connection is healthy
func (p *Producer) HealthCheck() error {
	if p.conn == nil {
		return nats.ErrConnectionClosed
	}
	if !p.conn.IsConnected() {
		return nats.ErrDisconnected
	}
	return nil
}

func (p *Producer) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
