package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

// PublishLoginAudit logs magic.login.audit events.
func (p *StubPublisher) PublishLoginAudit(_ context.Context, event domain.LoginAuditEvent) error {
	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", "magic.login.audit"),
		zap.String("user_id", event.UserID),
		zap.String("event", string(event.Event)),
		zap.String("outcome", string(event.Outcome)),
		zap.String("reason", event.Reason),
		zap.Time("timestamp", at.UTC()),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
