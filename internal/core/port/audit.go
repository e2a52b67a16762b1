package port

import (
	"context"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
)

// AuditLog appends login lifecycle records. Implementations are best-effort:
// a failed append must never fail the primary authentication flow.
type AuditLog interface {
	Record(ctx context.Context, record domain.AuditRecord) error
}

// EventPublisher publishes audit events to the message bus.
type EventPublisher interface {
	PublishLoginAudit(ctx context.Context, event domain.LoginAuditEvent) error
}
