package usecase

import (
	"context"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/core/port"
)

// Auditor appends audit records and mirrors them onto the event bus. Both
// sinks are best-effort: a failed append never fails the login flow.
type Auditor struct {
	log    port.AuditLog
	events port.EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditor constructs an Auditor. Either sink may be nil.
func NewAuditor(log port.AuditLog, events port.EventPublisher, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{log: log, events: events, logger: logger, now: time.Now}
}

// Record appends the audit entry and publishes the matching bus event.
func (a *Auditor) Record(ctx context.Context, record domain.AuditRecord) {
	if a == nil {
		return
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = a.now().UTC()
	}

	if a.log != nil {
		if err := a.log.Record(ctx, record); err != nil {
			a.logger.Warn("append audit record failed",
				zap.String("event", string(record.Event)),
				zap.Error(err),
			)
		}
	}

	if a.events != nil {
		event := domain.LoginAuditEvent{
			EventID:    record.ID,
			Event:      record.Event,
			Outcome:    record.Outcome,
			Reason:     record.Reason,
			IPAddress:  record.IP,
			UserAgent:  record.UserAgent,
			OccurredAt: record.CreatedAt,
			Metadata:   metadataCopy(record.Metadata),
		}
		if record.UserID != nil {
			event.UserID = *record.UserID
		}

		if err := a.events.PublishLoginAudit(ctx, event); err != nil {
			a.logger.Warn("publish audit event failed",
				zap.String("event", string(record.Event)),
				zap.Error(err),
			)
		}
	}
}

// WithClock allows tests to override the clock used by the auditor.
func (a *Auditor) WithClock(clock func() time.Time) {
	if clock != nil {
		a.now = clock
	}
}
