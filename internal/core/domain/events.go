package domain

import "time"

// AuditEventKind enumerates the login lifecycle events recorded for forensics.
type AuditEventKind string

const (
	AuditLoginRequested     AuditEventKind = "login.requested"
	AuditTokenValidated     AuditEventKind = "login.token.validated"
	AuditTokenRejected      AuditEventKind = "login.token.rejected"
	AuditTwoFactorRequired  AuditEventKind = "login.twofactor.required"
	AuditTwoFactorVerified  AuditEventKind = "login.twofactor.verified"
	AuditTwoFactorRejected  AuditEventKind = "login.twofactor.rejected"
	AuditTwoFactorLocked    AuditEventKind = "login.twofactor.locked"
	AuditBackupCodeConsumed AuditEventKind = "login.backup_code.consumed"
	AuditSessionEstablished AuditEventKind = "login.session.established"
	AuditSetupRequired      AuditEventKind = "login.setup.required"
	AuditEnrollmentStarted  AuditEventKind = "twofactor.enrollment.started"
	AuditEnrollmentDone     AuditEventKind = "twofactor.enrollment.confirmed"
	AuditTwoFactorDisabled  AuditEventKind = "twofactor.disabled"
)

// AuditOutcome distinguishes success from failure in audit records.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
)

// AuditRecord is an append-only entry describing a login attempt or outcome.
// The Reason carries the precise internal failure mode even when the end user
// receives a uniform error.
type AuditRecord struct {
	ID        string
	UserID    *string
	Event     AuditEventKind
	Outcome   AuditOutcome
	Reason    string
	IP        *string
	UserAgent *string
	CreatedAt time.Time
	Metadata  map[string]any
}

// LoginAuditEvent is the bus representation of an AuditRecord.
type LoginAuditEvent struct {
	EventID    string
	UserID     string
	Event      AuditEventKind
	Outcome    AuditOutcome
	Reason     string
	IPAddress  *string
	UserAgent  *string
	OccurredAt time.Time
	Metadata   map[string]any
}
