package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lumenauth/magiclink-service/internal/core/domain"
	"github.com/lumenauth/magiclink-service/internal/repository"
)

type userRepoMock struct {
	byID        map[string]domain.User
	byEmail     map[string]domain.User
	lastLoginID string
	lastLoginAt time.Time
}

func (m *userRepoMock) GetByID(_ context.Context, id string) (*domain.User, error) {
	if user, ok := m.byID[id]; ok {
		u := user
		return &u, nil
	}
	return nil, repository.ErrNotFound
}

func (m *userRepoMock) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if user, ok := m.byEmail[email]; ok {
		u := user
		return &u, nil
	}
	return nil, repository.ErrNotFound
}

func (m *userRepoMock) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	m.lastLoginID = id
	m.lastLoginAt = at
	return nil
}

type tokenRepoMock struct {
	mu          sync.Mutex
	tokens      map[string]*domain.LoginToken
	revoked     int
	deleted     int
	expiredRuns int
	createErr   error
	consumeErr  error
}

func newTokenRepoMock() *tokenRepoMock {
	return &tokenRepoMock{tokens: make(map[string]*domain.LoginToken)}
}

func (m *tokenRepoMock) Create(_ context.Context, token domain.LoginToken) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := token
	m.tokens[token.ID] = &copy
	return nil
}

func (m *tokenRepoMock) GetByHash(_ context.Context, hash string) (*domain.LoginToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.TokenHash == hash {
			copy := *token
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *tokenRepoMock) Consume(_ context.Context, id string, usedAt time.Time) error {
	if m.consumeErr != nil {
		return m.consumeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[id]
	if !ok || token.UsedAt != nil || token.RevokedAt != nil {
		return repository.ErrNotFound
	}
	at := usedAt
	token.UsedAt = &at
	return nil
}

func (m *tokenRepoMock) IncrementAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	token.AttemptCount++
	return token.AttemptCount, nil
}

func (m *tokenRepoMock) RevokeActiveForUser(_ context.Context, userID string, revokedAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, token := range m.tokens {
		if token.UserID == userID && token.UsedAt == nil && token.RevokedAt == nil {
			at := revokedAt
			token.RevokedAt = &at
			count++
		}
	}
	m.revoked += count
	return count, nil
}

func (m *tokenRepoMock) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredRuns++
	count := 0
	for id, token := range m.tokens {
		if !token.ExpiresAt.After(before) {
			delete(m.tokens, id)
			count++
		}
	}
	return count, nil
}

func (m *tokenRepoMock) DeleteForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, token := range m.tokens {
		if token.UserID == userID {
			delete(m.tokens, id)
			count++
		}
	}
	m.deleted += count
	return count, nil
}

func (m *tokenRepoMock) active(userID string) []*domain.LoginToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*domain.LoginToken
	for _, token := range m.tokens {
		if token.UserID == userID && token.UsedAt == nil && token.RevokedAt == nil {
			active = append(active, token)
		}
	}
	return active
}

type twoFactorRepoMock struct {
	settings map[string]*domain.TwoFactorSettings
	codes    map[string]*domain.BackupCode
}

func newTwoFactorRepoMock() *twoFactorRepoMock {
	return &twoFactorRepoMock{
		settings: make(map[string]*domain.TwoFactorSettings),
		codes:    make(map[string]*domain.BackupCode),
	}
}

func (m *twoFactorRepoMock) GetSettings(_ context.Context, userID string) (*domain.TwoFactorSettings, error) {
	if settings, ok := m.settings[userID]; ok {
		copy := *settings
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (m *twoFactorRepoMock) SaveSettings(_ context.Context, settings domain.TwoFactorSettings) error {
	copy := settings
	m.settings[settings.UserID] = &copy
	return nil
}

func (m *twoFactorRepoMock) MarkRequiredSince(_ context.Context, userID string, at time.Time) error {
	settings, ok := m.settings[userID]
	if !ok {
		stamp := at
		m.settings[userID] = &domain.TwoFactorSettings{UserID: userID, RequiredSince: &stamp, CreatedAt: at, UpdatedAt: at}
		return nil
	}
	if settings.RequiredSince == nil || at.Before(*settings.RequiredSince) {
		stamp := at
		settings.RequiredSince = &stamp
	}
	return nil
}

func (m *twoFactorRepoMock) DeleteSettings(_ context.Context, userID string) error {
	if _, ok := m.settings[userID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.settings, userID)
	return nil
}

func (m *twoFactorRepoMock) ReplaceBackupCodes(_ context.Context, userID string, codes []domain.BackupCode) error {
	for id, code := range m.codes {
		if code.UserID == userID {
			delete(m.codes, id)
		}
	}
	for _, code := range codes {
		copy := code
		m.codes[code.ID] = &copy
	}
	return nil
}

func (m *twoFactorRepoMock) ListUnusedBackupCodes(_ context.Context, userID string) ([]domain.BackupCode, error) {
	var unused []domain.BackupCode
	for _, code := range m.codes {
		if code.UserID == userID && code.UsedAt == nil {
			unused = append(unused, *code)
		}
	}
	return unused, nil
}

func (m *twoFactorRepoMock) ConsumeBackupCode(_ context.Context, id string, usedAt time.Time) error {
	code, ok := m.codes[id]
	if !ok || code.UsedAt != nil {
		return repository.ErrNotFound
	}
	at := usedAt
	code.UsedAt = &at
	return nil
}

func (m *twoFactorRepoMock) DeleteBackupCodes(_ context.Context, userID string) (int, error) {
	count := 0
	for id, code := range m.codes {
		if code.UserID == userID {
			delete(m.codes, id)
			count++
		}
	}
	return count, nil
}

type mailerMock struct {
	sent    []sentMail
	sendErr error
}

type sentMail struct {
	to      string
	subject string
	body    string
}

func (m *mailerMock) Send(_ context.Context, to, subject, htmlBody string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

type lockoutStoreMock struct {
	failures map[string]int
	locked   map[string]time.Time
}

func newLockoutStoreMock() *lockoutStoreMock {
	return &lockoutStoreMock{
		failures: make(map[string]int),
		locked:   make(map[string]time.Time),
	}
}

func (m *lockoutStoreMock) IncrementFailures(_ context.Context, userID string, _ time.Duration) (int, error) {
	m.failures[userID]++
	return m.failures[userID], nil
}

func (m *lockoutStoreMock) SetLockedUntil(_ context.Context, userID string, until time.Time) error {
	m.locked[userID] = until
	return nil
}

func (m *lockoutStoreMock) LockedUntil(_ context.Context, userID string) (*time.Time, error) {
	if until, ok := m.locked[userID]; ok {
		u := until
		return &u, nil
	}
	return nil, nil
}

func (m *lockoutStoreMock) Clear(_ context.Context, userID string) error {
	delete(m.failures, userID)
	delete(m.locked, userID)
	return nil
}

type replayGuardMock struct {
	steps map[string]int64
}

func newReplayGuardMock() *replayGuardMock {
	return &replayGuardMock{steps: make(map[string]int64)}
}

func (m *replayGuardMock) LastAcceptedStep(_ context.Context, userID string) (int64, error) {
	if step, ok := m.steps[userID]; ok {
		return step, nil
	}
	return -1, nil
}

func (m *replayGuardMock) RecordAcceptedStep(_ context.Context, userID string, step int64, _ time.Duration) error {
	m.steps[userID] = step
	return nil
}

type pendingStoreMock struct {
	entries map[string]*domain.PendingLogin
}

func newPendingStoreMock() *pendingStoreMock {
	return &pendingStoreMock{entries: make(map[string]*domain.PendingLogin)}
}

func (m *pendingStoreMock) Store(_ context.Context, pending domain.PendingLogin, _ time.Duration) error {
	copy := pending
	m.entries[pending.Reference] = &copy
	return nil
}

func (m *pendingStoreMock) Fetch(_ context.Context, reference string) (*domain.PendingLogin, error) {
	if pending, ok := m.entries[reference]; ok {
		copy := *pending
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (m *pendingStoreMock) Delete(_ context.Context, reference string) error {
	if _, ok := m.entries[reference]; !ok {
		return repository.ErrNotFound
	}
	delete(m.entries, reference)
	return nil
}

func (m *pendingStoreMock) DeleteForUser(_ context.Context, userID string) error {
	for reference, pending := range m.entries {
		if pending.UserID == userID {
			delete(m.entries, reference)
		}
	}
	return nil
}

type sessionProviderMock struct {
	nextID   string
	sessions map[string]string
	err      error
}

func newSessionProviderMock() *sessionProviderMock {
	return &sessionProviderMock{nextID: "session-1", sessions: make(map[string]string)}
}

func (m *sessionProviderMock) EstablishSession(_ context.Context, userID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sessions[m.nextID] = userID
	return m.nextID, nil
}

func (m *sessionProviderMock) CurrentUser(_ context.Context, sessionID string) (string, error) {
	if userID, ok := m.sessions[sessionID]; ok {
		return userID, nil
	}
	return "", errors.New("session not found")
}

type auditLogMock struct {
	records []domain.AuditRecord
}

func (m *auditLogMock) Record(_ context.Context, record domain.AuditRecord) error {
	m.records = append(m.records, record)
	return nil
}

func (m *auditLogMock) lastReason() string {
	if len(m.records) == 0 {
		return ""
	}
	return m.records[len(m.records)-1].Reason
}

func (m *auditLogMock) hasEvent(event domain.AuditEventKind) bool {
	for _, record := range m.records {
		if record.Event == event {
			return true
		}
	}
	return false
}

type eventPublisherMock struct {
	events []domain.LoginAuditEvent
}

func (m *eventPublisherMock) PublishLoginAudit(_ context.Context, event domain.LoginAuditEvent) error {
	m.events = append(m.events, event)
	return nil
}

type rateLimitStoreMock struct {
	attempts map[string][]time.Time
}

func newRateLimitStoreMock() *rateLimitStoreMock {
	return &rateLimitStoreMock{attempts: make(map[string][]time.Time)}
}

func (m *rateLimitStoreMock) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	m.attempts[identifier] = append(m.attempts[identifier], at)
	return nil
}

func (m *rateLimitStoreMock) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	count := 0
	for _, at := range m.attempts[identifier] {
		if at.After(reference.Add(-window)) {
			count++
		}
	}
	return count, nil
}

func (m *rateLimitStoreMock) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	kept := m.attempts[identifier][:0]
	for _, at := range m.attempts[identifier] {
		if at.After(reference.Add(-window)) {
			kept = append(kept, at)
		}
	}
	m.attempts[identifier] = kept
	return nil
}

func (m *rateLimitStoreMock) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	var oldest time.Time
	found := false
	for _, at := range m.attempts[identifier] {
		if !at.After(reference.Add(-window)) {
			continue
		}
		if !found || at.Before(oldest) {
			oldest = at
			found = true
		}
	}
	return oldest, found, nil
}
