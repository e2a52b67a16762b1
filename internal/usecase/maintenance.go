package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lumenauth/magiclink-service/internal/core/port"
)

const defaultMaintenanceInterval = 10 * time.Minute

// MaintenanceService runs periodic cleanup off the request path. Sweeps are
// idempotent; a skipped or failed run only delays garbage collection.
type MaintenanceService struct {
	tokens   port.LoginTokenRepository
	logger   *zap.Logger
	now      func() time.Time
	interval time.Duration
}

// NewMaintenanceService constructs a MaintenanceService.
func NewMaintenanceService(tokens port.LoginTokenRepository, interval time.Duration, log *zap.Logger) *MaintenanceService {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}

	return &MaintenanceService{
		tokens:   tokens,
		logger:   log,
		now:      time.Now,
		interval: interval,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *MaintenanceService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Sweep deletes expired login tokens and reports how many rows were removed.
func (s *MaintenanceService) Sweep(ctx context.Context) (int, error) {
	if s.tokens == nil {
		return 0, nil
	}

	deleted, err := s.tokens.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("maintenance sweep removed expired login tokens", zap.Int("deleted", deleted))
	}

	return deleted, nil
}

// Run executes sweeps on a ticker until the context is cancelled.
func (s *MaintenanceService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("maintenance sweep failed", zap.Error(err))
			}
		}
	}
}
