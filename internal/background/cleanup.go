package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredTokenCleaner deletes revocation records for tokens that have expired.
type ExpiredTokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// CleanupManager periodically removes expired revoked tokens from the database
type CleanupManager struct {
	cleaner  ExpiredTokenCleaner
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCleanupManager(cleaner ExpiredTokenCleaner, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		cleaner:  cleaner,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then every interval until Stop is
// called or ctx is done. It blocks; run it in its own goroutine.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.cleaner.CleanupExpiredTokens(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired tokens", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		cm.logger.Info("expired token cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
