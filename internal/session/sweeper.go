package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/qa-demo/internal/shared"
)

// VisitorPruner removes visitor records that have been idle for ttl.
type VisitorPruner interface {
	DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (int64, error)
}

// deleteIdleVisitorsWithRetry retries with exponential backoff on SQLITE_BUSY.
func deleteIdleVisitorsWithRetry(ctx context.Context, repo VisitorPruner, ttl time.Duration) (int64, error) {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		deleted, err := repo.DeleteIdleVisitors(ctx, ttl)
		if err == nil {
			return deleted, nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
			slog.Debug("Sweeper: database locked while pruning visitors, retrying",
				"attempt", i+1,
				"delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}

		return 0, fmt.Errorf("delete idle visitors after %d attempts: %w", i+1, err)
	}

	return 0, nil
}

// StartSweeper runs a background goroutine that periodically evicts idle
// sessions, purges expired cached answers, and prunes idle visitors.
// repo may be nil.
func StartSweeper(ctx context.Context, mgr *Manager, repo VisitorPruner, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, mgr, repo, ttl)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one sweeper pass.
func Sweep(ctx context.Context, mgr *Manager, repo VisitorPruner, ttl time.Duration) {
	if evicted := mgr.EvictIdle(ttl); len(evicted) > 0 {
		for _, key := range evicted {
			slog.Info("Sweeper evicted idle session",
				"user_id", key.UserID,
				"session_id", key.SessionID)
		}
		slog.Info("Sweeper eviction completed", "evicted", len(evicted), "remaining", mgr.Len())
	}

	if purged := mgr.PurgeExpiredAnswers(); purged > 0 {
		slog.Debug("Sweeper purged expired answers", "count", purged)
	}

	if repo == nil {
		return
	}
	deleted, err := deleteIdleVisitorsWithRetry(ctx, repo, ttl)
	if err != nil {
		slog.Error("Sweeper failed to prune idle visitors", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Sweeper pruned idle visitors", "count", deleted)
	}
}
