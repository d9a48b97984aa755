// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/qa-demo/internal/domain"
)

// Repository persists anonymous visitor records.
type Repository interface {
	// GetVisitor retrieves a visitor by ID. Returns nil, nil when absent.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates a visitor or refreshes its display name and last-seen time.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// TouchVisitor updates the last_seen_at timestamp.
	TouchVisitor(ctx context.Context, visitorID string, lastSeen time.Time) error

	// IncrementQuestions bumps the visitor's question counter.
	IncrementQuestions(ctx context.Context, visitorID string) error

	// DeleteIdleVisitors removes visitors not seen for ttl.
	DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
