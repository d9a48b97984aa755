package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/qa-demo/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode keeps readers from blocking the identity middleware's writes.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS visitors (
		visitor_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		question_count INTEGER NOT NULL DEFAULT 0,
		first_seen_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetVisitor retrieves a visitor by ID.
func (s *SQLiteStore) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	query := `
		SELECT visitor_id, display_name, question_count, first_seen_at, last_seen_at
		FROM visitors WHERE visitor_id = ?`

	var v domain.Visitor
	var firstSeen, lastSeen int64
	err := s.db.QueryRowContext(ctx, query, visitorID).Scan(
		&v.VisitorID, &v.DisplayName, &v.QuestionCount, &firstSeen, &lastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}

	v.FirstSeenAt = time.Unix(firstSeen, 0)
	v.LastSeenAt = time.Unix(lastSeen, 0)
	return &v, nil
}

// UpsertVisitor creates or refreshes a visitor record.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, v *domain.Visitor) error {
	query := `
	INSERT INTO visitors (visitor_id, display_name, question_count, first_seen_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at`

	_, err := s.db.ExecContext(ctx, query,
		v.VisitorID, v.DisplayName, v.QuestionCount,
		v.FirstSeenAt.Unix(), v.LastSeenAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert visitor: %w", err)
	}
	return nil
}

// TouchVisitor updates the last_seen_at timestamp.
func (s *SQLiteStore) TouchVisitor(ctx context.Context, visitorID string, lastSeen time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE visitors SET last_seen_at = ? WHERE visitor_id = ?`,
		lastSeen.Unix(), visitorID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchVisitor affected 0 rows", "visitor_id", visitorID)
	}
	return nil
}

// IncrementQuestions bumps the visitor's question counter.
func (s *SQLiteStore) IncrementQuestions(ctx context.Context, visitorID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE visitors SET question_count = question_count + 1, last_seen_at = ? WHERE visitor_id = ?`,
		s.now().Unix(), visitorID)
	if err != nil {
		return fmt.Errorf("increment question_count: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("visitor not found")
	}
	return nil
}

// DeleteIdleVisitors removes visitors not seen for ttl.
func (s *SQLiteStore) DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := s.now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM visitors WHERE last_seen_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete idle visitors: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return deleted, nil
}
