// Package domain contains core domain types for the Q&A demo.
package domain

import (
	"time"
)

// Visitor is an anonymous browser identified by its cookie.
// Only activity counters are kept; questions and answers are never stored.
type Visitor struct {
	VisitorID     string    `json:"visitor_id"`
	DisplayName   string    `json:"display_name"`
	QuestionCount int64     `json:"question_count"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// IdleFor returns how long the visitor has been inactive as of now.
func (v *Visitor) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(v.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}

// ExpiresIn returns the time left before an idle visitor is pruned.
// Returns 0 if the visitor is already past ttl.
func (v *Visitor) ExpiresIn(now time.Time, ttl time.Duration) time.Duration {
	left := ttl - v.IdleFor(now)
	if left < 0 {
		return 0
	}
	return left
}
