package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// SessionRecord is one completed session as archived locally.
type SessionRecord struct {
	SessionID      string
	CategoryID     string
	Player1Name    string
	Player1Score   int
	Player2Name    string
	Player2Score   int
	TotalQuestions int
	Message        string
	CompletedAt    time.Time
}

// CombinedScore is the pair's joint score.
func (r SessionRecord) CombinedScore() int {
	return r.Player1Score + r.Player2Score
}

// Store archives completed sessions for the offline history view. The server
// remains the authority for scores; this is a local mirror only.
type Store interface {
	// SaveSession inserts or replaces the record keyed by its session id.
	SaveSession(ctx context.Context, record SessionRecord) error
	// GetSession returns one record or ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (SessionRecord, error)
	// ListSessions returns records newest first, at most limit when limit > 0.
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}
