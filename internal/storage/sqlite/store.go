// Package sqlite provides the SQLite-backed session-history store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	sqlitemigrate "github.com/ayush-jaipuriar/only-yours/internal/platform/storage/sqlitemigrate"
	"github.com/ayush-jaipuriar/only-yours/internal/storage"
	"github.com/ayush-jaipuriar/only-yours/internal/storage/sqlite/migrations"
)

// Store persists completed sessions in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite session-history store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveSession inserts or replaces one completed session record.
func (s *Store) SaveSession(ctx context.Context, record storage.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	sessionID := strings.TrimSpace(record.SessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	completedAt := record.CompletedAt.UTC()
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO sessions (
		   session_id,
		   category_id,
		   player1_name,
		   player1_score,
		   player2_name,
		   player2_score,
		   total_questions,
		   message,
		   completed_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		strings.TrimSpace(record.CategoryID),
		strings.TrimSpace(record.Player1Name),
		record.Player1Score,
		strings.TrimSpace(record.Player2Name),
		record.Player2Score,
		record.TotalQuestions,
		record.Message,
		toMillis(completedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns the record for sessionID or storage.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (storage.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SessionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SessionRecord{}, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return storage.SessionRecord{}, fmt.Errorf("session id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT session_id, category_id, player1_name, player1_score,
		        player2_name, player2_score, total_questions, message, completed_at
		   FROM sessions WHERE session_id = ?`,
		sessionID,
	)
	record, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SessionRecord{}, storage.ErrNotFound
		}
		return storage.SessionRecord{}, fmt.Errorf("query session: %w", err)
	}
	return record, nil
}

// ListSessions returns records newest first, at most limit when limit > 0.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `SELECT session_id, category_id, player1_name, player1_score,
	                 player2_name, player2_score, total_questions, message, completed_at
	            FROM sessions ORDER BY completed_at DESC, session_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []storage.SessionRecord
	for rows.Next() {
		record, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}

func scanSession(scan func(dest ...any) error) (storage.SessionRecord, error) {
	var record storage.SessionRecord
	var completedAt int64
	if err := scan(
		&record.SessionID,
		&record.CategoryID,
		&record.Player1Name,
		&record.Player1Score,
		&record.Player2Name,
		&record.Player2Score,
		&record.TotalQuestions,
		&record.Message,
		&completedAt,
	); err != nil {
		return storage.SessionRecord{}, err
	}
	record.CompletedAt = fromMillis(completedAt)
	return record, nil
}
