package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists history in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS voicelog_history (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			transcript TEXT NOT NULL,
			notification TEXT NOT NULL DEFAULT '',
			activities JSONB NOT NULL DEFAULT '[]',
			entries JSONB NOT NULL DEFAULT '[]',
			audio_bytes INTEGER NOT NULL DEFAULT 0,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voicelog_history_session_created ON voicelog_history (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	activities, err := json.Marshal(nonNil(entry.Activities))
	if err != nil {
		return fmt.Errorf("encode activities: %w", err)
	}
	entries, err := json.Marshal(nonNil(entry.Entries))
	if err != nil {
		return fmt.Errorf("encode activity entries: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO voicelog_history (id, session_id, transcript, notification, activities, entries, audio_bytes, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID,
		entry.SessionID,
		entry.Transcript,
		entry.Notification,
		activities,
		entries,
		entry.AudioBytes,
		entry.PIIRedacted,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save history entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, transcript, notification, activities, entries, audio_bytes, pii_redacted, created_at
		 FROM voicelog_history WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent history: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                   Entry
			activities, entries []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Transcript, &e.Notification, &activities, &entries, &e.AudioBytes, &e.PIIRedacted, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if err := json.Unmarshal(activities, &e.Activities); err != nil {
			return nil, fmt.Errorf("decode activities: %w", err)
		}
		if err := json.Unmarshal(entries, &e.Entries); err != nil {
			return nil, fmt.Errorf("decode activity entries: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	reverse(items)
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func reverse(items []Entry) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
