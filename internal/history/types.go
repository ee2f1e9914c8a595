package history

import (
	"context"
	"time"

	"github.com/ent0n29/voicelog/internal/protocol"
)

// Entry records one audio reply received during a session.
type Entry struct {
	ID           string                   `json:"id"`
	SessionID    string                   `json:"session_id"`
	Transcript   string                   `json:"transcript"`
	Notification string                   `json:"notification,omitempty"`
	Activities   []protocol.Activity      `json:"activities,omitempty"`
	Entries      []protocol.ActivityEntry `json:"entries,omitempty"`
	AudioBytes   int                      `json:"audio_bytes"`
	PIIRedacted  bool                     `json:"pii_redacted"`
	CreatedAt    time.Time                `json:"created_at"`
}

// Store persists and retrieves session history. Recent returns the newest
// limit entries in chronological order.
type Store interface {
	Save(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close() error
}

const defaultRecentLimit = 20
