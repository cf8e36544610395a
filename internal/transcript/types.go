package transcript

import (
	"context"
	"time"
)

// EntryRecord is one archived conversation line for a call.
type EntryRecord struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Redacted  bool      `json:"redacted"`
	CreatedAt time.Time `json:"created_at"`
}

// Store archives conversation entries. Session state stays in the registry;
// the archive only exists so transcripts outlive the in-memory session.
type Store interface {
	SaveEntry(ctx context.Context, record EntryRecord) error
	Recent(ctx context.Context, roomID string, limit int) ([]EntryRecord, error)
	Close() error
}
