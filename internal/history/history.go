// Package history stores the per-user log of processed commands.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one processed command and the response it produced.
type Entry struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Command   string    `json:"command"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is an append-only command history with bulk clear.
type Log interface {
	Append(ctx context.Context, userID int64, command, response string) (*Entry, error)
	// List returns a user's entries oldest first.
	List(ctx context.Context, userID int64) ([]*Entry, error)
	// Clear deletes every entry of a user and returns how many were removed.
	Clear(ctx context.Context, userID int64) (int64, error)
	Close() error
}

func newEntry(userID int64, command, response string) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Command:   command,
		Response:  response,
		CreatedAt: time.Now().UTC(),
	}
}
