package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteLog stores history in the application database. Ordering follows
// insertion through the autoincrement seq column.
type SQLiteLog struct {
	db *sql.DB
}

var _ Log = (*SQLiteLog)(nil)

func NewSQLiteLog(db *sql.DB) *SQLiteLog {
	return &SQLiteLog{db: db}
}

func (l *SQLiteLog) Append(ctx context.Context, userID int64, command, response string) (*Entry, error) {
	e := newEntry(userID, command, response)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO history (id, user_id, command, response, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.Command, e.Response, e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}
	return e, nil
}

func (l *SQLiteLog) List(ctx context.Context, userID int64) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, command, response, created_at
		FROM history WHERE user_id = ? ORDER BY seq ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Command, &e.Response, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (l *SQLiteLog) Clear(ctx context.Context, userID int64) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM history WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op: the connection belongs to the application database.
func (l *SQLiteLog) Close() error {
	return nil
}
