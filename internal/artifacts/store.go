package artifacts

import (
	"context"
	"database/sql"
	"time"
)

// Store persists per-kind artifact state.
type Store interface {
	ListStates(ctx context.Context, userID int64) (map[Kind]Record, error)
	SetState(ctx context.Context, userID int64, kind Kind, state State, errMsg string) error
	ResetStates(ctx context.Context, userID int64) error
}

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) ListStates(ctx context.Context, userID int64) (map[Kind]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, state, error, updated_at FROM artifact_states WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Kind]Record)
	for rows.Next() {
		var kind, state, updatedAt string
		var errMsg sql.NullString
		if err := rows.Scan(&kind, &state, &errMsg, &updatedAt); err != nil {
			return nil, err
		}
		rec := Record{UserID: userID, Kind: Kind(kind), State: State(state)}
		rec.Error = errMsg.String
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out[rec.Kind] = rec
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetState(ctx context.Context, userID int64, kind Kind, state State, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifact_states (user_id, kind, state, error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, kind) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, userID, string(kind), string(state), nullString(errMsg), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) ResetStates(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE artifact_states SET state = ?, error = NULL, updated_at = ? WHERE user_id = ?
	`, string(StateAbsent), time.Now().UTC().Format(time.RFC3339Nano), userID)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
