package catalog

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByName(ctx context.Context, username string) (*User, error)
	GetUserByToken(ctx context.Context, token string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	GetSession(ctx context.Context, userID int64) (*Session, error)
	SetVideoPath(ctx context.Context, userID int64, path string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u *User) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, token, created_at) VALUES (?, ?, ?)
	`, u.Username, u.Token, u.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, token, created_at FROM users WHERE id = ?
	`, id)
	return r.scanUser(row)
}

func (r *SQLiteRepository) GetUserByName(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, token, created_at FROM users WHERE username = ?
	`, username)
	return r.scanUser(row)
}

func (r *SQLiteRepository) GetUserByToken(ctx context.Context, token string) (*User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, token, created_at FROM users WHERE token = ?
	`, token)
	return r.scanUser(row)
}

func (r *SQLiteRepository) scanUser(row *sql.Row) (*User, error) {
	var u User
	var createdAt string

	err := row.Scan(&u.ID, &u.Username, &u.Token, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, token, created_at FROM users ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.Token, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (r *SQLiteRepository) GetSession(ctx context.Context, userID int64) (*Session, error) {
	var s Session
	var videoPath sql.NullString
	var updatedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, video_path, updated_at FROM sessions WHERE user_id = ?
	`, userID).Scan(&s.UserID, &videoPath, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.VideoPath = videoPath.String
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func (r *SQLiteRepository) SetVideoPath(ctx context.Context, userID int64, path string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, video_path, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET video_path = excluded.video_path, updated_at = excluded.updated_at
	`, userID, nullString(path), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
