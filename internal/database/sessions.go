package database

import (
	"context"
	"database/sql"
	"errors"

	"welfare/internal/model"
)

func (db *DB) CreateSession(ctx context.Context, s model.Session) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO sessions (token, csrf_token, member_id, expires_at) VALUES ($1, $2, $3, $4)",
		s.Token, s.CSRFToken, s.MemberID, s.ExpiresAt,
	)
	return err
}

func (db *DB) GetSession(ctx context.Context, token string) (*model.Session, error) {
	s := &model.Session{Token: token}
	err := db.conn.QueryRowContext(ctx,
		"SELECT csrf_token, member_id, created_at, expires_at FROM sessions WHERE token = $1", token,
	).Scan(&s.CSRFToken, &s.MemberID, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (db *DB) DeleteSession(ctx context.Context, token string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE token = $1", token)
	return err
}

func (db *DB) PurgeExpiredSessions(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < NOW()")
	return err
}
