package database

import (
	"context"
	"database/sql"
	"errors"

	"welfare/internal/model"
)

const backupColumns = `id, location, size_bytes, status, created_by, restored_by, restored_at, error, created_at, updated_at`

func scanBackup(row rowScanner) (*model.Backup, error) {
	b := &model.Backup{}
	var restoredAt sql.NullTime
	if err := row.Scan(&b.ID, &b.Location, &b.SizeBytes, &b.Status, &b.CreatedBy, &b.RestoredBy,
		&restoredAt, &b.Error, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.RestoredAt = nullTime(restoredAt)
	return b, nil
}

func (db *DB) CreateBackup(ctx context.Context, b *model.Backup) error {
	return db.conn.QueryRowContext(ctx,
		`INSERT INTO backups (id, location, size_bytes, status, created_by)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		b.ID, b.Location, b.SizeBytes, b.Status, b.CreatedBy,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (db *DB) UpdateBackup(ctx context.Context, b *model.Backup) error {
	var restoredAt sql.NullTime
	if b.RestoredAt != nil {
		restoredAt = sql.NullTime{Time: *b.RestoredAt, Valid: true}
	}
	return expectOne(db.conn.ExecContext(ctx,
		`UPDATE backups SET location = $1, size_bytes = $2, status = $3, restored_by = $4,
		   restored_at = $5, error = $6, updated_at = NOW()
		 WHERE id = $7`,
		b.Location, b.SizeBytes, b.Status, b.RestoredBy, restoredAt, b.Error, b.ID))
}

func (db *DB) GetBackup(ctx context.Context, id string) (*model.Backup, error) {
	b, err := scanBackup(db.conn.QueryRowContext(ctx,
		"SELECT "+backupColumns+" FROM backups WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (db *DB) ListBackups(ctx context.Context) ([]model.Backup, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+backupColumns+" FROM backups ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}
