package database

import (
	"context"

	"welfare/internal/model"
	"welfare/internal/store"
)

func (db *DB) ListWhitelist(ctx context.Context) ([]model.IPWhitelistEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, address, description, admin_only, created_by, created_at FROM ip_whitelist ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.IPWhitelistEntry
	for rows.Next() {
		var e model.IPWhitelistEntry
		if err := rows.Scan(&e.ID, &e.Address, &e.Description, &e.AdminOnly, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DB) AddWhitelistEntry(ctx context.Context, e *model.IPWhitelistEntry) error {
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO ip_whitelist (address, description, admin_only, created_by)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		e.Address, e.Description, e.AdminOnly, e.CreatedBy,
	).Scan(&e.ID, &e.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (db *DB) RemoveWhitelistEntry(ctx context.Context, id int64) error {
	return expectOne(db.conn.ExecContext(ctx, "DELETE FROM ip_whitelist WHERE id = $1", id))
}
