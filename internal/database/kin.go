package database

import (
	"context"
	"database/sql"

	"welfare/internal/model"
)

const kinColumns = `id, member_id, name, relationship, phone, email, is_primary, created_at, updated_at`

func (db *DB) CreateNextOfKin(ctx context.Context, k *model.NextOfKin) error {
	return db.withTx(ctx, nil, func(tx *sql.Tx) error {
		if k.IsPrimary {
			if _, err := tx.ExecContext(ctx,
				"UPDATE next_of_kin SET is_primary = FALSE, updated_at = NOW() WHERE member_id = $1 AND is_primary",
				k.MemberID); err != nil {
				return err
			}
		}
		return tx.QueryRowContext(ctx,
			`INSERT INTO next_of_kin (member_id, name, relationship, phone, email, is_primary)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at, updated_at`,
			k.MemberID, k.Name, k.Relationship, k.Phone, k.Email, k.IsPrimary,
		).Scan(&k.ID, &k.CreatedAt, &k.UpdatedAt)
	})
}

// UpdateNextOfKin edits contact details. The primary flag is only changed
// through SetPrimaryNextOfKin.
func (db *DB) UpdateNextOfKin(ctx context.Context, k *model.NextOfKin) error {
	return expectOne(db.conn.ExecContext(ctx,
		`UPDATE next_of_kin SET name = $1, relationship = $2, phone = $3, email = $4, updated_at = NOW()
		 WHERE id = $5 AND member_id = $6`,
		k.Name, k.Relationship, k.Phone, k.Email, k.ID, k.MemberID))
}

func (db *DB) DeleteNextOfKin(ctx context.Context, memberID, id int64) error {
	return expectOne(db.conn.ExecContext(ctx,
		"DELETE FROM next_of_kin WHERE id = $1 AND member_id = $2", id, memberID))
}

func (db *DB) ListNextOfKin(ctx context.Context, memberID int64) ([]model.NextOfKin, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+kinColumns+" FROM next_of_kin WHERE member_id = $1 ORDER BY is_primary DESC, id", memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kin []model.NextOfKin
	for rows.Next() {
		var k model.NextOfKin
		if err := rows.Scan(&k.ID, &k.MemberID, &k.Name, &k.Relationship, &k.Phone, &k.Email,
			&k.IsPrimary, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		kin = append(kin, k)
	}
	return kin, rows.Err()
}

// SetPrimaryNextOfKin clears the member's current primary before flagging
// the new one, in a single transaction.
func (db *DB) SetPrimaryNextOfKin(ctx context.Context, memberID, id int64) error {
	return db.withTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE next_of_kin SET is_primary = FALSE, updated_at = NOW() WHERE member_id = $1 AND is_primary",
			memberID); err != nil {
			return err
		}
		return expectOne(tx.ExecContext(ctx,
			"UPDATE next_of_kin SET is_primary = TRUE, updated_at = NOW() WHERE id = $1 AND member_id = $2",
			id, memberID))
	})
}
