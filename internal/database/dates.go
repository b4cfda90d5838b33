package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"welfare/internal/model"
)

const dateLayout = "2006-01-02"

const specialDateColumns = `id, member_id, label, event_date, annual, recipients, reminder_enabled, created_at, updated_at`

func scanSpecialDate(row rowScanner) (*model.SpecialDate, error) {
	d := &model.SpecialDate{}
	var recipients string
	if err := row.Scan(&d.ID, &d.MemberID, &d.Label, &d.Date, &d.Annual, &recipients,
		&d.ReminderEnabled, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Recipients = splitRecipients(recipients)
	return d, nil
}

func splitRecipients(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func (db *DB) CreateSpecialDate(ctx context.Context, d *model.SpecialDate) error {
	return db.conn.QueryRowContext(ctx,
		`INSERT INTO special_dates (member_id, label, event_date, annual, recipients, reminder_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		d.MemberID, d.Label, d.Date.Format(dateLayout), d.Annual,
		strings.Join(d.Recipients, ","), d.ReminderEnabled,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (db *DB) UpdateSpecialDate(ctx context.Context, d *model.SpecialDate) error {
	return expectOne(db.conn.ExecContext(ctx,
		`UPDATE special_dates SET label = $1, event_date = $2, annual = $3, recipients = $4,
		   reminder_enabled = $5, updated_at = NOW()
		 WHERE id = $6 AND member_id = $7`,
		d.Label, d.Date.Format(dateLayout), d.Annual, strings.Join(d.Recipients, ","),
		d.ReminderEnabled, d.ID, d.MemberID))
}

// DeleteSpecialDate removes a date that has no reminder history; dates with
// history are disabled instead so the log keeps its reference.
func (db *DB) DeleteSpecialDate(ctx context.Context, memberID, id int64) error {
	return db.withTx(ctx, nil, func(tx *sql.Tx) error {
		var logged bool
		if err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM reminder_logs WHERE special_date_id = $1)", id,
		).Scan(&logged); err != nil {
			return err
		}
		if logged {
			return expectOne(tx.ExecContext(ctx,
				`UPDATE special_dates SET reminder_enabled = FALSE, updated_at = NOW()
				 WHERE id = $1 AND member_id = $2`, id, memberID))
		}
		return expectOne(tx.ExecContext(ctx,
			"DELETE FROM special_dates WHERE id = $1 AND member_id = $2", id, memberID))
	})
}

func (db *DB) GetSpecialDate(ctx context.Context, id int64) (*model.SpecialDate, error) {
	d, err := scanSpecialDate(db.conn.QueryRowContext(ctx,
		"SELECT "+specialDateColumns+" FROM special_dates WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (db *DB) ListSpecialDates(ctx context.Context, memberID int64) ([]model.SpecialDate, error) {
	return db.querySpecialDates(ctx,
		"SELECT "+specialDateColumns+" FROM special_dates WHERE member_id = $1 ORDER BY event_date, id", memberID)
}

// ListReminderCandidates returns reminder-enabled dates owned by active members.
func (db *DB) ListReminderCandidates(ctx context.Context) ([]model.SpecialDate, error) {
	return db.querySpecialDates(ctx,
		`SELECT d.id, d.member_id, d.label, d.event_date, d.annual, d.recipients, d.reminder_enabled,
		   d.created_at, d.updated_at
		 FROM special_dates d JOIN members m ON m.id = d.member_id
		 WHERE d.reminder_enabled AND m.status = 'active'
		 ORDER BY d.id`)
}

func (db *DB) querySpecialDates(ctx context.Context, query string, args ...any) ([]model.SpecialDate, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []model.SpecialDate
	for rows.Next() {
		d, err := scanSpecialDate(rows)
		if err != nil {
			return nil, err
		}
		dates = append(dates, *d)
	}
	return dates, rows.Err()
}
