package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"welfare/internal/model"
)

const reminderColumns = `id, special_date_id, member_id, occurrence, recipient_kind, recipient_name, recipient_address,
	channel, status, provider_message_id, error, attempt, retry_of, created_at, updated_at`

func scanReminderLog(row rowScanner) (*model.ReminderLog, error) {
	l := &model.ReminderLog{}
	var retryOf sql.NullInt64
	if err := row.Scan(&l.ID, &l.SpecialDateID, &l.MemberID, &l.Occurrence, &l.RecipientKind, &l.RecipientName,
		&l.RecipientAddress, &l.Channel, &l.Status, &l.ProviderMessageID, &l.Error, &l.Attempt,
		&retryOf, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if retryOf.Valid {
		v := retryOf.Int64
		l.RetryOf = &v
	}
	return l, nil
}

func (db *DB) CreateReminderLog(ctx context.Context, l *model.ReminderLog) error {
	if l.Attempt == 0 {
		l.Attempt = 1
	}
	if l.Channel == "" {
		l.Channel = model.ChannelEmail
	}
	if l.Status == "" {
		l.Status = model.ReminderPending
	}
	var retryOf sql.NullInt64
	if l.RetryOf != nil {
		retryOf = sql.NullInt64{Int64: *l.RetryOf, Valid: true}
	}
	return db.conn.QueryRowContext(ctx,
		`INSERT INTO reminder_logs (special_date_id, member_id, occurrence, recipient_kind, recipient_name,
		   recipient_address, channel, status, provider_message_id, error, attempt, retry_of)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, created_at, updated_at`,
		l.SpecialDateID, l.MemberID, l.Occurrence.Format(dateLayout), l.RecipientKind, l.RecipientName, l.RecipientAddress,
		l.Channel, l.Status, l.ProviderMessageID, l.Error, l.Attempt, retryOf,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
}

// MarkReminderLog records the outcome of a pending attempt. Settled entries
// are left untouched.
func (db *DB) MarkReminderLog(ctx context.Context, id int64, status, providerID, errDetail string) error {
	return expectOne(db.conn.ExecContext(ctx,
		`UPDATE reminder_logs SET status = $1, provider_message_id = $2, error = $3, updated_at = NOW()
		 WHERE id = $4 AND status = 'pending'`,
		status, providerID, errDetail, id))
}

func (db *DB) GetReminderLog(ctx context.Context, id int64) (*model.ReminderLog, error) {
	l, err := scanReminderLog(db.conn.QueryRowContext(ctx,
		"SELECT "+reminderColumns+" FROM reminder_logs WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

func (db *DB) ListLoggedRecipients(ctx context.Context, specialDateID int64, occurrence time.Time) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT LOWER(recipient_address) FROM reminder_logs
		 WHERE special_date_id = $1 AND occurrence = $2 ORDER BY 1`,
		specialDateID, occurrence.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func (db *DB) HasReminderRetry(ctx context.Context, logID int64) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM reminder_logs WHERE retry_of = $1)", logID,
	).Scan(&exists)
	return exists, err
}

func (db *DB) ListReminderLogs(ctx context.Context, f model.ReminderLogFilter) ([]model.ReminderLog, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.MemberID != 0 {
		args = append(args, f.MemberID)
		conds = append(conds, fmt.Sprintf("member_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM reminder_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM reminder_logs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
			reminderColumns, where, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []model.ReminderLog
	for rows.Next() {
		l, err := scanReminderLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, *l)
	}
	return logs, total, rows.Err()
}
