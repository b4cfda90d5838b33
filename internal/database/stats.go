package database

import (
	"context"
	"database/sql"
	"time"

	"welfare/internal/model"
)

// DashboardStats reads every counter inside one repeatable-read transaction
// so the numbers describe a single snapshot.
func (db *DB) DashboardStats(ctx context.Context, since time.Time) (model.DashboardStats, error) {
	var s model.DashboardStats
	err := db.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*),
			        COUNT(*) FILTER (WHERE status = 'active'),
			        COUNT(*) FILTER (WHERE status <> 'active'),
			        COUNT(*) FILTER (WHERE is_admin)
			 FROM members`,
		).Scan(&s.TotalMembers, &s.ActiveMembers, &s.InactiveMembers, &s.Admins); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM special_dates").Scan(&s.SpecialDates); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM next_of_kin").Scan(&s.NextOfKin); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FILTER (WHERE status = 'sent'),
			        COUNT(*) FILTER (WHERE status = 'failed'),
			        COUNT(*) FILTER (WHERE status = 'pending')
			 FROM reminder_logs WHERE created_at >= $1`, since,
		).Scan(&s.RemindersSent, &s.RemindersFailed, &s.RemindersQueued)
	})
	return s, err
}
