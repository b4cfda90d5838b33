package service

import (
	"context"
	"time"

	"welfare/internal/model"
	"welfare/internal/reminder"
	"welfare/internal/store"
)

const (
	defaultUpcomingDays = 30
	maxUpcomingDays     = 366
	statsWindow         = 30 * 24 * time.Hour
)

type Reports struct {
	store store.Store
	loc   *time.Location
}

func NewReports(st store.Store, loc *time.Location) *Reports {
	if loc == nil {
		loc = time.UTC
	}
	return &Reports{store: st, loc: loc}
}

type UpcomingRow struct {
	SpecialDateID    int64    `json:"special_date_id"`
	MemberID         int64    `json:"member_id"`
	MembershipNumber string   `json:"membership_number"`
	MemberName       string   `json:"member_name"`
	Label            string   `json:"label"`
	Occurrence       string   `json:"occurrence"`
	DaysAway         int      `json:"days_away"`
	Annual           bool     `json:"annual"`
	Recipients       []string `json:"recipients"`
}

// Upcoming lists reminder-enabled dates of active members whose next
// occurrence falls within days of now.
func (r *Reports) Upcoming(ctx context.Context, now time.Time, days int) ([]UpcomingRow, error) {
	if days <= 0 {
		days = defaultUpcomingDays
	}
	if days > maxUpcomingDays {
		days = maxUpcomingDays
	}

	dates, err := r.store.ListReminderCandidates(ctx)
	if err != nil {
		return nil, err
	}
	members, err := r.store.ListActiveMembers(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	rows := []UpcomingRow{}
	for _, u := range reminder.UpcomingWithin(dates, now, days, r.loc) {
		m, ok := byID[u.Date.MemberID]
		if !ok {
			continue
		}
		rows = append(rows, UpcomingRow{
			SpecialDateID:    u.Date.ID,
			MemberID:         m.ID,
			MembershipNumber: m.MembershipNumber,
			MemberName:       m.FullName(),
			Label:            u.Date.Label,
			Occurrence:       u.Occurrence.Format(dateLayout),
			DaysAway:         u.DaysAway,
			Annual:           u.Date.Annual,
			Recipients:       u.Date.Recipients,
		})
	}
	return rows, nil
}

// Dashboard returns counters over the last 30 days plus the number of
// dates coming up in the next 30.
func (r *Reports) Dashboard(ctx context.Context, now time.Time) (model.DashboardStats, error) {
	stats, err := r.store.DashboardStats(ctx, now.Add(-statsWindow))
	if err != nil {
		return stats, err
	}
	upcoming, err := r.Upcoming(ctx, now, defaultUpcomingDays)
	if err != nil {
		return stats, err
	}
	stats.UpcomingDates = len(upcoming)
	return stats, nil
}

func (r *Reports) ReminderLogs(ctx context.Context, f model.ReminderLogFilter) ([]model.ReminderLog, int, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return r.store.ListReminderLogs(ctx, f)
}

func (r *Reports) AuditLog(ctx context.Context, limit, offset int) ([]model.AuditEntry, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return r.store.ListAuditLog(ctx, limit, offset)
}
