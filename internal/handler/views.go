package handler

import (
	"time"

	"welfare/internal/model"
	"welfare/internal/reminder"
)

const dateLayout = "2006-01-02"

type memberView struct {
	ID               int64      `json:"id"`
	MembershipNumber string     `json:"membership_number"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone"`
	Address          string     `json:"address"`
	IsAdmin          bool       `json:"is_admin"`
	Status           string     `json:"status"`
	AuthSource       string     `json:"auth_source"`
	TwoFactor        bool       `json:"two_factor_enabled"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	LastActivityAt   *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func viewMember(m *model.Member) memberView {
	return memberView{
		ID:               m.ID,
		MembershipNumber: m.MembershipNumber,
		FirstName:        m.FirstName,
		LastName:         m.LastName,
		Email:            m.Email,
		Phone:            m.Phone,
		Address:          m.Address,
		IsAdmin:          m.IsAdmin,
		Status:           m.Status,
		AuthSource:       m.AuthSource,
		TwoFactor:        m.TwoFactorEnabled(),
		LastLoginAt:      m.LastLoginAt,
		LastActivityAt:   m.LastActivityAt,
		CreatedAt:        m.CreatedAt,
	}
}

func viewMembers(ms []model.Member) []memberView {
	out := make([]memberView, 0, len(ms))
	for i := range ms {
		out = append(out, viewMember(&ms[i]))
	}
	return out
}

type dateView struct {
	ID              int64    `json:"id"`
	Label           string   `json:"label"`
	Date            string   `json:"date"`
	Annual          bool     `json:"annual"`
	Recipients      []string `json:"recipients"`
	ReminderEnabled bool     `json:"reminder_enabled"`
}

func viewDate(d *model.SpecialDate) dateView {
	return dateView{
		ID:              d.ID,
		Label:           d.Label,
		Date:            d.Date.Format(dateLayout),
		Annual:          d.Annual,
		Recipients:      d.Recipients,
		ReminderEnabled: d.ReminderEnabled,
	}
}

func viewDates(ds []model.SpecialDate) []dateView {
	out := make([]dateView, 0, len(ds))
	for i := range ds {
		out = append(out, viewDate(&ds[i]))
	}
	return out
}

type kinView struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	IsPrimary    bool   `json:"is_primary"`
}

func viewKin(k *model.NextOfKin) kinView {
	return kinView{
		ID:           k.ID,
		Name:         k.Name,
		Relationship: k.Relationship,
		Phone:        k.Phone,
		Email:        k.Email,
		IsPrimary:    k.IsPrimary,
	}
}

func viewKins(ks []model.NextOfKin) []kinView {
	out := make([]kinView, 0, len(ks))
	for i := range ks {
		out = append(out, viewKin(&ks[i]))
	}
	return out
}

type reminderLogView struct {
	ID                int64     `json:"id"`
	SpecialDateID     int64     `json:"special_date_id"`
	MemberID          int64     `json:"member_id"`
	Occurrence        string    `json:"occurrence"`
	RecipientKind     string    `json:"recipient_kind"`
	RecipientName     string    `json:"recipient_name"`
	RecipientAddress  string    `json:"recipient_address"`
	Channel           string    `json:"channel"`
	Status            string    `json:"status"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	Attempt           int       `json:"attempt"`
	RetryOf           *int64    `json:"retry_of,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func viewReminderLogs(ls []model.ReminderLog) []reminderLogView {
	out := make([]reminderLogView, 0, len(ls))
	for _, l := range ls {
		out = append(out, reminderLogView{
			ID:                l.ID,
			SpecialDateID:     l.SpecialDateID,
			MemberID:          l.MemberID,
			Occurrence:        l.Occurrence.Format(dateLayout),
			RecipientKind:     l.RecipientKind,
			RecipientName:     l.RecipientName,
			RecipientAddress:  l.RecipientAddress,
			Channel:           l.Channel,
			Status:            l.Status,
			ProviderMessageID: l.ProviderMessageID,
			Error:             l.Error,
			Attempt:           l.Attempt,
			RetryOf:           l.RetryOf,
			CreatedAt:         l.CreatedAt,
		})
	}
	return out
}

type page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type auditView struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func viewAudit(es []model.AuditEntry) []auditView {
	out := make([]auditView, 0, len(es))
	for _, e := range es {
		out = append(out, auditView(e))
	}
	return out
}

type backupView struct {
	ID         string     `json:"id"`
	Location   string     `json:"location"`
	SizeBytes  int64      `json:"size_bytes"`
	Status     string     `json:"status"`
	CreatedBy  string     `json:"created_by"`
	RestoredBy string     `json:"restored_by,omitempty"`
	RestoredAt *time.Time `json:"restored_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func viewBackup(b *model.Backup) backupView {
	return backupView{
		ID:         b.ID,
		Location:   b.Location,
		SizeBytes:  b.SizeBytes,
		Status:     b.Status,
		CreatedBy:  b.CreatedBy,
		RestoredBy: b.RestoredBy,
		RestoredAt: b.RestoredAt,
		Error:      b.Error,
		CreatedAt:  b.CreatedAt,
	}
}

func viewBackups(bs []model.Backup) []backupView {
	out := make([]backupView, 0, len(bs))
	for i := range bs {
		out = append(out, viewBackup(&bs[i]))
	}
	return out
}

type whitelistView struct {
	ID          int64     `json:"id"`
	Address     string    `json:"address"`
	Description string    `json:"description"`
	AdminOnly   bool      `json:"admin_only"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewWhitelistEntry(e *model.IPWhitelistEntry) whitelistView {
	return whitelistView(*e)
}

func viewWhitelist(es []model.IPWhitelistEntry) []whitelistView {
	out := make([]whitelistView, 0, len(es))
	for i := range es {
		out = append(out, viewWhitelistEntry(&es[i]))
	}
	return out
}

type dashboardView struct {
	TotalMembers    int `json:"total_members"`
	ActiveMembers   int `json:"active_members"`
	InactiveMembers int `json:"inactive_members"`
	Admins          int `json:"admins"`
	SpecialDates    int `json:"special_dates"`
	NextOfKin       int `json:"next_of_kin"`
	RemindersSent   int `json:"reminders_sent"`
	RemindersFailed int `json:"reminders_failed"`
	RemindersQueued int `json:"reminders_queued"`
	UpcomingDates   int `json:"upcoming_dates"`
}

type attemptView struct {
	LogID         int64  `json:"log_id"`
	RecipientKind string `json:"recipient_kind"`
	Address       string `json:"address"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

func viewAttempt(a reminder.Attempt) attemptView {
	return attemptView{
		LogID:         a.LogID,
		RecipientKind: a.Recipient.Kind,
		Address:       a.Recipient.Address,
		Status:        a.Status,
		Error:         a.Error,
	}
}
