// Package store defines the persistence contract shared by the PostgreSQL
// backend and the in-memory backend.
package store

import (
	"context"
	"errors"
	"time"

	"welfare/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Store is implemented by database.DB and memstore.Store. Lookups by key
// return (nil, nil) when nothing matches; updates of a missing row return
// ErrNotFound.
type Store interface {
	Close() error

	// Members
	HasAdmin(ctx context.Context) (bool, error)
	CreateMember(ctx context.Context, m *model.Member, password string) error
	GetMemberByID(ctx context.Context, id int64) (*model.Member, error)
	GetMemberByNumber(ctx context.Context, number string) (*model.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*model.Member, error)
	ListMembers(ctx context.Context, f model.MemberFilter) ([]model.Member, int, error)
	ListActiveMembers(ctx context.Context) ([]model.Member, error)
	UpdateMemberProfile(ctx context.Context, m *model.Member) error
	UpdateMemberPassword(ctx context.Context, id int64, newPassword string) error
	SetMemberStatus(ctx context.Context, id int64, status string) error
	SetMemberAdmin(ctx context.Context, id int64, admin bool) error
	SetMemberTOTPSecret(ctx context.Context, id int64, secret string) error
	UpsertLDAPMember(ctx context.Context, m *model.Member) error
	TouchLogin(ctx context.Context, id int64, at time.Time) error
	TouchActivity(ctx context.Context, id int64, at time.Time) error
	AuthenticateMember(ctx context.Context, identifier, password string) (*model.Member, error)

	// Special dates
	CreateSpecialDate(ctx context.Context, d *model.SpecialDate) error
	UpdateSpecialDate(ctx context.Context, d *model.SpecialDate) error
	DeleteSpecialDate(ctx context.Context, memberID, id int64) error
	GetSpecialDate(ctx context.Context, id int64) (*model.SpecialDate, error)
	ListSpecialDates(ctx context.Context, memberID int64) ([]model.SpecialDate, error)
	ListReminderCandidates(ctx context.Context) ([]model.SpecialDate, error)

	// Next of kin
	CreateNextOfKin(ctx context.Context, k *model.NextOfKin) error
	UpdateNextOfKin(ctx context.Context, k *model.NextOfKin) error
	DeleteNextOfKin(ctx context.Context, memberID, id int64) error
	ListNextOfKin(ctx context.Context, memberID int64) ([]model.NextOfKin, error)
	SetPrimaryNextOfKin(ctx context.Context, memberID, id int64) error

	// Reminder log
	CreateReminderLog(ctx context.Context, l *model.ReminderLog) error
	MarkReminderLog(ctx context.Context, id int64, status, providerID, errDetail string) error
	GetReminderLog(ctx context.Context, id int64) (*model.ReminderLog, error)
	// ListLoggedRecipients returns the lowercased addresses that already have
	// a log entry, of any status, for the occurrence.
	ListLoggedRecipients(ctx context.Context, specialDateID int64, occurrence time.Time) ([]string, error)
	HasReminderRetry(ctx context.Context, logID int64) (bool, error)
	ListReminderLogs(ctx context.Context, f model.ReminderLogFilter) ([]model.ReminderLog, int, error)

	// Audit
	LogAudit(ctx context.Context, e model.AuditEntry) error
	ListAuditLog(ctx context.Context, limit, offset int) ([]model.AuditEntry, int, error)

	// Backups
	CreateBackup(ctx context.Context, b *model.Backup) error
	UpdateBackup(ctx context.Context, b *model.Backup) error
	GetBackup(ctx context.Context, id string) (*model.Backup, error)
	ListBackups(ctx context.Context) ([]model.Backup, error)

	// IP allow-list
	ListWhitelist(ctx context.Context) ([]model.IPWhitelistEntry, error)
	AddWhitelistEntry(ctx context.Context, e *model.IPWhitelistEntry) error
	RemoveWhitelistEntry(ctx context.Context, id int64) error

	// Sessions and settings
	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, token string) (*model.Session, error)
	DeleteSession(ctx context.Context, token string) error
	PurgeExpiredSessions(ctx context.Context) error
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Reporting
	DashboardStats(ctx context.Context, since time.Time) (model.DashboardStats, error)
}
