package model

import (
	"strings"
	"time"
)

const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

type Member struct {
	ID               int64
	MembershipNumber string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	Address          string
	PassHash         string
	TOTPSecret       string
	IsAdmin          bool
	Status           string
	AuthSource       string // "local" or "ldap"
	LastLoginAt      *time.Time
	LastActivityAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (m *Member) Active() bool {
	return m != nil && m.Status == StatusActive
}

func (m *Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

func (m *Member) TwoFactorEnabled() bool {
	return m.TOTPSecret != ""
}

func ValidStatus(s string) bool {
	return s == StatusActive || s == StatusInactive || s == StatusSuspended
}

type MemberFilter struct {
	Search string
	Status string
	Limit  int
	Offset int
}

// Recipient kinds a special date can notify.
const (
	RecipientMember     = "member"
	RecipientPrimaryKin = "primary_kin"
	RecipientAllKin     = "all_kin"
)

func ValidRecipient(r string) bool {
	return r == RecipientMember || r == RecipientPrimaryKin || r == RecipientAllKin
}

type SpecialDate struct {
	ID              int64
	MemberID        int64
	Label           string
	Date            time.Time // calendar date, time of day ignored
	Annual          bool
	Recipients      []string
	ReminderEnabled bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type NextOfKin struct {
	ID           int64
	MemberID     int64
	Name         string
	Relationship string
	Phone        string
	Email        string
	IsPrimary    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	ReminderPending = "pending"
	ReminderSent    = "sent"
	ReminderFailed  = "failed"

	ChannelEmail = "email"
)

type ReminderLog struct {
	ID                int64
	SpecialDateID     int64
	MemberID          int64
	Occurrence        time.Time
	RecipientKind     string
	RecipientName     string
	RecipientAddress  string
	Channel           string
	Status            string
	ProviderMessageID string
	Error             string
	Attempt           int
	RetryOf           *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ReminderLogFilter struct {
	Status   string
	MemberID int64
	Limit    int
	Offset   int
}

const ActorSystem = "system"

type AuditEntry struct {
	ID        int64
	Actor     string
	Action    string
	Detail    string
	IPAddress string
	CreatedAt time.Time
}

const (
	BackupRunning   = "running"
	BackupCompleted = "completed"
	BackupFailed    = "failed"
	BackupRestored  = "restored"
)

type Backup struct {
	ID         string
	Location   string
	SizeBytes  int64
	Status     string
	CreatedBy  string
	RestoredBy string
	RestoredAt *time.Time
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type IPWhitelistEntry struct {
	ID          int64
	Address     string // single address or CIDR range
	Description string
	AdminOnly   bool
	CreatedBy   string
	CreatedAt   time.Time
}

type Session struct {
	Token     string
	CSRFToken string
	MemberID  int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type DashboardStats struct {
	TotalMembers    int
	ActiveMembers   int
	InactiveMembers int
	Admins          int
	SpecialDates    int
	NextOfKin       int
	RemindersSent   int
	RemindersFailed int
	RemindersQueued int
	UpcomingDates   int
}
