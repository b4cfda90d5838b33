// Package memstore is an in-memory store.Store used for local development
// (database.driver: memory) and as the fake backend in tests.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"welfare/internal/model"
	"welfare/internal/store"
)

type Store struct {
	mu sync.RWMutex

	nextID    int64
	members   map[int64]*model.Member
	dates     map[int64]*model.SpecialDate
	kin       map[int64]*model.NextOfKin
	reminders map[int64]*model.ReminderLog
	audit     []model.AuditEntry
	backups   map[string]*model.Backup
	whitelist map[int64]*model.IPWhitelistEntry
	sessions  map[string]model.Session
	settings  map[string]string

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		members:   make(map[int64]*model.Member),
		dates:     make(map[int64]*model.SpecialDate),
		kin:       make(map[int64]*model.NextOfKin),
		reminders: make(map[int64]*model.ReminderLog),
		backups:   make(map[string]*model.Backup),
		whitelist: make(map[int64]*model.IPWhitelistEntry),
		sessions:  make(map[string]model.Session),
		settings:  make(map[string]string),
		now:       time.Now,
	}
}

// bcrypt.MinCost keeps tests fast; the PostgreSQL store uses a higher cost.
const bcryptCost = bcrypt.MinCost

// SetClock replaces the timestamp source used for created/updated fields.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Close() error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Members

func (s *Store) HasAdmin(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.IsAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) conflict(id int64, number, email string) bool {
	for _, m := range s.members {
		if m.ID == id {
			continue
		}
		if (number != "" && m.MembershipNumber == number) || (email != "" && strings.EqualFold(m.Email, email)) {
			return true
		}
	}
	return false
}

func (s *Store) CreateMember(_ context.Context, m *model.Member, password string) error {
	hash := ""
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
		if err != nil {
			return err
		}
		hash = string(b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflict(0, m.MembershipNumber, m.Email) {
		return store.ErrConflict
	}
	if m.Status == "" {
		m.Status = model.StatusActive
	}
	if m.AuthSource == "" {
		m.AuthSource = "local"
	}
	now := s.now()
	m.ID = s.id()
	m.PassHash = hash
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

func (s *Store) findMember(match func(*model.Member) bool) *model.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if match(m) {
			cp := *m
			return &cp
		}
	}
	return nil
}

func (s *Store) GetMemberByID(_ context.Context, id int64) (*model.Member, error) {
	return s.findMember(func(m *model.Member) bool { return m.ID == id }), nil
}

func (s *Store) GetMemberByNumber(_ context.Context, number string) (*model.Member, error) {
	return s.findMember(func(m *model.Member) bool { return m.MembershipNumber == number }), nil
}

func (s *Store) GetMemberByEmail(_ context.Context, email string) (*model.Member, error) {
	return s.findMember(func(m *model.Member) bool { return strings.EqualFold(m.Email, email) }), nil
}

func (s *Store) sortedMembers(match func(*model.Member) bool) []model.Member {
	var out []model.Member
	for _, m := range s.members {
		if match(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListMembers(_ context.Context, f model.MemberFilter) ([]model.Member, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(f.Search)
	all := s.sortedMembers(func(m *model.Member) bool {
		if f.Status != "" && m.Status != f.Status {
			return false
		}
		if q == "" {
			return true
		}
		return strings.Contains(strings.ToLower(m.FullName()), q) ||
			strings.Contains(strings.ToLower(m.Email), q) ||
			strings.Contains(strings.ToLower(m.MembershipNumber), q)
	})
	return paginate(all, f.Limit, f.Offset), len(all), nil
}

func (s *Store) ListActiveMembers(_ context.Context) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedMembers(func(m *model.Member) bool { return m.Active() }), nil
}

func (s *Store) updateMember(id int64, fn func(m *model.Member)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(m)
	m.UpdatedAt = s.now()
	return nil
}

func (s *Store) UpdateMemberProfile(_ context.Context, in *model.Member) error {
	s.mu.RLock()
	conflict := s.conflict(in.ID, "", in.Email)
	s.mu.RUnlock()
	if conflict {
		return store.ErrConflict
	}
	return s.updateMember(in.ID, func(m *model.Member) {
		m.FirstName, m.LastName, m.Email = in.FirstName, in.LastName, in.Email
		m.Phone, m.Address = in.Phone, in.Address
	})
}

func (s *Store) UpdateMemberPassword(_ context.Context, id int64, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return err
	}
	return s.updateMember(id, func(m *model.Member) { m.PassHash = string(hash) })
}

func (s *Store) SetMemberStatus(_ context.Context, id int64, status string) error {
	return s.updateMember(id, func(m *model.Member) { m.Status = status })
}

func (s *Store) SetMemberAdmin(_ context.Context, id int64, admin bool) error {
	return s.updateMember(id, func(m *model.Member) { m.IsAdmin = admin })
}

func (s *Store) SetMemberTOTPSecret(_ context.Context, id int64, secret string) error {
	return s.updateMember(id, func(m *model.Member) { m.TOTPSecret = secret })
}

func (s *Store) UpsertLDAPMember(_ context.Context, in *model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.MembershipNumber == in.MembershipNumber {
			m.Email, m.IsAdmin, m.AuthSource, m.UpdatedAt = in.Email, in.IsAdmin, "ldap", s.now()
			in.ID = m.ID
			return nil
		}
	}
	if s.conflict(0, "", in.Email) {
		return store.ErrConflict
	}
	now := s.now()
	cp := *in
	cp.ID = s.id()
	cp.AuthSource = "ldap"
	cp.Status = model.StatusActive
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.members[cp.ID] = &cp
	in.ID = cp.ID
	return nil
}

func (s *Store) TouchLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[id]; ok {
		m.LastLoginAt, m.LastActivityAt = &at, &at
	}
	return nil
}

func (s *Store) TouchActivity(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[id]; ok {
		m.LastActivityAt = &at
	}
	return nil
}

func (s *Store) AuthenticateMember(ctx context.Context, identifier, password string) (*model.Member, error) {
	m, _ := s.GetMemberByNumber(ctx, identifier)
	if m == nil {
		m, _ = s.GetMemberByEmail(ctx, identifier)
	}
	if m == nil || !m.Active() || m.PassHash == "" {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PassHash), []byte(password)); err != nil {
		return nil, nil
	}
	return m, nil
}

// Special dates

func copyDate(d *model.SpecialDate) model.SpecialDate {
	cp := *d
	cp.Recipients = append([]string(nil), d.Recipients...)
	return cp
}

func (s *Store) CreateSpecialDate(_ context.Context, d *model.SpecialDate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[d.MemberID]; !ok {
		return store.ErrNotFound
	}
	now := s.now()
	d.ID = s.id()
	d.Date = dateOnly(d.Date)
	d.CreatedAt, d.UpdatedAt = now, now
	cp := copyDate(d)
	s.dates[d.ID] = &cp
	return nil
}

func (s *Store) UpdateSpecialDate(_ context.Context, d *model.SpecialDate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.dates[d.ID]
	if !ok || cur.MemberID != d.MemberID {
		return store.ErrNotFound
	}
	d.Date = dateOnly(d.Date)
	d.CreatedAt = cur.CreatedAt
	d.UpdatedAt = s.now()
	cp := copyDate(d)
	s.dates[d.ID] = &cp
	return nil
}

func (s *Store) DeleteSpecialDate(_ context.Context, memberID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.dates[id]
	if !ok || cur.MemberID != memberID {
		return store.ErrNotFound
	}
	for _, l := range s.reminders {
		if l.SpecialDateID == id {
			cur.ReminderEnabled = false
			cur.UpdatedAt = s.now()
			return nil
		}
	}
	delete(s.dates, id)
	return nil
}

func (s *Store) GetSpecialDate(_ context.Context, id int64) (*model.SpecialDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dates[id]
	if !ok {
		return nil, nil
	}
	cp := copyDate(d)
	return &cp, nil
}

func (s *Store) listDates(match func(*model.SpecialDate) bool) []model.SpecialDate {
	var out []model.SpecialDate
	for _, d := range s.dates {
		if match(d) {
			out = append(out, copyDate(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListSpecialDates(_ context.Context, memberID int64) ([]model.SpecialDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listDates(func(d *model.SpecialDate) bool { return d.MemberID == memberID }), nil
}

func (s *Store) ListReminderCandidates(_ context.Context) ([]model.SpecialDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listDates(func(d *model.SpecialDate) bool {
		return d.ReminderEnabled && s.members[d.MemberID].Active()
	}), nil
}

// Next of kin

func (s *Store) clearPrimary(memberID int64) {
	for _, k := range s.kin {
		if k.MemberID == memberID && k.IsPrimary {
			k.IsPrimary = false
			k.UpdatedAt = s.now()
		}
	}
}

func (s *Store) CreateNextOfKin(_ context.Context, k *model.NextOfKin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[k.MemberID]; !ok {
		return store.ErrNotFound
	}
	if k.IsPrimary {
		s.clearPrimary(k.MemberID)
	}
	now := s.now()
	k.ID = s.id()
	k.CreatedAt, k.UpdatedAt = now, now
	cp := *k
	s.kin[k.ID] = &cp
	return nil
}

func (s *Store) UpdateNextOfKin(_ context.Context, k *model.NextOfKin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.kin[k.ID]
	if !ok || cur.MemberID != k.MemberID {
		return store.ErrNotFound
	}
	cur.Name, cur.Relationship, cur.Phone, cur.Email = k.Name, k.Relationship, k.Phone, k.Email
	cur.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteNextOfKin(_ context.Context, memberID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.kin[id]
	if !ok || cur.MemberID != memberID {
		return store.ErrNotFound
	}
	delete(s.kin, id)
	return nil
}

func (s *Store) ListNextOfKin(_ context.Context, memberID int64) ([]model.NextOfKin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.NextOfKin
	for _, k := range s.kin {
		if k.MemberID == memberID {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SetPrimaryNextOfKin(_ context.Context, memberID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.kin[id]
	if !ok || target.MemberID != memberID {
		return store.ErrNotFound
	}
	s.clearPrimary(memberID)
	target.IsPrimary = true
	return nil
}

// Reminder log

func (s *Store) CreateReminderLog(_ context.Context, l *model.ReminderLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.Attempt == 0 {
		l.Attempt = 1
	}
	if l.Channel == "" {
		l.Channel = model.ChannelEmail
	}
	if l.Status == "" {
		l.Status = model.ReminderPending
	}
	now := s.now()
	l.ID = s.id()
	l.Occurrence = dateOnly(l.Occurrence)
	l.CreatedAt, l.UpdatedAt = now, now
	cp := *l
	s.reminders[l.ID] = &cp
	return nil
}

func (s *Store) MarkReminderLog(_ context.Context, id int64, status, providerID, errDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.reminders[id]
	if !ok || l.Status != model.ReminderPending {
		return store.ErrNotFound
	}
	l.Status, l.ProviderMessageID, l.Error, l.UpdatedAt = status, providerID, errDetail, s.now()
	return nil
}

func (s *Store) GetReminderLog(_ context.Context, id int64) (*model.ReminderLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.reminders[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *Store) ListLoggedRecipients(_ context.Context, specialDateID int64, occurrence time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	occ := dateOnly(occurrence)
	seen := make(map[string]bool)
	var out []string
	for _, l := range s.reminders {
		if l.SpecialDateID != specialDateID || !l.Occurrence.Equal(occ) {
			continue
		}
		addr := strings.ToLower(l.RecipientAddress)
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) HasReminderRetry(_ context.Context, logID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.reminders {
		if l.RetryOf != nil && *l.RetryOf == logID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListReminderLogs(_ context.Context, f model.ReminderLogFilter) ([]model.ReminderLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []model.ReminderLog
	for _, l := range s.reminders {
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.MemberID != 0 && l.MemberID != f.MemberID {
			continue
		}
		all = append(all, *l)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return paginate(all, f.Limit, f.Offset), len(all), nil
}

// Audit

func (s *Store) LogAudit(_ context.Context, e model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Actor == "" {
		e.Actor = model.ActorSystem
	}
	e.ID = s.id()
	e.CreatedAt = s.now()
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListAuditLog(_ context.Context, limit, offset int) ([]model.AuditEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		out = append(out, s.audit[i])
	}
	return paginate(out, limit, offset), len(out), nil
}

// Backups

func (s *Store) CreateBackup(_ context.Context, b *model.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backups[b.ID]; ok {
		return store.ErrConflict
	}
	now := s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	cp := *b
	s.backups[b.ID] = &cp
	return nil
}

func (s *Store) UpdateBackup(_ context.Context, b *model.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.backups[b.ID]
	if !ok {
		return store.ErrNotFound
	}
	b.CreatedAt = cur.CreatedAt
	b.UpdatedAt = s.now()
	cp := *b
	s.backups[b.ID] = &cp
	return nil
}

func (s *Store) GetBackup(_ context.Context, id string) (*model.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backups[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListBackups(_ context.Context) ([]model.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Backup
	for _, b := range s.backups {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// IP allow-list

func (s *Store) ListWhitelist(_ context.Context) ([]model.IPWhitelistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.IPWhitelistEntry
	for _, e := range s.whitelist {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddWhitelistEntry(_ context.Context, e *model.IPWhitelistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.whitelist {
		if cur.Address == e.Address {
			return store.ErrConflict
		}
	}
	e.ID = s.id()
	e.CreatedAt = s.now()
	cp := *e
	s.whitelist[e.ID] = &cp
	return nil
}

func (s *Store) RemoveWhitelistEntry(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.whitelist[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.whitelist, id)
	return nil
}

// Sessions and settings

func (s *Store) CreateSession(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.CreatedAt = s.now()
	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *Store) PurgeExpiredSessions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, sess := range s.sessions {
		if sess.ExpiresAt.Before(now) {
			delete(s.sessions, token)
		}
	}
	return nil
}

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[key], nil
}

func (s *Store) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

// Reporting

func (s *Store) DashboardStats(_ context.Context, since time.Time) (model.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st model.DashboardStats
	for _, m := range s.members {
		st.TotalMembers++
		if m.Active() {
			st.ActiveMembers++
		} else {
			st.InactiveMembers++
		}
		if m.IsAdmin {
			st.Admins++
		}
	}
	st.SpecialDates = len(s.dates)
	st.NextOfKin = len(s.kin)
	for _, l := range s.reminders {
		if l.CreatedAt.Before(since) {
			continue
		}
		switch l.Status {
		case model.ReminderSent:
			st.RemindersSent++
		case model.ReminderFailed:
			st.RemindersFailed++
		case model.ReminderPending:
			st.RemindersQueued++
		}
	}
	return st, nil
}

func paginate[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
