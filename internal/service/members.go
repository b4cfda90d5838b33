// Package service holds the member-facing and admin operations that sit
// between the HTTP handlers and the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"welfare/internal/audit"
	"welfare/internal/auth"
	"welfare/internal/config"
	"welfare/internal/model"
	"welfare/internal/store"
	"welfare/internal/validate"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccessDenied       = errors.New("access denied")
	ErrInvalid            = errors.New("invalid input")
	ErrNoPendingSecret    = errors.New("two-factor setup not started")
)

const pendingTOTPKey = "totp_pending:%d"

type MemberService struct {
	store  store.Store
	audit  *audit.Sink
	totp   *auth.TOTP
	ldap   auth.Directory
	logger *slog.Logger
}

func NewMemberService(st store.Store, sink *audit.Sink, totp *auth.TOTP, ldap auth.Directory, logger *slog.Logger) *MemberService {
	return &MemberService{store: st, audit: sink, totp: totp, ldap: ldap, logger: logger}
}

type RegisterInput struct {
	MembershipNumber string `json:"membership_number" validate:"notblank,alphanum,max=32"`
	FirstName        string `json:"first_name" validate:"notblank,max=100"`
	LastName         string `json:"last_name" validate:"notblank,max=100"`
	Email            string `json:"email" validate:"required,email,max=254"`
	Phone            string `json:"phone" validate:"omitempty,max=32"`
	Address          string `json:"address" validate:"omitempty,max=500"`
	Password         string `json:"password" validate:"required,min=8,max=128"`
}

func (s *MemberService) Register(ctx context.Context, in RegisterInput, ip string) (*model.Member, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	m := &model.Member{
		MembershipNumber: strings.TrimSpace(in.MembershipNumber),
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		Email:            strings.TrimSpace(in.Email),
		Phone:            strings.TrimSpace(in.Phone),
		Address:          strings.TrimSpace(in.Address),
		Status:           model.StatusActive,
		AuthSource:       "local",
	}
	if err := s.store.CreateMember(ctx, m, in.Password); err != nil {
		return nil, err
	}
	s.audit.Append(ctx, m.MembershipNumber, "member.register", map[string]string{"email": m.Email}, ip)
	return m, nil
}

// EnsureAdmin creates the configured bootstrap admin when no admin exists
// yet. It is safe to call on every start.
func (s *MemberService) EnsureAdmin(ctx context.Context, cfg config.AdminConfig) (bool, error) {
	has, err := s.store.HasAdmin(ctx)
	if err != nil {
		return false, err
	}
	if has || cfg.MembershipNumber == "" || cfg.Password == "" {
		return false, nil
	}

	existing, err := s.store.GetMemberByNumber(ctx, cfg.MembershipNumber)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if err := s.store.SetMemberAdmin(ctx, existing.ID, true); err != nil {
			return false, err
		}
		s.audit.Append(ctx, model.ActorSystem, "admin.bootstrap", map[string]string{"member": existing.MembershipNumber}, "")
		return true, nil
	}

	m := &model.Member{
		MembershipNumber: cfg.MembershipNumber,
		FirstName:        cfg.FirstName,
		LastName:         cfg.LastName,
		Email:            cfg.Email,
		IsAdmin:          true,
		Status:           model.StatusActive,
	}
	if err := s.store.CreateMember(ctx, m, cfg.Password); err != nil {
		return false, err
	}
	s.audit.Append(ctx, model.ActorSystem, "admin.bootstrap", map[string]string{"member": m.MembershipNumber}, "")
	s.logger.InfoContext(ctx, "bootstrap admin created", "membership_number", m.MembershipNumber)
	return true, nil
}

// CreateFirstAdmin registers the first member as an admin. Once any admin
// exists it returns ErrAccessDenied.
func (s *MemberService) CreateFirstAdmin(ctx context.Context, in RegisterInput, ip string) (*model.Member, error) {
	has, err := s.store.HasAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if has {
		return nil, ErrAccessDenied
	}
	m, err := s.Register(ctx, in, ip)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetMemberAdmin(ctx, m.ID, true); err != nil {
		return nil, err
	}
	m.IsAdmin = true
	s.audit.Append(ctx, m.MembershipNumber, "admin.bootstrap", "first admin via setup", ip)
	return m, nil
}

func (s *MemberService) SetupRequired(ctx context.Context) (bool, error) {
	has, err := s.store.HasAdmin(ctx)
	return !has, err
}

type LoginResult struct {
	Member    *model.Member
	NeedsTOTP bool
	Method    string
}

// Login checks credentials against the directory first (when configured)
// and then the local password hash. Members with 2FA enabled get
// NeedsTOTP and must finish with CompleteTOTPLogin.
func (s *MemberService) Login(ctx context.Context, identifier, password, ip string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	var m *model.Member
	method := ""

	if s.ldap != nil {
		res, err := s.ldap.Authenticate(identifier, password)
		if err == nil && res != nil {
			admin, allowed := s.ldap.ResolveAccess(res.Groups)
			if !allowed {
				s.audit.Append(ctx, identifier, "login.denied", "not in an authorized directory group", ip)
				return nil, ErrAccessDenied
			}
			lm := &model.Member{
				MembershipNumber: res.Username,
				FirstName:        res.FirstName,
				LastName:         res.LastName,
				Email:            res.Email,
				IsAdmin:          admin,
			}
			if err := s.store.UpsertLDAPMember(ctx, lm); err != nil {
				return nil, fmt.Errorf("provisioning directory member: %w", err)
			}
			if m, err = s.store.GetMemberByID(ctx, lm.ID); err != nil {
				return nil, err
			}
			method = "ldap"
		}
	}

	if m == nil {
		local, err := s.store.AuthenticateMember(ctx, identifier, password)
		if err != nil {
			return nil, err
		}
		if local != nil {
			// With a directory configured, only admins may still use local passwords.
			if s.ldap != nil && !local.IsAdmin {
				s.audit.Append(ctx, local.MembershipNumber, "login.denied", "local login disabled", ip)
				return nil, ErrAccessDenied
			}
			m, method = local, "local"
		}
	}

	if m == nil {
		s.audit.Append(ctx, identifier, "login.failed", nil, ip)
		return nil, ErrInvalidCredentials
	}
	if !m.Active() {
		s.audit.Append(ctx, m.MembershipNumber, "login.denied", "member "+m.Status, ip)
		return nil, ErrAccessDenied
	}

	if m.TwoFactorEnabled() {
		return &LoginResult{Member: m, NeedsTOTP: true, Method: method}, nil
	}
	s.finishLogin(ctx, m, method, ip)
	return &LoginResult{Member: m, Method: method}, nil
}

func (s *MemberService) CompleteTOTPLogin(ctx context.Context, memberID int64, code, ip string) (*model.Member, error) {
	m, err := s.store.GetMemberByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if !m.Active() || !m.TwoFactorEnabled() {
		return nil, ErrAccessDenied
	}
	if err := s.totp.Verify(m.TOTPSecret, code); err != nil {
		s.audit.Append(ctx, m.MembershipNumber, "login.2fa_failed", nil, ip)
		return nil, err
	}
	s.finishLogin(ctx, m, "totp", ip)
	return m, nil
}

func (s *MemberService) finishLogin(ctx context.Context, m *model.Member, method, ip string) {
	if err := s.store.TouchLogin(ctx, m.ID, time.Now()); err != nil {
		s.logger.WarnContext(ctx, "touch login failed", "member_id", m.ID, "error", err)
	}
	s.audit.Append(ctx, m.MembershipNumber, "login", "auth="+method, ip)
}

func (s *MemberService) Logout(ctx context.Context, m *model.Member, ip string) {
	s.audit.Append(ctx, m.MembershipNumber, "logout", nil, ip)
}

type ProfileInput struct {
	FirstName string `json:"first_name" validate:"notblank,max=100"`
	LastName  string `json:"last_name" validate:"notblank,max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
	Address   string `json:"address" validate:"omitempty,max=500"`
}

func (s *MemberService) UpdateProfile(ctx context.Context, m *model.Member, in ProfileInput, ip string) (*model.Member, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	upd := *m
	upd.FirstName = strings.TrimSpace(in.FirstName)
	upd.LastName = strings.TrimSpace(in.LastName)
	upd.Email = strings.TrimSpace(in.Email)
	upd.Phone = strings.TrimSpace(in.Phone)
	upd.Address = strings.TrimSpace(in.Address)
	if err := s.store.UpdateMemberProfile(ctx, &upd); err != nil {
		return nil, err
	}
	s.audit.Append(ctx, m.MembershipNumber, "member.update", nil, ip)
	return s.store.GetMemberByID(ctx, m.ID)
}

type PasswordInput struct {
	Current string `json:"current_password" validate:"required"`
	New     string `json:"new_password" validate:"required,min=8,max=128,nefield=Current"`
}

func (s *MemberService) ChangePassword(ctx context.Context, m *model.Member, in PasswordInput, ip string) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if m.AuthSource == "ldap" {
		return fmt.Errorf("%w: directory accounts change their password in the directory", ErrInvalid)
	}
	ok, err := s.store.AuthenticateMember(ctx, m.MembershipNumber, in.Current)
	if err != nil {
		return err
	}
	if ok == nil {
		return ErrInvalidCredentials
	}
	if err := s.store.UpdateMemberPassword(ctx, m.ID, in.New); err != nil {
		return err
	}
	s.audit.Append(ctx, m.MembershipNumber, "member.password", nil, ip)
	return nil
}

type TwoFactorSetup struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// SetupTwoFactor generates a secret and parks it until EnableTwoFactor
// proves the member's authenticator produces matching codes.
func (s *MemberService) SetupTwoFactor(ctx context.Context, m *model.Member) (*TwoFactorSetup, error) {
	account := m.Email
	if account == "" {
		account = m.MembershipNumber
	}
	key, err := s.totp.Generate(account)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetSetting(ctx, fmt.Sprintf(pendingTOTPKey, m.ID), key.Secret()); err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: key.Secret(), URL: key.URL()}, nil
}

func (s *MemberService) EnableTwoFactor(ctx context.Context, m *model.Member, code, ip string) error {
	key := fmt.Sprintf(pendingTOTPKey, m.ID)
	secret, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return err
	}
	if secret == "" {
		return ErrNoPendingSecret
	}
	if err := s.totp.Verify(secret, code); err != nil {
		return err
	}
	if err := s.store.SetMemberTOTPSecret(ctx, m.ID, secret); err != nil {
		return err
	}
	_ = s.store.SetSetting(ctx, key, "")
	s.audit.Append(ctx, m.MembershipNumber, "member.2fa_enabled", nil, ip)
	return nil
}

func (s *MemberService) DisableTwoFactor(ctx context.Context, m *model.Member, code, ip string) error {
	if !m.TwoFactorEnabled() {
		return nil
	}
	if err := s.totp.Verify(m.TOTPSecret, code); err != nil {
		return err
	}
	if err := s.store.SetMemberTOTPSecret(ctx, m.ID, ""); err != nil {
		return err
	}
	s.audit.Append(ctx, m.MembershipNumber, "member.2fa_disabled", nil, ip)
	return nil
}

// Admin operations

func (s *MemberService) List(ctx context.Context, f model.MemberFilter) ([]model.Member, int, error) {
	if f.Status != "" && !model.ValidStatus(f.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalid, f.Status)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListMembers(ctx, f)
}

func (s *MemberService) Get(ctx context.Context, id int64) (*model.Member, error) {
	m, err := s.store.GetMemberByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (s *MemberService) SetStatus(ctx context.Context, actor *model.Member, id int64, status, ip string) error {
	if !model.ValidStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	if actor.ID == id && status != model.StatusActive {
		return fmt.Errorf("%w: admins cannot deactivate themselves", ErrInvalid)
	}
	if err := s.store.SetMemberStatus(ctx, id, status); err != nil {
		return err
	}
	s.audit.Append(ctx, actor.MembershipNumber, "member.status", map[string]any{"member_id": id, "status": status}, ip)
	return nil
}

func (s *MemberService) SetAdmin(ctx context.Context, actor *model.Member, id int64, admin bool, ip string) error {
	if actor.ID == id && !admin {
		return fmt.Errorf("%w: admins cannot revoke their own admin flag", ErrInvalid)
	}
	if err := s.store.SetMemberAdmin(ctx, id, admin); err != nil {
		return err
	}
	s.audit.Append(ctx, actor.MembershipNumber, "member.admin", map[string]any{"member_id": id, "admin": admin}, ip)
	return nil
}
