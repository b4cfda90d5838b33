package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"welfare/internal/model"
)

const (
	cookieName        = "welfare_session"
	sessionSecretKey  = "session_secret"
	activityTouchEach = time.Minute
)

type Store interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, token string) (*model.Session, error)
	DeleteSession(ctx context.Context, token string) error
	GetMemberByID(ctx context.Context, id int64) (*model.Member, error)
	TouchActivity(ctx context.Context, id int64, at time.Time) error
}

type SessionManager struct {
	secret string
	store  Store
	maxAge time.Duration
	secure bool
	logger *slog.Logger
}

// EnsureSessionSecret returns the persisted signing secret, creating one on
// first start.
func EnsureSessionSecret(ctx context.Context, st Store) (string, error) {
	secret, err := st.GetSetting(ctx, sessionSecretKey)
	if err != nil {
		return "", err
	}
	if secret != "" {
		return secret, nil
	}
	secret = generateToken()
	if err := st.SetSetting(ctx, sessionSecretKey, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func NewSessionManager(ctx context.Context, st Store, maxAge time.Duration, secure bool, logger *slog.Logger) (*SessionManager, error) {
	secret, err := EnsureSessionSecret(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to load session secret: %w", err)
	}
	return &SessionManager{secret: secret, store: st, maxAge: maxAge, secure: secure, logger: logger}, nil
}

// Secret is shared with the 2FA challenge signer.
func (sm *SessionManager) Secret() []byte {
	return []byte(sm.secret)
}

// CreateSession stores a new session and sets the cookie. The CSRF token
// must be echoed back in X-CSRF-Token on state-changing requests.
func (sm *SessionManager) CreateSession(ctx context.Context, w http.ResponseWriter, memberID int64) (string, error) {
	token := generateToken()
	csrfToken := generateToken()
	signed := sm.sign(token)

	err := sm.store.CreateSession(ctx, model.Session{
		Token:     signed,
		CSRFToken: csrfToken,
		MemberID:  memberID,
		ExpiresAt: time.Now().Add(sm.maxAge),
	})
	if err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sm.maxAge.Seconds()),
	})
	return csrfToken, nil
}

func (sm *SessionManager) DestroySession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(cookieName)
	if err == nil {
		_ = sm.store.DeleteSession(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   cookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// Lookup resolves the request's session and its member. Expired sessions,
// unknown tokens and members who are no longer active all yield ok=false.
func (sm *SessionManager) Lookup(r *http.Request) (*model.Member, *model.Session, bool) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return nil, nil, false
	}
	sess, err := sm.store.GetSession(r.Context(), cookie.Value)
	if err != nil || sess == nil || time.Now().After(sess.ExpiresAt) {
		return nil, nil, false
	}
	m, err := sm.store.GetMemberByID(r.Context(), sess.MemberID)
	if err != nil || !m.Active() {
		return nil, nil, false
	}
	return m, sess, true
}

type ctxKey struct{}

type principal struct {
	member  *model.Member
	session *model.Session
}

// MemberFrom returns the member attached by RequireAuth.
func MemberFrom(ctx context.Context) *model.Member {
	p, _ := ctx.Value(ctxKey{}).(principal)
	return p.member
}

func SessionFrom(ctx context.Context) *model.Session {
	p, _ := ctx.Value(ctxKey{}).(principal)
	return p.session
}

func WithMember(ctx context.Context, m *model.Member, s *model.Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, principal{member: m, session: s})
}

func (sm *SessionManager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, sess, ok := sm.Lookup(r)
		if !ok {
			deny(w, http.StatusUnauthorized, "authentication required")
			return
		}
		sm.touch(r.Context(), m)
		next.ServeHTTP(w, r.WithContext(WithMember(r.Context(), m, sess)))
	})
}

func (sm *SessionManager) RequireAdmin(next http.Handler) http.Handler {
	return sm.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m := MemberFrom(r.Context()); m == nil || !m.IsAdmin {
			deny(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// ValidateCSRF must wrap handlers that already passed RequireAuth.
func (sm *SessionManager) ValidateCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
			sess := SessionFrom(r.Context())
			if sess == nil {
				deny(w, http.StatusForbidden, "no session")
				return
			}
			submitted := r.Header.Get("X-CSRF-Token")
			if submitted == "" || !hmac.Equal([]byte(submitted), []byte(sess.CSRFToken)) {
				deny(w, http.StatusForbidden, "invalid CSRF token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// touch records activity at most once a minute per member.
func (sm *SessionManager) touch(ctx context.Context, m *model.Member) {
	now := time.Now()
	if m.LastActivityAt != nil && now.Sub(*m.LastActivityAt) < activityTouchEach {
		return
	}
	if err := sm.store.TouchActivity(ctx, m.ID, now); err != nil {
		sm.logger.WarnContext(ctx, "touch activity failed", "member_id", m.ID, "error", err)
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (sm *SessionManager) sign(token string) string {
	mac := hmac.New(sha256.New, []byte(sm.secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
