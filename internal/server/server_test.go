package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/config"
	"welfare/internal/logging"
)

const testConfig = `
database:
  driver: memory
mail:
  provider: console
  association: Test Association
reminders:
  send_delay: 1ms
`

type client struct {
	t      *testing.T
	h      http.Handler
	ip     string
	cookie *http.Cookie
	csrf   string
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = c.ip + ":40000"
	req.Header.Set("Content-Type", "application/json")
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	return rec
}

// adopt stores the session cookie and CSRF token from a login response.
func (c *client) adopt(rec *httptest.ResponseRecorder) {
	c.t.Helper()
	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	cookies := rec.Result().Cookies()
	require.NotEmpty(c.t, cookies)
	c.cookie = cookies[0]
	c.csrf = resp.CSRFToken
}

func newServer(t *testing.T, extra string) *Server {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig + extra))
	require.NoError(t, err)
	s, err := New(context.Background(), cfg, "test", logging.Discard())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func setupAdmin(t *testing.T, h http.Handler, ip string) *client {
	t.Helper()
	admin := &client{t: t, h: h, ip: ip}
	rec := admin.do(http.MethodPost, "/api/setup", map[string]string{
		"membership_number": "A001",
		"first_name":        "Nomsa",
		"last_name":         "Dlamini",
		"email":             "nomsa@example.org",
		"password":          "admin-pass-123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	admin.adopt(rec)
	return admin
}

func TestServer_SetupAndMemberFlow(t *testing.T) {
	s := newServer(t, "")
	h := s.Handler()

	anon := &client{t: t, h: h, ip: "192.0.2.10"}
	rec := anon.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = anon.do(http.MethodGet, "/api/setup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["setup_required"])

	register := map[string]string{
		"membership_number": "M100",
		"first_name":        "Thabo",
		"last_name":         "Mokoena",
		"email":             "thabo@example.org",
		"password":          "member-pass-1",
	}
	rec = anon.do(http.MethodPost, "/api/auth/register", register)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	admin := setupAdmin(t, h, "192.0.2.10")

	rec = anon.do(http.MethodPost, "/api/setup", register)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	member := &client{t: t, h: h, ip: "192.0.2.20"}
	rec = member.do(http.MethodPost, "/api/auth/register", register)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	member.adopt(rec)

	date := map[string]any{"label": "Birthday", "date": "1990-05-15"}
	csrf := member.csrf
	member.csrf = ""
	rec = member.do(http.MethodPost, "/api/me/dates", date)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	member.csrf = csrf

	rec = member.do(http.MethodPost, "/api/me/dates", date)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = member.do(http.MethodGet, "/api/me/dates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = member.do(http.MethodGet, "/api/admin/dashboard", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(http.MethodGet, "/api/admin/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["total"])

	rec = admin.do(http.MethodGet, "/api/admin/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["special_dates"])

	rec = admin.do(http.MethodPost, "/api/admin/reminders/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodGet, "/api/admin/backups", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = admin.do(http.MethodGet, "/api/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotZero(t, decodeBody(t, rec)["total"])

	rec = member.do(http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = member.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_WhitelistEnforced(t *testing.T) {
	s := newServer(t, "ip_gate:\n  enabled: true\n")
	h := s.Handler()

	admin := setupAdmin(t, h, "192.0.2.10")

	rec := admin.do(http.MethodPost, "/api/admin/whitelist", map[string]any{
		"address":    "192.0.2.0/24",
		"admin_only": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = admin.do(http.MethodPost, "/api/admin/whitelist", map[string]any{
		"address":     "192.0.2.0/24",
		"description": "office",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = admin.do(http.MethodGet, "/api/admin/whitelist", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	outsider := &client{t: t, h: h, ip: "198.51.100.7"}
	rec = outsider.do(http.MethodGet, "/api/setup", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"access denied"}`, rec.Body.String())

	rec = outsider.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	insider := &client{t: t, h: h, ip: "192.0.2.99"}
	rec = insider.do(http.MethodGet, "/api/setup", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
