package ipgate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/audit"
	"welfare/internal/logging"
	"welfare/internal/model"
	"welfare/internal/store/memstore"
)

func newGate(t *testing.T, entries ...model.IPWhitelistEntry) (*Gate, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	for i := range entries {
		require.NoError(t, st.AddWhitelistEntry(context.Background(), &entries[i]))
	}
	logger := logging.Discard()
	g := New(st, audit.NewSink(st, logger), Options{Enabled: true}, logger)
	require.NoError(t, g.Reload(context.Background()))
	return g, st
}

func TestGate_Decide(t *testing.T) {
	g, _ := newGate(t,
		model.IPWhitelistEntry{Address: "192.168.1.0/24"},
		model.IPWhitelistEntry{Address: "192.168.1.10", AdminOnly: true},
	)

	tests := []struct {
		ip, path  string
		allowed   bool
		wantScope string
	}{
		{"203.0.113.1", "/healthz", true, ScopeBypass},
		{"203.0.113.1", "/api/auth/login", true, ScopeBypass},
		{"203.0.113.1", "/api/me", false, ScopeGeneral},
		{"192.168.1.5", "/api/me", true, ScopeGeneral},
		{"192.168.2.5", "/api/me", false, ScopeGeneral},
		{"192.168.1.5", "/api/admin/members", false, ScopeAdmin},
		{"192.168.1.10", "/api/admin/members", true, ScopeAdmin},
		{"192.168.1.5", "/metrics", false, ScopeAdmin},
		{"192.168.1.5", "/ws", false, ScopeAdmin},
		{"garbage", "/api/me", false, ScopeGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.ip+tt.path, func(t *testing.T) {
			ok, scope := g.Decide(tt.ip, tt.path)
			assert.Equal(t, tt.allowed, ok)
			assert.Equal(t, tt.wantScope, scope)
		})
	}
}

func TestGate_EmptyListAndDisabledPass(t *testing.T) {
	g, _ := newGate(t)
	ok, _ := g.Decide("203.0.113.1", "/api/admin/members")
	assert.True(t, ok)

	st := memstore.New()
	require.NoError(t, st.AddWhitelistEntry(context.Background(), &model.IPWhitelistEntry{Address: "10.0.0.1"}))
	off := New(st, audit.NewSink(st, logging.Discard()), Options{Enabled: false}, logging.Discard())
	require.NoError(t, off.Reload(context.Background()))
	ok, _ = off.Decide("203.0.113.1", "/api/me")
	assert.True(t, ok)
}

func TestGate_ReloadPicksUpChanges(t *testing.T) {
	g, st := newGate(t, model.IPWhitelistEntry{Address: "10.0.0.0/8"})
	ctx := context.Background()

	ok, _ := g.Decide("172.16.0.1", "/api/me")
	assert.False(t, ok)

	require.NoError(t, st.AddWhitelistEntry(ctx, &model.IPWhitelistEntry{Address: "172.16.0.0/12"}))
	require.NoError(t, g.Reload(ctx))
	ok, _ = g.Decide("172.16.0.1", "/api/me")
	assert.True(t, ok)
}

func TestGate_ReloadWarnsWhenAdminListEmpty(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.AddWhitelistEntry(ctx, &model.IPWhitelistEntry{Address: "10.0.0.0/8"}))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	g := New(st, audit.NewSink(st, logging.Discard()), Options{Enabled: true}, logger)
	require.NoError(t, g.Reload(ctx))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "admin paths accept any general allow-list address")

	ok, scope := g.Decide("10.1.1.1", "/api/admin/members")
	assert.True(t, ok)
	assert.Equal(t, ScopeGeneral, scope)

	buf.Reset()
	require.NoError(t, st.AddWhitelistEntry(ctx, &model.IPWhitelistEntry{Address: "10.1.1.1", AdminOnly: true}))
	require.NoError(t, g.Reload(ctx))
	assert.NotContains(t, buf.String(), "admin paths accept")
}

type flakySource struct{}

func (flakySource) ListWhitelist(context.Context) ([]model.IPWhitelistEntry, error) {
	return nil, errors.New("db down")
}

func TestGate_FailedReloadKeepsSnapshot(t *testing.T) {
	g, _ := newGate(t, model.IPWhitelistEntry{Address: "10.0.0.0/8"})
	g.src = flakySource{}

	require.Error(t, g.Reload(context.Background()))
	ok, _ := g.Decide("203.0.113.1", "/api/me")
	assert.False(t, ok)
	ok, _ = g.Decide("10.2.3.4", "/api/me")
	assert.True(t, ok)
}

func TestGate_MiddlewareDeniesAndAudits(t *testing.T) {
	g, st := newGate(t, model.IPWhitelistEntry{Address: "10.0.0.0/8"})
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"access denied"}`, rec.Body.String())

	entries, _, err := st.ListAuditLog(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionDenied, entries[0].Action)
	assert.Equal(t, "203.0.113.7", entries[0].IPAddress)

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.RemoteAddr = "10.9.9.9:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGate_StartStop(t *testing.T) {
	st := memstore.New()
	g := New(st, audit.NewSink(st, logging.Discard()), Options{Enabled: true, ReloadInterval: 10 * time.Millisecond}, logging.Discard())
	g.Start(context.Background())

	require.NoError(t, st.AddWhitelistEntry(context.Background(), &model.IPWhitelistEntry{Address: "10.0.0.1"}))
	assert.Eventually(t, func() bool {
		ok, _ := g.Decide("10.0.0.2", "/api/me")
		return !ok
	}, time.Second, 10*time.Millisecond)

	g.Stop()
	g.Stop()
}
