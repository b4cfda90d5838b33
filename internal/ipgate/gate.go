package ipgate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"welfare/internal/metrics"
	"welfare/internal/model"
	"welfare/internal/util"
)

const ActionDenied = "ip.denied"

type Source interface {
	ListWhitelist(ctx context.Context) ([]model.IPWhitelistEntry, error)
}

type Auditor interface {
	Append(ctx context.Context, actor, action string, detail any, sourceIP string)
}

// snapshot is immutable once published.
type snapshot struct {
	general []Range
	admin   map[netip.Addr]struct{}
}

func (s *snapshot) empty() bool {
	return s == nil || len(s.general) == 0
}

type Options struct {
	Enabled        bool
	TrustProxy     bool
	ReloadInterval time.Duration
}

type Gate struct {
	src    Source
	audit  Auditor
	opts   Options
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(src Source, audit Auditor, opts Options, logger *slog.Logger) *Gate {
	g := &Gate{src: src, audit: audit, opts: opts, logger: logger}
	g.snap.Store(&snapshot{})
	return g
}

// Reload rebuilds the snapshot from the store. On error the previous
// snapshot stays in force. Malformed entries are skipped.
func (g *Gate) Reload(ctx context.Context) error {
	entries, err := g.src.ListWhitelist(ctx)
	if err != nil {
		g.logger.ErrorContext(ctx, "ip allow-list reload failed", "error", err)
		return err
	}

	next := &snapshot{admin: make(map[netip.Addr]struct{})}
	for _, e := range entries {
		r, err := ParseRange(e.Address)
		if err != nil {
			g.logger.WarnContext(ctx, "skipping malformed allow-list entry", "id", e.ID, "address", e.Address, "error", err)
			continue
		}
		next.general = append(next.general, r)
		if e.AdminOnly {
			if !r.Single() {
				g.logger.WarnContext(ctx, "admin allow-list entries must be single addresses", "id", e.ID, "address", e.Address)
				continue
			}
			addr, _ := netip.ParseAddr(strings.TrimSpace(e.Address))
			next.admin[addr.Unmap()] = struct{}{}
		}
	}
	g.snap.Store(next)
	metrics.IPGateEntries.Set(float64(len(next.general)))
	if len(next.general) > 0 && len(next.admin) == 0 {
		g.logger.WarnContext(ctx, "no admin-only allow-list entries, admin paths accept any general allow-list address",
			"entries", len(next.general))
	}
	g.logger.DebugContext(ctx, "ip allow-list reloaded", "entries", len(next.general), "admin", len(next.admin))
	return nil
}

// Start loads the list once and then reloads it every ReloadInterval.
func (g *Gate) Start(ctx context.Context) {
	_ = g.Reload(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil || g.opts.ReloadInterval <= 0 {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(g.opts.ReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = g.Reload(ctx)
			}
		}
	}()
}

func (g *Gate) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel = nil
	g.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Scopes reported by Decide.
const (
	ScopeBypass  = "bypass"
	ScopeGeneral = "general"
	ScopeAdmin   = "admin"
)

func bypassPath(p string) bool {
	return p == "/healthz" || strings.HasPrefix(p, "/api/auth/")
}

func adminPath(p string) bool {
	return p == "/metrics" || p == "/ws" || p == "/api/admin" || strings.HasPrefix(p, "/api/admin/")
}

// Decide applies the rules in order: bypass paths always pass, then the
// address must be on the allow-list, then admin paths also require the
// exact address on the admin list. scope names the rule that decided.
func (g *Gate) Decide(ip, path string) (allowed bool, scope string) {
	if !g.opts.Enabled || bypassPath(path) {
		return true, ScopeBypass
	}
	snap := g.snap.Load()
	if snap.empty() {
		return true, ScopeBypass
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false, ScopeGeneral
	}
	addr = addr.Unmap()

	listed := false
	for _, r := range snap.general {
		if r.Contains(addr) {
			listed = true
			break
		}
	}
	if !listed {
		return false, ScopeGeneral
	}

	if adminPath(path) && len(snap.admin) > 0 {
		if _, ok := snap.admin[addr]; !ok {
			return false, ScopeAdmin
		}
		return true, ScopeAdmin
	}
	return true, ScopeGeneral
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := util.GetClientIP(r, g.opts.TrustProxy)
		ok, scope := g.Decide(ip, r.URL.Path)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		metrics.IPGateDenied.WithLabelValues(scope).Inc()
		g.logger.WarnContext(r.Context(), "ip gate denied request", "ip", ip, "path", r.URL.Path, "scope", scope)
		g.audit.Append(r.Context(), model.ActorSystem, ActionDenied, map[string]string{
			"path":   r.URL.Path,
			"method": r.Method,
			"scope":  scope,
		}, ip)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "access denied"})
	})
}
