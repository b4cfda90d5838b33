package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"welfare/internal/audit"
	"welfare/internal/auth"
	"welfare/internal/backup"
	"welfare/internal/config"
	"welfare/internal/database"
	"welfare/internal/handler"
	"welfare/internal/ipgate"
	"welfare/internal/mail"
	"welfare/internal/metrics"
	"welfare/internal/notify"
	"welfare/internal/reminder"
	"welfare/internal/service"
	"welfare/internal/store"
	"welfare/internal/store/memstore"
	"welfare/web"
)

// Server owns every long-lived component. Build one with New, then Run it.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	redis   *redis.Client
	hub     *notify.Hub
	gate    *ipgate.Gate
	sched   *reminder.Scheduler
	members *service.MemberService
	handler http.Handler

	closeOnce sync.Once
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory store; data is lost on exit")
		return memstore.New(), nil
	}
	db, err := database.Open(cfg.Database.DSN, web.MigrationsFS(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func newTransport(cfg *config.Config, logger *slog.Logger) mail.Transport {
	if cfg.Mail.Provider == "sendgrid" {
		return mail.NewSendGridTransport(cfg.Mail.APIKey, cfg.Mail.FromName, cfg.Mail.FromAddress, cfg.Mail.SubjectPrefix)
	}
	return mail.NewConsoleTransport(logger, cfg.Mail.SubjectPrefix)
}

// New wires the application. The caller must Run or Close the result.
func New(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, logger: logger, store: st}
	if err := s.build(ctx, version); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context, version string) error {
	cfg, logger, st := s.cfg, s.logger, s.store
	loc := cfg.Location()

	sink := audit.NewSink(st, logger)
	s.hub = notify.NewHub(logger)

	renderer, err := mail.NewRenderer(web.EmailTemplateFS(), map[string]string{
		"association": cfg.Mail.Association,
		"base_url":    cfg.Server.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to parse email templates: %w", err)
	}
	transport := newTransport(cfg, logger)

	sessionMgr, err := auth.NewSessionManager(ctx, st, cfg.Server.SessionMaxAge, strings.HasPrefix(cfg.Server.BaseURL, "https://"), logger)
	if err != nil {
		return fmt.Errorf("failed to init session manager: %w", err)
	}
	if err := st.PurgeExpiredSessions(ctx); err != nil {
		logger.Warn("purging expired sessions failed", "error", err)
	}
	challenger := auth.NewChallenger(sessionMgr.Secret(), cfg.TwoFactor.ChallengeTTL)

	// A nil interface, not a nil *LDAPClient, disables directory logins.
	var directory auth.Directory
	if cfg.LDAP.Enabled {
		directory = auth.NewLDAPClient(cfg.LDAP)
		logger.Info("LDAP authentication enabled", "url", cfg.LDAP.URL, "group_mappings", len(cfg.LDAP.GroupMapping))
		if cfg.LDAPCleartext() {
			logger.Warn("LDAP binds are sent in cleartext; use ldaps:// or enable starttls")
		}
	}

	s.members = service.NewMemberService(st, sink, auth.NewTOTP(cfg.TwoFactor.Issuer), directory, logger)
	if created, err := s.members.EnsureAdmin(ctx, cfg.Admin); err != nil {
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	} else if created {
		logger.Info("bootstrap admin created", "membership_number", cfg.Admin.MembershipNumber)
	}

	// Reminders
	var locker reminder.Locker = reminder.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker = reminder.NewRedisLocker(s.redis, cfg.Reminders.LockKey, cfg.Reminders.LockTTL)
		logger.Info("reminder batches coordinated through redis", "addr", cfg.Redis.Addr)
	}
	dispatcher := reminder.NewDispatcher(st, renderer, transport, sink, s.hub, cfg.Reminders.SendDelay, logger)
	s.sched = reminder.NewScheduler(
		reminder.NewEvaluator(st, cfg.Reminders.Lookahead, loc, logger),
		reminder.NewResolver(logger),
		dispatcher,
		st,
		sink,
		locker,
		cfg.Reminders.Interval,
		logger,
	)

	s.gate = ipgate.New(st, sink, ipgate.Options{
		Enabled:        cfg.IPGate.Enabled,
		TrustProxy:     cfg.Server.TrustProxy,
		ReloadInterval: cfg.IPGate.ReloadInterval,
	}, logger)

	var backups *backup.Manager
	if cfg.Backup.Enabled {
		backups, err = newBackupManager(ctx, cfg, st, sink, renderer, transport, logger)
		if err != nil {
			return err
		}
	}

	trust := cfg.Server.TrustProxy
	setupH := handler.NewSetupHandler(s.members, sessionMgr, trust, logger)
	authH := handler.NewAuthHandler(s.members, sessionMgr, challenger, trust, logger)
	meH := handler.NewMemberHandler(s.members, trust, logger)
	adminH := handler.NewAdminHandler(handler.AdminDeps{
		Members:   s.members,
		Reports:   service.NewReports(st, loc),
		Bulk:      service.NewBulkMailer(st, renderer, transport, sink, cfg.Reminders.SendDelay, logger),
		Whitelist: service.NewWhitelist(st, sink, s.gate),
		Scheduler: s.sched,
		Backups:   backups,
	}, trust, logger)

	s.handler = routes(sessionMgr, s.hub, s.gate, s.members, setupH, authH, meH, adminH, version)
	return nil
}

func newBackupManager(ctx context.Context, cfg *config.Config, st store.Store, sink *audit.Sink, renderer backup.Renderer, transport mail.Transport, logger *slog.Logger) (*backup.Manager, error) {
	var objects backup.ObjectStore
	if cfg.Backup.S3.Bucket != "" {
		s3, err := backup.NewS3Store(ctx, cfg.Backup.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to init S3 backup store: %w", err)
		}
		objects = s3
		logger.Info("backups stored in S3", "bucket", cfg.Backup.S3.Bucket)
	} else {
		objects = backup.NewDirStore(filepath.Join(cfg.Backup.WorkDir, "archives"))
	}
	return backup.NewManager(st, objects, backup.ExecRunner{}, sink, renderer, transport, backup.Options{
		DSN:         cfg.Database.DSN,
		WorkDir:     cfg.Backup.WorkDir,
		ReportsDir:  cfg.Backup.ReportsDir,
		PGDump:      cfg.Backup.PGDump,
		PGRestore:   cfg.Backup.PGRestore,
		NotifyEmail: cfg.Backup.NotifyEmail,
	}, logger), nil
}

func routes(sm *auth.SessionManager, hub *notify.Hub, gate *ipgate.Gate, members *service.MemberService,
	setupH *handler.SetupHandler, authH *handler.AuthHandler, meH *handler.MemberHandler, adminH *handler.AdminHandler, version string) http.Handler {

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, version)
	})

	mux.HandleFunc("GET /api/setup", setupH.Status)
	mux.HandleFunc("POST /api/setup", setupH.Submit)

	mux.HandleFunc("POST /api/auth/register", authH.Register)
	mux.HandleFunc("POST /api/auth/login", authH.Login)
	mux.HandleFunc("POST /api/auth/2fa/verify", authH.VerifyTwoFactor)
	mux.Handle("POST /api/auth/logout", sm.RequireAuth(sm.ValidateCSRF(http.HandlerFunc(authH.Logout))))

	member := func(h http.HandlerFunc) http.Handler {
		return sm.RequireAuth(sm.ValidateCSRF(h))
	}
	mux.Handle("GET /api/me", member(meH.Profile))
	mux.Handle("PUT /api/me", member(meH.UpdateProfile))
	mux.Handle("PUT /api/me/password", member(meH.ChangePassword))
	mux.Handle("POST /api/me/2fa/setup", member(meH.TwoFactorSetup))
	mux.Handle("POST /api/me/2fa/enable", member(meH.TwoFactorEnable))
	mux.Handle("POST /api/me/2fa/disable", member(meH.TwoFactorDisable))
	mux.Handle("GET /api/me/dates", member(meH.ListDates))
	mux.Handle("POST /api/me/dates", member(meH.CreateDate))
	mux.Handle("PUT /api/me/dates/{id}", member(meH.UpdateDate))
	mux.Handle("DELETE /api/me/dates/{id}", member(meH.DeleteDate))
	mux.Handle("GET /api/me/kin", member(meH.ListKin))
	mux.Handle("POST /api/me/kin", member(meH.CreateKin))
	mux.Handle("PUT /api/me/kin/{id}", member(meH.UpdateKin))
	mux.Handle("DELETE /api/me/kin/{id}", member(meH.DeleteKin))
	mux.Handle("POST /api/me/kin/{id}/primary", member(meH.SetPrimaryKin))

	admin := func(h http.HandlerFunc) http.Handler {
		return sm.RequireAdmin(sm.ValidateCSRF(h))
	}
	mux.Handle("GET /api/admin/dashboard", admin(adminH.Dashboard))
	mux.Handle("GET /api/admin/members", admin(adminH.ListMembers))
	mux.Handle("GET /api/admin/members/{id}", admin(adminH.GetMember))
	mux.Handle("PUT /api/admin/members/{id}/status", admin(adminH.SetStatus))
	mux.Handle("PUT /api/admin/members/{id}/admin", admin(adminH.SetAdmin))
	mux.Handle("GET /api/admin/reminders/upcoming", admin(adminH.Upcoming))
	mux.Handle("GET /api/admin/reminders/logs", admin(adminH.ReminderLogs))
	mux.Handle("POST /api/admin/reminders/run", admin(adminH.RunReminders))
	mux.Handle("POST /api/admin/reminders/logs/{id}/retry", admin(adminH.RetryReminder))
	mux.Handle("POST /api/admin/email", admin(adminH.BulkEmail))
	mux.Handle("GET /api/admin/backups", admin(adminH.ListBackups))
	mux.Handle("POST /api/admin/backups", admin(adminH.CreateBackup))
	mux.Handle("POST /api/admin/backups/{id}/restore", admin(adminH.RestoreBackup))
	mux.Handle("GET /api/admin/whitelist", admin(adminH.ListWhitelist))
	mux.Handle("POST /api/admin/whitelist", admin(adminH.AddWhitelist))
	mux.Handle("DELETE /api/admin/whitelist/{id}", admin(adminH.RemoveWhitelist))
	mux.Handle("GET /api/admin/audit", admin(adminH.AuditLog))

	mux.Handle("GET /metrics", sm.RequireAdmin(metrics.Handler()))
	mux.Handle("GET /ws", sm.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, auth.MemberFrom(r.Context()).MembershipNumber)
	})))

	return gate.Middleware(handler.RequireSetupComplete(members, mux))
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run starts background workers and serves HTTP until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	s.gate.Start(ctx)
	if s.cfg.Reminders.Enabled {
		s.sched.Start(ctx)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close stops background workers and releases connections. It is safe to
// call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(s.close)
}

func (s *Server) close() {
	if s.sched != nil {
		s.sched.Stop()
	}
	if s.gate != nil {
		s.gate.Stop()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// Start builds and runs a server. It returns when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) error {
	s, err := New(ctx, cfg, version, logger)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
