// Package backup dumps the database plus generated reports into an archive,
// ships it to object storage and restores it on request.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"welfare/internal/audit"
	"welfare/internal/mail"
	"welfare/internal/model"
	"welfare/internal/store"
)

var (
	ErrBusy          = errors.New("a backup or restore is already running")
	ErrNotRestorable = errors.New("backup is not restorable")
	ErrDisabled      = errors.New("backups are disabled")
)

type Store interface {
	CreateBackup(ctx context.Context, b *model.Backup) error
	UpdateBackup(ctx context.Context, b *model.Backup) error
	GetBackup(ctx context.Context, id string) (*model.Backup, error)
	ListBackups(ctx context.Context) ([]model.Backup, error)
}

type Renderer interface {
	Render(name string, data map[string]string) (string, error)
}

type Options struct {
	DSN         string
	WorkDir     string
	ReportsDir  string
	PGDump      string
	PGRestore   string
	NotifyEmail string
}

type Manager struct {
	store    Store
	objects  ObjectStore
	runner   Runner
	audit    *audit.Sink
	renderer Renderer
	mailer   mail.Transport
	opts     Options
	logger   *slog.Logger

	mu sync.Mutex
}

func NewManager(st Store, objects ObjectStore, runner Runner, sink *audit.Sink, renderer Renderer, mailer mail.Transport, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		objects:  objects,
		runner:   runner,
		audit:    sink,
		renderer: renderer,
		mailer:   mailer,
		opts:     opts,
		logger:   logger,
	}
}

func (m *Manager) List(ctx context.Context) ([]model.Backup, error) {
	return m.store.ListBackups(ctx)
}

func archiveKey(id string) string {
	return id + ".tar.gz"
}

// Create runs pg_dump, archives the dump with the reports directory and
// uploads the result. The metadata row is written first and always ends in
// completed or failed.
func (m *Manager) Create(ctx context.Context, actor, ip string) (*model.Backup, error) {
	if !m.mu.TryLock() {
		return nil, ErrBusy
	}
	defer m.mu.Unlock()

	b := &model.Backup{ID: uuid.NewString(), Status: model.BackupRunning, CreatedBy: actor}
	if err := m.store.CreateBackup(ctx, b); err != nil {
		return nil, fmt.Errorf("recording backup: %w", err)
	}

	loc, size, runErr := m.produce(ctx, b.ID)
	if runErr != nil {
		b.Status = model.BackupFailed
		b.Error = runErr.Error()
		m.logger.ErrorContext(ctx, "backup failed", "id", b.ID, "error", runErr)
	} else {
		b.Status = model.BackupCompleted
		b.Location = loc
		b.SizeBytes = size
		m.logger.InfoContext(ctx, "backup completed", "id", b.ID, "location", loc, "bytes", size)
	}

	// The row must be finalised even if the request was cancelled.
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.store.UpdateBackup(uctx, b); err != nil {
		return b, fmt.Errorf("updating backup record: %w", err)
	}

	m.audit.Append(ctx, actor, "backup.create", map[string]string{"id": b.ID, "status": b.Status}, ip)
	m.notify(uctx, b)
	if runErr != nil {
		return b, runErr
	}
	return b, nil
}

func (m *Manager) produce(ctx context.Context, id string) (string, int64, error) {
	if err := os.MkdirAll(m.opts.WorkDir, 0o750); err != nil {
		return "", 0, err
	}
	dump := filepath.Join(m.opts.WorkDir, id+".dump")
	archive := filepath.Join(m.opts.WorkDir, archiveKey(id))
	defer os.Remove(dump)

	if err := m.runner.Run(ctx, m.opts.PGDump,
		"--format=custom", "--no-owner", "--file="+dump, "--dbname="+m.opts.DSN); err != nil {
		return "", 0, fmt.Errorf("pg_dump: %w", err)
	}
	if err := writeArchive(archive, dump, m.opts.ReportsDir); err != nil {
		return "", 0, fmt.Errorf("archiving: %w", err)
	}
	info, err := os.Stat(archive)
	if err != nil {
		return "", 0, err
	}
	loc, err := m.objects.Put(ctx, archiveKey(id), archive)
	if err != nil {
		return "", 0, err
	}
	if loc != archive {
		_ = os.Remove(archive)
	}
	return loc, info.Size(), nil
}

// Restore downloads a completed backup and replays it with pg_restore.
func (m *Manager) Restore(ctx context.Context, id, actor, ip string) (*model.Backup, error) {
	if !m.mu.TryLock() {
		return nil, ErrBusy
	}
	defer m.mu.Unlock()

	b, err := m.store.GetBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, store.ErrNotFound
	}
	if b.Status != model.BackupCompleted && b.Status != model.BackupRestored {
		return nil, fmt.Errorf("%w: status %s", ErrNotRestorable, b.Status)
	}

	if err := m.replay(ctx, id); err != nil {
		m.audit.Append(ctx, actor, "backup.restore_failed", map[string]string{"id": id, "error": err.Error()}, ip)
		return b, err
	}

	now := time.Now()
	b.Status = model.BackupRestored
	b.RestoredBy = actor
	b.RestoredAt = &now
	if err := m.store.UpdateBackup(context.WithoutCancel(ctx), b); err != nil {
		return b, fmt.Errorf("updating backup record: %w", err)
	}
	m.audit.Append(ctx, actor, "backup.restore", map[string]string{"id": id}, ip)
	m.logger.InfoContext(ctx, "backup restored", "id", id, "by", actor)
	return b, nil
}

func (m *Manager) replay(ctx context.Context, id string) error {
	if err := os.MkdirAll(m.opts.WorkDir, 0o750); err != nil {
		return err
	}
	archive := filepath.Join(m.opts.WorkDir, "restore-"+archiveKey(id))
	dump := filepath.Join(m.opts.WorkDir, "restore-"+id+".dump")
	defer os.Remove(archive)
	defer os.Remove(dump)

	if err := m.objects.Get(ctx, archiveKey(id), archive); err != nil {
		return fmt.Errorf("fetching archive: %w", err)
	}
	if err := extractDump(archive, dump); err != nil {
		return err
	}
	if err := m.runner.Run(ctx, m.opts.PGRestore,
		"--clean", "--if-exists", "--no-owner", "--dbname="+m.opts.DSN, dump); err != nil {
		return fmt.Errorf("pg_restore: %w", err)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, b *model.Backup) {
	if m.opts.NotifyEmail == "" || m.mailer == nil {
		return
	}
	subject := fmt.Sprintf("Backup %s: %s", b.ID, b.Status)
	html, err := m.renderer.Render("backup_report", map[string]string{
		"subject":   subject,
		"backup_id": b.ID,
		"status":    b.Status,
		"error":     b.Error,
	})
	if err == nil {
		_, err = m.mailer.Send(ctx, mail.Message{
			To:      netmail.Address{Address: m.opts.NotifyEmail},
			Subject: subject,
			HTML:    html,
		})
	}
	if err != nil {
		m.logger.WarnContext(ctx, "backup report email failed", "id", b.ID, "error", err)
	}
}
