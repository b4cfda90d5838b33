package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"welfare/internal/auth"
	"welfare/internal/backup"
	"welfare/internal/model"
	"welfare/internal/reminder"
	"welfare/internal/service"
	"welfare/internal/util"
)

// AdminHandler serves /api/admin. Every route runs behind RequireAdmin.
type AdminHandler struct {
	members    *service.MemberService
	reports    *service.Reports
	bulk       *service.BulkMailer
	whitelist  *service.Whitelist
	scheduler  *reminder.Scheduler
	backups    *backup.Manager // nil when backups are disabled
	trustProxy bool
	logger     *slog.Logger
	now        func() time.Time
}

type AdminDeps struct {
	Members   *service.MemberService
	Reports   *service.Reports
	Bulk      *service.BulkMailer
	Whitelist *service.Whitelist
	Scheduler *reminder.Scheduler
	Backups   *backup.Manager
}

func NewAdminHandler(d AdminDeps, trustProxy bool, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		members:    d.Members,
		reports:    d.Reports,
		bulk:       d.Bulk,
		whitelist:  d.Whitelist,
		scheduler:  d.Scheduler,
		backups:    d.Backups,
		trustProxy: trustProxy,
		logger:     logger,
		now:        time.Now,
	}
}

func (h *AdminHandler) ip(r *http.Request) string {
	return util.GetClientIP(r, h.trustProxy)
}

func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.Dashboard(r.Context(), h.now())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardView(stats))
}

// Members

func (h *AdminHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.MemberFilter{
		Search: q.Get("search"),
		Status: q.Get("status"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	ms, total, err := h.members.List(r.Context(), f)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page[memberView]{Items: viewMembers(ms), Total: total, Limit: f.Limit, Offset: f.Offset})
}

func (h *AdminHandler) GetMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	m, err := h.members.Get(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewMember(m))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.members.SetStatus(r.Context(), auth.MemberFrom(r.Context()), id, req.Status, h.ip(r)); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adminFlagRequest struct {
	Admin bool `json:"admin"`
}

func (h *AdminHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var req adminFlagRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.members.SetAdmin(r.Context(), auth.MemberFrom(r.Context()), id, req.Admin, h.ip(r)); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reminders

func (h *AdminHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.Upcoming(r.Context(), h.now(), queryInt(r, "days", 30))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

func (h *AdminHandler) ReminderLogs(w http.ResponseWriter, r *http.Request) {
	f := model.ReminderLogFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("member_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad member_id")
			return
		}
		f.MemberID = id
	}
	logs, total, err := h.reports.ReminderLogs(r.Context(), f)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page[reminderLogView]{Items: viewReminderLogs(logs), Total: total, Limit: f.Limit, Offset: f.Offset})
}

// RunReminders triggers a batch immediately. A batch already in progress
// answers 409.
func (h *AdminHandler) RunReminders(w http.ResponseWriter, r *http.Request) {
	sum, err := h.scheduler.RunOnce(r.Context(), h.now())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *AdminHandler) RetryReminder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	a, err := h.scheduler.Retry(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAttempt(a))
}

func (h *AdminHandler) BulkEmail(w http.ResponseWriter, r *http.Request) {
	var req service.BulkRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	sum, err := h.bulk.Send(r.Context(), auth.MemberFrom(r.Context()), req, h.ip(r))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Backups

func (h *AdminHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		fail(w, r, h.logger, backup.ErrDisabled)
		return
	}
	bs, err := h.backups.List(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewBackups(bs)})
}

func (h *AdminHandler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		fail(w, r, h.logger, backup.ErrDisabled)
		return
	}
	b, err := h.backups.Create(r.Context(), auth.MemberFrom(r.Context()).MembershipNumber, h.ip(r))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewBackup(b))
}

func (h *AdminHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		fail(w, r, h.logger, backup.ErrDisabled)
		return
	}
	b, err := h.backups.Restore(r.Context(), r.PathValue("id"), auth.MemberFrom(r.Context()).MembershipNumber, h.ip(r))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewBackup(b))
}

// IP allow-list

func (h *AdminHandler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	es, err := h.whitelist.List(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewWhitelist(es)})
}

func (h *AdminHandler) AddWhitelist(w http.ResponseWriter, r *http.Request) {
	var in service.WhitelistInput
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	e, err := h.whitelist.Add(r.Context(), auth.MemberFrom(r.Context()), in, h.ip(r))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewWhitelistEntry(e))
}

func (h *AdminHandler) RemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.whitelist.Remove(r.Context(), auth.MemberFrom(r.Context()), id, h.ip(r)); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	es, total, err := h.reports.AuditLog(r.Context(), limit, offset)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page[auditView]{Items: viewAudit(es), Total: total, Limit: limit, Offset: offset})
}
