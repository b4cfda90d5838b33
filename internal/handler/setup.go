package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"welfare/internal/auth"
	"welfare/internal/service"
	"welfare/internal/util"
)

type SetupHandler struct {
	members    *service.MemberService
	sessionMgr *auth.SessionManager
	trustProxy bool
	logger     *slog.Logger
}

func NewSetupHandler(members *service.MemberService, sm *auth.SessionManager, trustProxy bool, logger *slog.Logger) *SetupHandler {
	return &SetupHandler{members: members, sessionMgr: sm, trustProxy: trustProxy, logger: logger}
}

func (h *SetupHandler) Status(w http.ResponseWriter, r *http.Request) {
	required, err := h.members.SetupRequired(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"setup_required": required})
}

func (h *SetupHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	m, err := h.members.CreateFirstAdmin(r.Context(), in, util.GetClientIP(r, h.trustProxy))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	csrf, err := h.sessionMgr.CreateSession(r.Context(), w, m.ID)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Member: viewMember(m), CSRFToken: csrf})
}

// RequireSetupComplete answers 503 on API routes until an admin exists.
// The setup endpoints and the health check stay reachable.
func RequireSetupComplete(members *service.MemberService, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if strings.HasPrefix(p, "/api/") && p != "/api/setup" {
			required, err := members.SetupRequired(r.Context())
			if err == nil && required {
				writeError(w, http.StatusServiceUnavailable, "setup required")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
