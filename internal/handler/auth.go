package handler

import (
	"log/slog"
	"net/http"

	"welfare/internal/auth"
	"welfare/internal/model"
	"welfare/internal/service"
	"welfare/internal/util"
)

type AuthHandler struct {
	members    *service.MemberService
	sessionMgr *auth.SessionManager
	challenger *auth.Challenger
	trustProxy bool
	logger     *slog.Logger
}

func NewAuthHandler(members *service.MemberService, sm *auth.SessionManager, ch *auth.Challenger, trustProxy bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{members: members, sessionMgr: sm, challenger: ch, trustProxy: trustProxy, logger: logger}
}

type sessionResponse struct {
	Member    memberView `json:"member"`
	CSRFToken string     `json:"csrf_token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	m, err := h.members.Register(r.Context(), in, util.GetClientIP(r, h.trustProxy))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.startSession(w, r, m, http.StatusCreated)
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	res, err := h.members.Login(r.Context(), in.Identifier, in.Password, util.GetClientIP(r, h.trustProxy))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if res.NeedsTOTP {
		token, err := h.challenger.Issue(res.Member.ID)
		if err != nil {
			fail(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"two_factor_required": true, "challenge": token})
		return
	}
	h.startSession(w, r, res.Member, http.StatusOK)
}

type verifyRequest struct {
	Challenge string `json:"challenge"`
	Code      string `json:"code"`
}

func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var in verifyRequest
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	id, err := h.challenger.Verify(in.Challenge)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	m, err := h.members.CompleteTOTPLogin(r.Context(), id, in.Code, util.GetClientIP(r, h.trustProxy))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.startSession(w, r, m, http.StatusOK)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if m, _, ok := h.sessionMgr.Lookup(r); ok {
		h.members.Logout(r.Context(), m, util.GetClientIP(r, h.trustProxy))
	}
	h.sessionMgr.DestroySession(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, m *model.Member, status int) {
	csrf, err := h.sessionMgr.CreateSession(r.Context(), w, m.ID)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, status, sessionResponse{Member: viewMember(m), CSRFToken: csrf})
}
