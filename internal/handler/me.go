package handler

import (
	"log/slog"
	"net/http"

	"welfare/internal/auth"
	"welfare/internal/service"
	"welfare/internal/util"
)

// MemberHandler serves the self-service /api/me routes. Every route runs
// behind RequireAuth.
type MemberHandler struct {
	members    *service.MemberService
	trustProxy bool
	logger     *slog.Logger
}

func NewMemberHandler(members *service.MemberService, trustProxy bool, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{members: members, trustProxy: trustProxy, logger: logger}
}

func (h *MemberHandler) ip(r *http.Request) string {
	return util.GetClientIP(r, h.trustProxy)
}

func (h *MemberHandler) Profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewMember(auth.MemberFrom(r.Context())))
}

func (h *MemberHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in service.ProfileInput
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	m, err := h.members.UpdateProfile(r.Context(), auth.MemberFrom(r.Context()), in, h.ip(r))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewMember(m))
}

func (h *MemberHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var in service.PasswordInput
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.members.ChangePassword(r.Context(), auth.MemberFrom(r.Context()), in, h.ip(r)); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *MemberHandler) TwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := h.members.SetupTwoFactor(r.Context(), auth.MemberFrom(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (h *MemberHandler) TwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	var in codeRequest
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.members.EnableTwoFactor(r.Context(), auth.MemberFrom(r.Context()), in.Code, h.ip(r)); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MemberHandler) TwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var in codeRequest
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.members.DisableTwoFactor(r.Context(), auth.MemberFrom(r.Context()), in.Code, h.ip(r)); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Special dates

func (h *MemberHandler) ListDates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.members.ListDates(r.Context(), auth.MemberFrom(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDates(dates))
}

func (h *MemberHandler) CreateDate(w http.ResponseWriter, r *http.Request) {
	var in service.SpecialDateInput
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	d, err := h.members.CreateDate(r.Context(), auth.MemberFrom(r.Context()), in, h.ip(r))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewDate(d))
}

func (h *MemberHandler) UpdateDate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var in service.SpecialDateInput
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	d, err := h.members.UpdateDate(r.Context(), auth.MemberFrom(r.Context()), id, in, h.ip(r))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewDate(d))
}

func (h *MemberHandler) DeleteDate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.members.DeleteDate(r.Context(), auth.MemberFrom(r.Context()), id, h.ip(r)); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Next of kin

func (h *MemberHandler) ListKin(w http.ResponseWriter, r *http.Request) {
	kin, err := h.members.ListKin(r.Context(), auth.MemberFrom(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewKins(kin))
}

func (h *MemberHandler) CreateKin(w http.ResponseWriter, r *http.Request) {
	var in service.NextOfKinInput
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	k, err := h.members.CreateKin(r.Context(), auth.MemberFrom(r.Context()), in, h.ip(r))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewKin(k))
}

func (h *MemberHandler) UpdateKin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	var in service.NextOfKinInput
	if err := decode(w, r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	k, err := h.members.UpdateKin(r.Context(), auth.MemberFrom(r.Context()), id, in, h.ip(r))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewKin(k))
}

func (h *MemberHandler) DeleteKin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.members.DeleteKin(r.Context(), auth.MemberFrom(r.Context()), id, h.ip(r)); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MemberHandler) SetPrimaryKin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.members.SetPrimaryKin(r.Context(), auth.MemberFrom(r.Context()), id, h.ip(r)); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
