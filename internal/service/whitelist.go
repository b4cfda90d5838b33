package service

import (
	"context"
	"fmt"
	"strings"

	"welfare/internal/audit"
	"welfare/internal/ipgate"
	"welfare/internal/model"
	"welfare/internal/store"
	"welfare/internal/validate"
)

// Reloader is satisfied by *ipgate.Gate.
type Reloader interface {
	Reload(ctx context.Context) error
}

type WhitelistInput struct {
	Address     string `json:"address" validate:"notblank,max=64"`
	Description string `json:"description" validate:"max=200"`
	AdminOnly   bool   `json:"admin_only"`
}

type Whitelist struct {
	store store.Store
	audit *audit.Sink
	gate  Reloader
}

func NewWhitelist(st store.Store, sink *audit.Sink, gate Reloader) *Whitelist {
	return &Whitelist{store: st, audit: sink, gate: gate}
}

func (w *Whitelist) List(ctx context.Context) ([]model.IPWhitelistEntry, error) {
	return w.store.ListWhitelist(ctx)
}

// Add stores a new entry and republishes the gate snapshot. Admin-only
// entries must name a single address.
func (w *Whitelist) Add(ctx context.Context, actor *model.Member, in WhitelistInput, ip string) (*model.IPWhitelistEntry, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	rng, err := ipgate.ParseRange(strings.TrimSpace(in.Address))
	if err != nil {
		return nil, fmt.Errorf("%w: address: %w", ErrInvalid, err)
	}
	if in.AdminOnly && !rng.Single() {
		return nil, fmt.Errorf("%w: admin-only entries must be a single address", ErrInvalid)
	}
	e := &model.IPWhitelistEntry{
		Address:     rng.String(),
		Description: strings.TrimSpace(in.Description),
		AdminOnly:   in.AdminOnly,
		CreatedBy:   actor.MembershipNumber,
	}
	if err := w.store.AddWhitelistEntry(ctx, e); err != nil {
		return nil, err
	}
	w.audit.Append(ctx, actor.MembershipNumber, "ip.whitelist.add", map[string]any{"address": e.Address, "admin_only": e.AdminOnly}, ip)
	w.reload(ctx)
	return e, nil
}

func (w *Whitelist) Remove(ctx context.Context, actor *model.Member, id int64, ip string) error {
	if err := w.store.RemoveWhitelistEntry(ctx, id); err != nil {
		return err
	}
	w.audit.Append(ctx, actor.MembershipNumber, "ip.whitelist.remove", map[string]any{"id": id}, ip)
	w.reload(ctx)
	return nil
}

// The periodic reload retries on failure, so an error here only delays
// the change.
func (w *Whitelist) reload(ctx context.Context) {
	if w.gate != nil {
		_ = w.gate.Reload(ctx)
	}
}
