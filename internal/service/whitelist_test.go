package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/audit"
	"welfare/internal/logging"
	"welfare/internal/model"
	"welfare/internal/store"
	"welfare/internal/store/memstore"
)

type countingReloader struct{ n int }

func (c *countingReloader) Reload(context.Context) error {
	c.n++
	return nil
}

func TestWhitelist_AddRemove(t *testing.T) {
	st := memstore.New()
	gate := &countingReloader{}
	wl := NewWhitelist(st, audit.NewSink(st, logging.Discard()), gate)
	ctx := context.Background()
	actor := &model.Member{ID: 1, MembershipNumber: "A001"}

	e, err := wl.Add(ctx, actor, WhitelistInput{Address: " 10.0.0.0/8 ", Description: "office"}, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/8", e.Address)
	assert.Equal(t, "A001", e.CreatedBy)
	assert.Equal(t, 1, gate.n)

	_, err = wl.Add(ctx, actor, WhitelistInput{Address: "10.0.0.0/8"}, "")
	assert.ErrorIs(t, err, store.ErrConflict)

	admin, err := wl.Add(ctx, actor, WhitelistInput{Address: "10.1.2.3", AdminOnly: true}, "")
	require.NoError(t, err)
	assert.True(t, admin.AdminOnly)

	entries, err := wl.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, wl.Remove(ctx, actor, e.ID, ""))
	assert.ErrorIs(t, wl.Remove(ctx, actor, e.ID, ""), store.ErrNotFound)
	assert.Equal(t, 3, gate.n)
}

func TestWhitelist_Rejects(t *testing.T) {
	st := memstore.New()
	wl := NewWhitelist(st, audit.NewSink(st, logging.Discard()), nil)
	actor := &model.Member{ID: 1, MembershipNumber: "A001"}

	_, err := wl.Add(context.Background(), actor, WhitelistInput{Address: "10.0.0.0/24", AdminOnly: true}, "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = wl.Add(context.Background(), actor, WhitelistInput{Address: "not-an-ip"}, "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = wl.Add(context.Background(), actor, WhitelistInput{Address: "   "}, "")
	assert.Error(t, err)
}
