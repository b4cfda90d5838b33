package reminder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/logging"
	"welfare/internal/model"
)

func TestResolver_PrimaryKinWithoutKinIsEmpty(t *testing.T) {
	r := NewResolver(logging.Discard())
	m := model.Member{ID: 1, FirstName: "Sipho", Email: "sipho@example.org"}

	res := r.Resolve(context.Background(), m, nil, []string{model.RecipientPrimaryKin})
	assert.Empty(t, res.Recipients)
	require.Len(t, res.Gaps, 1)
	assert.Equal(t, model.RecipientPrimaryKin, res.Gaps[0].Kind)
}

func TestResolver_ExpandsAndDedupes(t *testing.T) {
	r := NewResolver(logging.Discard())
	m := model.Member{ID: 1, FirstName: "Sipho", LastName: "Dlamini", Email: "sipho@example.org"}
	kin := []model.NextOfKin{
		{ID: 1, Name: "Lindiwe", Email: "Lindiwe@example.org", IsPrimary: true},
		{ID: 2, Name: "Bongani", Email: "bongani@example.org"},
		{ID: 3, Name: "No Email"},
		{ID: 4, Name: "Self", Email: "SIPHO@example.org"},
	}

	res := r.Resolve(context.Background(), m, kin,
		[]string{model.RecipientMember, model.RecipientPrimaryKin, model.RecipientAllKin})

	require.Len(t, res.Recipients, 3)
	assert.Equal(t, Recipient{Kind: model.RecipientMember, Name: "Sipho Dlamini", Address: "sipho@example.org"}, res.Recipients[0])
	assert.Equal(t, Recipient{Kind: model.RecipientPrimaryKin, Name: "Lindiwe", Address: "Lindiwe@example.org"}, res.Recipients[1])
	assert.Equal(t, "bongani@example.org", res.Recipients[2].Address)
	assert.Empty(t, res.Gaps)
}

func TestResolver_Gaps(t *testing.T) {
	r := NewResolver(logging.Discard())
	m := model.Member{ID: 1}
	kin := []model.NextOfKin{{ID: 1, Name: "Lindiwe", IsPrimary: true}}

	res := r.Resolve(context.Background(), m, kin,
		[]string{model.RecipientMember, model.RecipientPrimaryKin, model.RecipientAllKin, "pigeon"})
	assert.Empty(t, res.Recipients)
	assert.Len(t, res.Gaps, 4)
}
