package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Label      string   `json:"label" validate:"notblank,max=10"`
	Email      string   `json:"email" validate:"omitempty,email"`
	Recipients []string `json:"recipients" validate:"dive,recipient"`
	Status     string   `json:"status" validate:"omitempty,member_status"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(sample{Label: "Birthday", Recipients: []string{"member", "all_kin"}}))

	err := Struct(sample{Label: "  ", Email: "nope", Recipients: []string{"pigeon"}, Status: "gone"})
	require.Error(t, err)
	fields := Fields(err)
	assert.Equal(t, "label cannot be blank", fields["label"])
	assert.Contains(t, fields, "email")
	assert.Equal(t, "recipients[0] must be one of member, primary_kin, all_kin", fields["recipients[0]"])
	assert.Equal(t, "status must be one of active, inactive, suspended", fields["status"])
}

func TestFields_NonValidationError(t *testing.T) {
	assert.Nil(t, Fields(errors.New("boom")))
}
