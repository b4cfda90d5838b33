package ipgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	assert.Equal(t, uint32(0), Mask(0))
	assert.Equal(t, uint32(0x80000000), Mask(1))
	assert.Equal(t, uint32(0xFFFFFF00), Mask(24))
	assert.Equal(t, uint32(0xFFFFFFFE), Mask(31))
	assert.Equal(t, uint32(0xFFFFFFFF), Mask(32))
	assert.Equal(t, uint32(0), Mask(-4))
	assert.Equal(t, uint32(0xFFFFFFFF), Mask(40))
}

func TestRangeContains(t *testing.T) {
	tests := []struct {
		rng  string
		ip   string
		want bool
	}{
		{"192.168.1.0/24", "192.168.1.5", true},
		{"192.168.2.0/24", "192.168.1.5", false},
		{"192.168.1.0/24", "192.168.1.255", true},
		{"192.168.1.0/24", "192.168.0.255", false},
		{"0.0.0.0/0", "8.8.8.8", true},
		{"0.0.0.0/0", "255.255.255.255", true},
		{"10.1.2.3/32", "10.1.2.3", true},
		{"10.1.2.3/32", "10.1.2.4", false},
		{"10.1.2.3", "10.1.2.3", true},
		{"10.1.2.3", "10.1.2.30", false},
		{"10.1.2.77/8", "10.200.0.1", true},
		{"128.0.0.0/1", "200.1.1.1", true},
		{"128.0.0.0/1", "127.255.255.255", false},
		{"192.168.1.0/24", "::ffff:192.168.1.9", true},
		{"192.168.1.0/24", "2001:db8::1", false},
		{"2001:db8::/32", "2001:db8:1::5", true},
		{"2001:db8::/32", "2001:db9::5", false},
		{"2001:db8::1", "2001:db8::1", true},
		{"2001:db8::/32", "192.168.1.5", false},
		{"192.168.1.0/24", "not-an-ip", false},
	}
	for _, tt := range tests {
		t.Run(tt.rng+"_"+tt.ip, func(t *testing.T) {
			r, err := ParseRange(tt.rng)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.ContainsString(tt.ip))
		})
	}
}

func TestParseRange_Invalid(t *testing.T) {
	for _, s := range []string{"", "10.0.0.0/33", "300.1.1.1", "10.0.0.0/", "host.example"} {
		_, err := ParseRange(s)
		assert.Error(t, err, s)
	}
}

func TestRangeSingle(t *testing.T) {
	r, err := ParseRange("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, r.Single())

	r, err = ParseRange("10.0.0.1/32")
	require.NoError(t, err)
	assert.False(t, r.Single())
}
