// Package ipgate restricts which client addresses may reach the service.
package ipgate

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// Range is a single address or a CIDR block.
type Range struct {
	raw string

	// IPv4 ranges are matched with integer masks.
	v4      bool
	network uint32
	mask    uint32

	// IPv6 ranges use netip directly.
	prefix netip.Prefix
	single bool
}

// ParseRange accepts "a.b.c.d", "a.b.c.d/n", an IPv6 address or an IPv6
// prefix.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, fmt.Errorf("empty address")
	}

	var p netip.Prefix
	single := false
	if strings.Contains(s, "/") {
		var err error
		p, err = netip.ParsePrefix(s)
		if err != nil {
			return Range{}, fmt.Errorf("invalid CIDR %q: %w", s, err)
		}
	} else {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return Range{}, fmt.Errorf("invalid address %q: %w", s, err)
		}
		addr = addr.Unmap()
		p = netip.PrefixFrom(addr, addr.BitLen())
		single = true
	}

	r := Range{raw: s, single: single}
	if p.Addr().Is4() || p.Addr().Is4In6() {
		bits := p.Bits()
		if p.Addr().Is4In6() {
			bits -= 96
			if bits < 0 {
				return Range{}, fmt.Errorf("invalid CIDR %q: prefix too short for IPv4", s)
			}
		}
		r.v4 = true
		r.mask = Mask(bits)
		r.network = toUint32(p.Addr().Unmap()) & r.mask
		return r, nil
	}
	r.prefix = p.Masked()
	return r, nil
}

// Mask returns the IPv4 netmask for a prefix length. Values outside 0..32
// are clamped.
func Mask(prefix int) uint32 {
	switch {
	case prefix <= 0:
		return 0
	case prefix >= 32:
		return 0xFFFFFFFF
	}
	return ^uint32(0) << uint32(32-prefix)
}

func toUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func (r Range) String() string { return r.raw }

// Single reports whether the range names exactly one address.
func (r Range) Single() bool { return r.single }

func (r Range) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	if r.v4 {
		if !addr.Is4() {
			return false
		}
		return toUint32(addr)&r.mask == r.network
	}
	if addr.Is4() {
		return false
	}
	return r.prefix.Contains(addr)
}

// ContainsString parses ip and checks membership; unparseable input never
// matches.
func (r Range) ContainsString(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	return r.Contains(addr)
}
