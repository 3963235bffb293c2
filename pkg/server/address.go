package server

import (
	"fmt"
	"net/netip"
	"strings"
)

// Address is a network prefix used to classify request sources as
// private. IPv4 prefixes are promoted to their IPv4-mapped IPv6 form so
// that a single comparison space covers both families.
type Address struct {
	prefix netip.Prefix
}

// ParseAddress parses "addr/prefix" (or a bare address, which gets a
// full-length prefix).
func ParseAddress(s string) (Address, error) {
	var p netip.Prefix
	if strings.Contains(s, "/") {
		var err error
		p, err = netip.ParsePrefix(s)
		if err != nil {
			return Address{}, fmt.Errorf("parse network address %q: %w", s, err)
		}
	} else {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return Address{}, fmt.Errorf("parse network address %q: %w", s, err)
		}
		p = netip.PrefixFrom(a, a.BitLen())
	}
	if p.Addr().Is4() {
		mapped := netip.AddrFrom16(p.Addr().As16())
		p = netip.PrefixFrom(mapped, p.Bits()+96)
	}
	return Address{prefix: p}, nil
}

func (a Address) String() string {
	return a.prefix.String()
}

// Contains reports whether ip falls inside the prefix. IPv4 addresses
// are compared in their IPv4-mapped form.
func (a Address) Contains(ip netip.Addr) bool {
	if ip.Is4() {
		ip = netip.AddrFrom16(ip.As16())
	}
	return a.prefix.Contains(ip)
}

// IsPrivate reports whether ip falls inside any of the given networks.
// Loopback always classifies as private.
func IsPrivate(ip netip.Addr, networks []Address) bool {
	if ip.IsLoopback() || ip.Unmap().IsLoopback() {
		return true
	}
	for _, n := range networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
