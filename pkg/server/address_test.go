package server

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddressPromotesIPv4(t *testing.T) {
	a, err := ParseAddress("10.0.0.0/8")
	require.NoError(t, err)
	assert.True(t, a.Contains(netip.MustParseAddr("10.1.2.3")))
	assert.True(t, a.Contains(netip.MustParseAddr("::ffff:10.1.2.3")))
	assert.False(t, a.Contains(netip.MustParseAddr("11.0.0.1")))
}

func TestParseAddressBare(t *testing.T) {
	a, err := ParseAddress("192.168.1.5")
	require.NoError(t, err)
	assert.True(t, a.Contains(netip.MustParseAddr("192.168.1.5")))
	assert.False(t, a.Contains(netip.MustParseAddr("192.168.1.6")))
}

func TestParseAddressIPv6(t *testing.T) {
	a, err := ParseAddress("fd00::/8")
	require.NoError(t, err)
	assert.True(t, a.Contains(netip.MustParseAddr("fd12::1")))
	assert.False(t, a.Contains(netip.MustParseAddr("fe80::1")))
}

func TestIsPrivate(t *testing.T) {
	nets := []Address{}
	assert.True(t, IsPrivate(netip.MustParseAddr("127.0.0.1"), nets))
	assert.True(t, IsPrivate(netip.MustParseAddr("::1"), nets))
	assert.False(t, IsPrivate(netip.MustParseAddr("8.8.8.8"), nets))

	private, err := ParseAddress("192.168.0.0/16")
	require.NoError(t, err)
	nets = append(nets, private)
	assert.True(t, IsPrivate(netip.MustParseAddr("192.168.4.2"), nets))
	assert.False(t, IsPrivate(netip.MustParseAddr("8.8.8.8"), nets))
}

func TestParseAddressErrors(t *testing.T) {
	for _, in := range []string{"", "not-an-address", "10.0.0.0/33"} {
		_, err := ParseAddress(in)
		assert.Error(t, err, "in=%q", in)
	}
}
