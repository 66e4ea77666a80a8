package pathutil

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHost(t *testing.T) {
	t.Run("bare name", func(t *testing.T) {
		h, err := ParseHost("example.com")
		require.NoError(t, err)
		assert.Equal(t, "example.com", h.Name)
		assert.False(t, h.IsIP())
		assert.Zero(t, h.Port)
	})

	t.Run("name with port", func(t *testing.T) {
		h, err := ParseHost("example.com:8443")
		require.NoError(t, err)
		assert.Equal(t, "example.com", h.Name)
		assert.EqualValues(t, 8443, h.Port)
	})

	t.Run("bare ipv4", func(t *testing.T) {
		h, err := ParseHost("127.0.0.1")
		require.NoError(t, err)
		assert.True(t, h.IsIP())
		assert.True(t, h.IP.Is4())
	})

	t.Run("ipv4 with port", func(t *testing.T) {
		h, err := ParseHost("10.0.0.1:53")
		require.NoError(t, err)
		assert.True(t, h.IsIP())
		assert.EqualValues(t, 53, h.Port)
	})

	t.Run("bracketed ipv6 with port", func(t *testing.T) {
		h, err := ParseHost("[::1]:9000")
		require.NoError(t, err)
		assert.True(t, h.IsIP())
		assert.EqualValues(t, 9000, h.Port)
	})

	t.Run("bracketed ipv6 no port", func(t *testing.T) {
		h, err := ParseHost("[::1]")
		require.NoError(t, err)
		assert.True(t, h.IsIP())
		assert.Zero(t, h.Port)
	})

	t.Run("bare ipv6", func(t *testing.T) {
		h, err := ParseHost("2001:db8::1")
		require.NoError(t, err)
		assert.True(t, h.IsIP())
	})

	t.Run("empty rejected", func(t *testing.T) {
		_, err := ParseHost("  ")
		assert.Error(t, err)
	})
}

func TestIsLoopbackHost(t *testing.T) {
	mustHost := func(s string) Host {
		h, err := ParseHost(s)
		require.NoError(t, err)
		return h
	}

	assert.True(t, IsLoopbackHost(mustHost("127.0.0.1")))
	assert.True(t, IsLoopbackHost(mustHost("127.5.5.5")))
	assert.True(t, IsLoopbackHost(mustHost("::1")))
	assert.True(t, IsLoopbackHost(mustHost("localhost")))
	assert.True(t, IsLoopbackHost(mustHost("LOCALHOST.localdomain")))
	assert.False(t, IsLoopbackHost(mustHost("example.com")))
	assert.False(t, IsLoopbackHost(mustHost("8.8.8.8")))
}

func TestIsNonPublicIP(t *testing.T) {
	cases := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.1.1", true},
		{"100.64.0.1", true},
		{"169.254.1.1", true},
		{"224.0.0.1", true},
		{"255.255.255.255", true},
		{"0.0.0.0", true},
		{"192.0.2.1", true},
		{"2001:db8::1", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"93.184.216.34", false},
	}
	for _, tc := range cases {
		t.Run(tc.ip, func(t *testing.T) {
			ip := netip.MustParseAddr(tc.ip)
			assert.Equal(t, tc.want, IsNonPublicIP(ip))
		})
	}
}
