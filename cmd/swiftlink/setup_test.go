package main

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/feifeigood/swiftlink/config"
)

func TestPersistPathAlongside(t *testing.T) {
	assert.Equal(t, "fakeip.db", persistPathAlongside(""))
	assert.Equal(t, "/etc/swiftlink/fakeip.db", persistPathAlongside("/etc/swiftlink/swiftlink.toml"))
}

func TestPickAddrPrefersIPv4(t *testing.T) {
	v6 := netip.MustParseAddr("2001:db8::1")
	v4 := netip.MustParseAddr("1.2.3.4")

	assert.Equal(t, v4, pickAddr([]netip.Addr{v6, v4}))
	assert.Equal(t, v6, pickAddr([]netip.Addr{v6}))
}

func TestSocksListenAddr(t *testing.T) {
	cfg := &config.Config{SocksPort: 1080}
	assert.Equal(t, ":1080", socksListenAddr(cfg))

	cfg.InterfaceName = "127.0.0.1"
	assert.Equal(t, "127.0.0.1:1080", socksListenAddr(cfg))
}
