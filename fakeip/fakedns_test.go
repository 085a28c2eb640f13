package fakeip

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, ipnet, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return ipnet
}

func TestGenNextIP(t *testing.T) {
	ipnet4 := mustCIDR(t, "198.18.0.0/15")
	ipnet6 := mustCIDR(t, "2001:db8::/32")

	assert.Equal(t, "198.18.0.2", genIP(ipnet4, 0).String())
	assert.Equal(t, "2001:db8::2", genIP(ipnet6, 0).String())
}

func smallConfig(t *testing.T) Config {
	whitelist := NewDomainTrie[struct{}]()
	require.NoError(t, whitelist.Insert("example.com", struct{}{}))

	return Config{
		Range4:    mustCIDR(t, "198.18.0.0/29"),
		Range6:    mustCIDR(t, "2001:db8::/125"),
		Whitelist: whitelist,
		Size:      8,
	}
}

func minSizeConfig(t *testing.T) Config {
	whitelist := NewDomainTrie[struct{}]()
	require.NoError(t, whitelist.Insert("example.com", struct{}{}))

	return Config{
		Range4:    mustCIDR(t, "198.18.0.0/15"),
		Range6:    mustCIDR(t, "2001:db8::/32"),
		Whitelist: whitelist,
		Size:      2,
	}
}

func TestFakeDNSBasic(t *testing.T) {
	f := NewFakeDNS(smallConfig(t))

	assert.True(t, f.ShouldSkip("example.com"))
	assert.False(t, f.ShouldSkip("foo.bar"))
	assert.True(t, f.IsFakeIP(net.ParseIP("198.18.0.2")))
	assert.True(t, f.IsFakeIP(net.ParseIP("2001:db8::2")))

	foobar, err := f.LookupIP("foo.bar", false)
	require.NoError(t, err)
	barfoo, err := f.LookupIP("bar.foo", false)
	require.NoError(t, err)

	foobar6, err := f.LookupIP("foo.bar", true)
	require.NoError(t, err)
	barfoo6, err := f.LookupIP("bar.foo", true)
	require.NoError(t, err)

	assert.Equal(t, "198.18.0.2", foobar.String())
	assert.Equal(t, "198.18.0.3", barfoo.String())
	assert.Equal(t, "2001:db8::2", foobar6.String())
	assert.Equal(t, "2001:db8::3", barfoo6.String())

	host4, ok := f.LookupHost(foobar)
	require.True(t, ok)
	host6, ok := f.LookupHost(foobar6)
	require.True(t, ok)
	assert.Equal(t, host4, host6)

	assert.True(t, f.IsFakeIP(foobar) && f.IsFakeIP(foobar6))
}

func TestFakeDNSCycle(t *testing.T) {
	f := NewFakeDNS(smallConfig(t))

	hosts := []string{
		"test1.example.org", "test2.example.org", "test3.example.org",
		"test4.example.org", "test5.example.org", "test6.example.org",
	}
	for _, h := range hosts {
		_, err := f.LookupIP(h, false)
		require.NoError(t, err)
	}

	first, err := f.LookupIP("test1.example.org", false)
	require.NoError(t, err)
	cycled, err := f.LookupIP("test7.example.org", false)
	require.NoError(t, err)

	assert.Equal(t, first, cycled)
}

func TestFakeDNSMaxCacheSize(t *testing.T) {
	f := NewFakeDNS(minSizeConfig(t))

	first, err := f.LookupIP("test1.example.org", false)
	require.NoError(t, err)
	host, ok := f.LookupHost(first)
	require.True(t, ok)
	assert.Equal(t, "test1.example.org", host)

	_, err = f.LookupIP("test2.example.org", false)
	require.NoError(t, err)
	_, err = f.LookupIP("test3.example.org", false)
	require.NoError(t, err)

	next, err := f.LookupIP("test1.example.org", false)
	require.NoError(t, err)
	assert.NotEqual(t, first, next)

	assert.False(t, f.store.Exists(first))
}

func TestFakeDNSDoubleMapping(t *testing.T) {
	f := NewFakeDNS(minSizeConfig(t))

	fooIP, err := f.LookupIP("foo.example.org", false)
	require.NoError(t, err)
	barIP, err := f.LookupIP("bar.example.org", false)
	require.NoError(t, err)
	_, err = f.LookupIP("foo.example.org", false)
	require.NoError(t, err)
	bazIP, err := f.LookupIP("baz.example.org", false)
	require.NoError(t, err)

	host, ok := f.LookupHost(fooIP)
	require.True(t, ok)
	assert.Equal(t, "foo.example.org", host)

	_, ok = f.LookupHost(barIP)
	assert.False(t, ok)

	host, ok = f.LookupHost(bazIP)
	require.True(t, ok)
	assert.Equal(t, "baz.example.org", host)

	barIP2, err := f.LookupIP("bar.example.org", false)
	require.NoError(t, err)
	assert.NotEqual(t, barIP, barIP2)
}

func TestFakeDNSWhitelist(t *testing.T) {
	f := NewFakeDNS(smallConfig(t))

	_, err := f.LookupIP("example.com", false)
	require.Error(t, err)

	_, err = f.LookupIP("notwhitelisted.com", false)
	require.NoError(t, err)
}

func TestFakeDNSPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fakeip.db")

	cfg := Config{
		Range4:      mustCIDR(t, "198.18.0.0/16"),
		Range6:      mustCIDR(t, "2001:db8::/32"),
		PersistPath: path,
		Size:        65535,
	}

	f := NewFakeDNS(cfg)
	ip, err := f.LookupIP("example.org", false)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened := NewFakeDNS(cfg)
	defer reopened.Close()

	host, ok := reopened.LookupHost(ip)
	require.True(t, ok)
	assert.Equal(t, "example.org", host)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
