package resolver

import (
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feifeigood/swiftlink/dnsurl"
	"github.com/feifeigood/swiftlink/upstream"
)

func TestEDNS0SubnetIPv4(t *testing.T) {
	prefix := netip.MustParsePrefix("203.0.113.0/24")
	opt := edns0Subnet(prefix)

	require.NotNil(t, opt)
	assert.EqualValues(t, 1, opt.Family)
	assert.EqualValues(t, 24, opt.SourceNetmask)
}

func TestEDNS0SubnetIPv6(t *testing.T) {
	prefix := netip.MustParsePrefix("2001:db8::/32")
	opt := edns0Subnet(prefix)

	require.NotNil(t, opt)
	assert.EqualValues(t, 2, opt.Family)
	assert.EqualValues(t, 32, opt.SourceNetmask)
}

func TestLookupOmitsEDNSWhenNotRequested(t *testing.T) {
	up := &fakeUpstream{addr: "1.1.1.1", resp: new(dns.Msg)}
	ns := nsWithUpstream(up)

	_, err := ns.Lookup("example.com", LookupOptions{RecordType: dns.TypeA})
	require.NoError(t, err)

	require.NotNil(t, up.lastReq)
	assert.Nil(t, up.lastReq.IsEdns0())
}

func TestLookupAttachesEDNSWhenCheckEDNSSet(t *testing.T) {
	up := &fakeUpstream{addr: "1.1.1.1", resp: new(dns.Msg)}
	ns := nsWithUpstream(up)
	ns.Info.CheckEDNS = true

	_, err := ns.Lookup("example.com", LookupOptions{RecordType: dns.TypeA})
	require.NoError(t, err)

	require.NotNil(t, up.lastReq)
	opt := up.lastReq.IsEdns0()
	require.NotNil(t, opt)
	assert.EqualValues(t, upstream.MaxUDPPayload, opt.UDPSize())
	assert.EqualValues(t, 0, opt.Version())
}

func TestLookupAttachesEDNSWhenClientSubnetGiven(t *testing.T) {
	up := &fakeUpstream{addr: "1.1.1.1", resp: new(dns.Msg)}
	ns := nsWithUpstream(up)

	subnet := edns0Subnet(netip.MustParsePrefix("203.0.113.0/24"))
	_, err := ns.Lookup("example.com", LookupOptions{RecordType: dns.TypeA, ClientSubnet: subnet})
	require.NoError(t, err)

	require.NotNil(t, up.lastReq)
	opt := up.lastReq.IsEdns0()
	require.NotNil(t, opt)
	require.Len(t, opt.Option, 1)
}

func TestCacheGetOrCreateDeduplicates(t *testing.T) {
	c := NewCache()
	u := &dnsurl.DnsUrl{Proto: dnsurl.ProtoUDP, Host: "1.1.1.1", Port: 53}

	calls := 0
	build := func() (*NameServer, error) {
		calls++
		return nsWithUpstream(&fakeUpstream{addr: "1.1.1.1", resp: new(dns.Msg)}), nil
	}

	first, err := c.GetOrCreate(u, nil, build)
	require.NoError(t, err)

	second, err := c.GetOrCreate(u, nil, build)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls) // second GetOrCreate hits the cache, build never runs again
}

func TestCacheKeyDistinguishesProxy(t *testing.T) {
	u := &dnsurl.DnsUrl{Proto: dnsurl.ProtoUDP, Host: "1.1.1.1", Port: 53}
	proxy := &dnsurl.ProxyURL{Proto: dnsurl.ProxySocks5, Server: "proxy:1080"}

	k1 := keyFor(u, nil)
	k2 := keyFor(u, proxy)
	assert.NotEqual(t, k1, k2)
}
