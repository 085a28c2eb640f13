package upstream

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feifeigood/swiftlink/dnsurl"
)

func TestNewRejectsUnverifiedHost(t *testing.T) {
	u, err := dnsurl.ParseDnsUrl("udp://dns.example.com:53")
	require.NoError(t, err)

	_, err = New(u, nil)
	assert.Error(t, err)
}

func TestNewDispatchesByProtocol(t *testing.T) {
	cases := []struct {
		url  string
		want any
	}{
		{"udp://1.1.1.1:53", &plainUpstream{}},
		{"tcp://1.1.1.1:53", &plainUpstream{}},
		{"tls://1.1.1.1:853", &dotUpstream{}},
		{"https://1.1.1.1:443", &dohUpstream{}},
		{"quic://1.1.1.1:853", &doqUpstream{}},
	}

	for _, tc := range cases {
		u, err := dnsurl.ParseDnsUrl(tc.url)
		require.NoError(t, err)

		up, err := New(u, nil)
		require.NoError(t, err)
		assert.IsType(t, tc.want, up)
	}
}

func TestKindForPrecedence(t *testing.T) {
	normal := &dnsurl.DnsUrl{Host: "1.1.1.1", SSLVerify: true, SNIOff: false}
	assert.Equal(t, tlsNormal, kindFor(normal))

	sniOff := &dnsurl.DnsUrl{Host: "1.1.1.1", SSLVerify: true, SNIOff: true}
	assert.Equal(t, tlsSNIOff, kindFor(sniOff))

	verifyOff := &dnsurl.DnsUrl{Host: "1.1.1.1", SSLVerify: false, SNIOff: true}
	assert.Equal(t, tlsVerifyOff, kindFor(verifyOff))
}

func TestValidUntilCapsAtMaxTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	resp := new(dns.Msg)
	resp.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Ttl: 999999}},
	}
	assert.Equal(t, now.Add(MaxTTL), validUntil(now, resp))

	resp.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Ttl: 30}},
		&dns.A{Hdr: dns.RR_Header{Ttl: 300}},
	}
	assert.Equal(t, now.Add(30*time.Second), validUntil(now, resp))
}
