// Package dnsurl parses and formats the upstream descriptors this gateway
// accepts: the DNS URL naming a nameserver transport, the NameServerInfo
// line syntax layering bootstrap/proxy/subnet options on top of it, and
// the proxy URL naming a SOCKS5 or HTTP forward proxy.
package dnsurl

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// Protocol is the wire protocol a DNS URL addresses.
type Protocol string

// Supported protocols, matching the scheme set in spec.md §6.
const (
	ProtoUDP   Protocol = "udp"
	ProtoTCP   Protocol = "tcp"
	ProtoTLS   Protocol = "tls"
	ProtoHTTPS Protocol = "https"
	ProtoQUIC  Protocol = "quic"
)

func (p Protocol) defaultPort() uint16 {
	switch p {
	case ProtoTLS, ProtoQUIC:
		return 853
	case ProtoHTTPS:
		return 443
	default:
		return 53
	}
}

// ErrUnknownProtocol is returned when a DNS URL carries a scheme outside
// {udp, tcp, tls, https, quic}.
var ErrUnknownProtocol = errors.Error("dnsurl: unknown protocol")

// ErrInvalidDNSURL is returned for a malformed DNS URL string.
var ErrInvalidDNSURL = errors.Error("dnsurl: invalid DNS URL")

// DnsUrl is a structured upstream descriptor: protocol, host (domain or
// literal IP), port, optional path (HTTPS only), and TLS flags.
//
// A DnsUrl is verified (see Verified) once Host has been replaced by a
// literal socket address; only verified URLs may open sockets.
type DnsUrl struct {
	Proto Protocol
	Host  string
	Port  uint16
	Path  string

	SNIOff    bool
	SSLVerify bool
}

// ParseDnsUrl parses s per spec.md §6:
// scheme://[host-or-ip][:port][/path][?params].
func ParseDnsUrl(s string) (*DnsUrl, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDNSURL, s, err)
	}

	proto := Protocol(strings.ToLower(u.Scheme))
	switch proto {
	case ProtoUDP, ProtoTCP, ProtoTLS, ProtoHTTPS, ProtoQUIC:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: %s: missing host", ErrInvalidDNSURL, s)
	}

	port := proto.defaultPort()
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad port: %w", ErrInvalidDNSURL, s, err)
		}
		port = uint16(p)
	}

	du := &DnsUrl{
		Proto:     proto,
		Host:      host,
		Port:      port,
		Path:      u.Path,
		SSLVerify: true,
	}

	q := u.Query()
	if v := q.Get("enable_sni"); v == "false" {
		du.SNIOff = true
	}
	if v := q.Get("ssl_verify"); v == "false" {
		du.SSLVerify = false
	}

	return du, nil
}

// SetSNIOff toggles off SNI, equivalent to the "--host-name -" nameserver
// line option.
func (u *DnsUrl) SetSNIOff(off bool) { u.SNIOff = off }

// SetHost replaces Host. Host is both the address the URL connects to
// (resolved through the bootstrap resolver when it is not a literal IP)
// and the TLS ServerName; the URL keeps no separate TLS name.
func (u *DnsUrl) SetHost(host string) { u.Host = host }

// Verified reports whether Host is already a literal IP address, i.e. this
// URL may be used to open a socket without going through the bootstrap
// resolver.
func (u *DnsUrl) Verified() bool {
	return net.ParseIP(u.Host) != nil
}

// Addr returns the literal socket address for a verified URL.
func (u *DnsUrl) Addr() (netip.AddrPort, bool) {
	ip, err := netip.ParseAddr(u.Host)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip, u.Port), true
}

// String formats u back into DNS URL syntax. Parse(u.String()) yields an
// equal DnsUrl for any value produced by ParseDnsUrl.
func (u *DnsUrl) String() string {
	var b strings.Builder
	b.WriteString(string(u.Proto))
	b.WriteString("://")

	host := u.Host
	if strings.Contains(host, ":") && net.ParseIP(host) != nil {
		host = "[" + host + "]"
	}
	b.WriteString(host)

	if u.Port != u.Proto.defaultPort() {
		fmt.Fprintf(&b, ":%d", u.Port)
	}

	if u.Path != "" {
		b.WriteString(u.Path)
	}

	var params []string
	if u.SNIOff {
		params = append(params, "enable_sni=false")
	}
	if !u.SSLVerify {
		params = append(params, "ssl_verify=false")
	}
	if len(params) > 0 {
		b.WriteString("?")
		b.WriteString(strings.Join(params, "&"))
	}

	return b.String()
}
