package dnsurl

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// ProxyProtocol names the forward-proxy protocol a ProxyURL addresses.
type ProxyProtocol string

const (
	ProxySocks5 ProxyProtocol = "socks5"
	ProxyHTTP   ProxyProtocol = "http"
)

// ErrUnknownProxyProtocol is returned for a proxy URL scheme outside
// {socks5, http}.
var ErrUnknownProxyProtocol = errors.Error("dnsurl: unknown proxy protocol")

// ProxyURL names a SOCKS5 or HTTP forward proxy: socks5://[user[:pass]@]host:port
// (default port 1080) or http://[user[:pass]@]host:port.
type ProxyURL struct {
	Proto    ProxyProtocol
	Server   string // host:port
	Username string
	Password string
}

// ParseProxyURL parses s per spec.md §6's proxy URL syntax.
func ParseProxyURL(s string) (*ProxyURL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("dnsurl: invalid proxy URL %q: %w", s, err)
	}

	var proto ProxyProtocol
	switch strings.ToLower(u.Scheme) {
	case "socks5":
		proto = ProxySocks5
	case "http":
		proto = ProxyHTTP
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProxyProtocol, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("dnsurl: invalid proxy URL %q: missing host", s)
	}

	port := u.Port()
	if port == "" && proto == ProxySocks5 {
		port = "1080"
	}
	if port == "" {
		return nil, fmt.Errorf("dnsurl: invalid proxy URL %q: missing port", s)
	}

	p := &ProxyURL{
		Proto:  proto,
		Server: net.JoinHostPort(host, port),
	}

	if username := u.User.Username(); username != "" {
		p.Username = username
		if pass, ok := u.User.Password(); ok {
			p.Password = pass
		}
	}

	return p, nil
}

// String formats p back into proxy URL syntax.
func (p *ProxyURL) String() string {
	var b strings.Builder
	b.WriteString(string(p.Proto))
	b.WriteString("://")

	if p.Username != "" {
		b.WriteString(p.Username)
		if p.Password != "" {
			b.WriteString(":")
			b.WriteString(p.Password)
		}
		b.WriteString("@")
	}

	b.WriteString(p.Server)

	return b.String()
}
