package upstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/feifeigood/swiftlink/dnsurl"
	"github.com/feifeigood/swiftlink/proxydial"
)

// dotUpstream implements DNS-over-TLS (RFC 7858), dialing a fresh TLS
// connection for every exchange; connections are not pooled or reused.
type dotUpstream struct {
	url     *dnsurl.DnsUrl
	opts    *Options
	tlsConf *tls.Config
}

func newDoT(u *dnsurl.DnsUrl, opts *Options) (Upstream, error) {
	return &dotUpstream{url: u, opts: opts, tlsConf: tlsConfig(u, opts)}, nil
}

func (d *dotUpstream) Address() string { return d.url.String() }

func (d *dotUpstream) Close() error { return nil }

func (d *dotUpstream) Exchange(req *dns.Msg) (*dns.Msg, error) {
	logBegin(d.Address(), d.url.Proto, req)
	resp, err := d.exchange(req)
	logFinish(d.Address(), d.url.Proto, err)
	return resp, err
}

func (d *dotUpstream) exchange(req *dns.Msg) (*dns.Msg, error) {
	ctx := context.Background()
	timeout := d.opts.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(d.url.Host, fmt.Sprint(d.url.Port))

	raw, err := proxydial.Dial(ctx, addr, d.opts.Proxy, proxydial.ConnectOpts{})
	if err != nil {
		return nil, fmt.Errorf("upstream: dialing %s: %w", addr, err)
	}

	conn := tls.Client(raw, d.tlsConf)
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	defer conn.Close()

	if err = conn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("upstream: TLS handshake with %s: %w", addr, err)
	}

	co := &dns.Conn{Conn: conn}
	if err = co.WriteMsg(req); err != nil {
		return nil, fmt.Errorf("upstream: writing query: %w", err)
	}

	resp, err := co.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("upstream: reading response: %w", err)
	}
	return resp, nil
}
