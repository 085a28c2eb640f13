package upstream

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/feifeigood/swiftlink/dnsurl"
	"github.com/feifeigood/swiftlink/proxydial"
)

// plainUpstream implements classic UDP and TCP DNS, with UDP falling back
// to TCP on a truncated response per RFC 1035 §4.2.1.
type plainUpstream struct {
	url  *dnsurl.DnsUrl
	opts *Options
}

func newPlain(u *dnsurl.DnsUrl, opts *Options) (Upstream, error) {
	return &plainUpstream{url: u, opts: opts}, nil
}

func (p *plainUpstream) Address() string { return p.url.String() }

func (p *plainUpstream) Close() error { return nil }

func (p *plainUpstream) Exchange(req *dns.Msg) (*dns.Msg, error) {
	logBegin(p.Address(), p.url.Proto, req)

	network := "udp"
	if p.url.Proto == dnsurl.ProtoTCP {
		network = "tcp"
	}

	resp, err := p.exchangeVia(network, req)
	if err == nil && network == "udp" && resp.Truncated {
		resp, err = p.exchangeVia("tcp", req)
	}

	logFinish(p.Address(), p.url.Proto, err)
	return resp, err
}

func (p *plainUpstream) exchangeVia(network string, req *dns.Msg) (*dns.Msg, error) {
	ctx := context.Background()
	timeout := p.opts.Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(p.url.Host, fmt.Sprint(p.url.Port))

	var conn net.Conn
	var err error
	if network == "tcp" {
		conn, err = proxydial.Dial(ctx, addr, p.opts.Proxy, proxydial.ConnectOpts{})
	} else {
		d := net.Dialer{Timeout: timeout}
		conn, err = d.DialContext(ctx, "udp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream: dialing %s: %w", addr, err)
	}
	defer conn.Close()

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
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
