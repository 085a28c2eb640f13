// Package proxydial implements the proxy-aware TCP dialer shared by every
// nameserver transport: a direct connection, a SOCKS5 CONNECT tunnel, or
// an HTTP CONNECT tunnel, all exposed as a plain net.Conn.
package proxydial

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"golang.org/x/net/proxy"

	"github.com/feifeigood/swiftlink/dnsurl"
)

// ConnectOpts carries the socket options applied to every direct TCP
// connection opened by this package: bound local address/interface and
// buffer/keepalive tuning.
type ConnectOpts struct {
	// BindAddr, if set, is used as the local address for outgoing
	// connections.
	BindAddr net.IP

	// BindInterface, if set, binds the socket to a named interface
	// (Linux SO_BINDTODEVICE equivalent).
	BindInterface string

	SendBufferSize int
	RecvBufferSize int

	// NoDelay disables Nagle's algorithm.
	NoDelay bool

	// KeepAlive is the TCP keepalive interval; zero disables keepalive.
	KeepAlive time.Duration
}

var dialer = net.Dialer{}

// Dial opens a connection to addr, optionally tunneled through proxyURL.
// A nil proxyURL dials addr directly.
func Dial(ctx context.Context, addr string, proxyURL *dnsurl.ProxyURL, opts ConnectOpts) (net.Conn, error) {
	if proxyURL == nil {
		return dialDirect(ctx, addr, opts)
	}

	switch proxyURL.Proto {
	case dnsurl.ProxySocks5:
		return dialSocks5(ctx, addr, proxyURL, opts)
	case dnsurl.ProxyHTTP:
		return dialHTTPConnect(ctx, addr, proxyURL, opts)
	default:
		return nil, fmt.Errorf("proxydial: unsupported proxy protocol %q", proxyURL.Proto)
	}
}

func dialDirect(ctx context.Context, addr string, opts ConnectOpts) (net.Conn, error) {
	d := dialer
	d.Control = controlWithOpts(opts)
	if opts.KeepAlive <= 0 {
		d.KeepAlive = -1
	}
	if opts.BindAddr != nil {
		d.LocalAddr = &net.TCPAddr{IP: opts.BindAddr}
	}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxydial: dial %s: %w", addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if opts.NoDelay {
			_ = tc.SetNoDelay(true)
		}
		if opts.KeepAlive > 0 {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(opts.KeepAlive)
		}
	}

	return conn, nil
}

func dialSocks5(ctx context.Context, addr string, proxyURL *dnsurl.ProxyURL, opts ConnectOpts) (net.Conn, error) {
	var auth *proxy.Auth
	if proxyURL.Username != "" {
		auth = &proxy.Auth{User: proxyURL.Username, Password: proxyURL.Password}
	}

	forward := &directDialer{opts: opts}
	d, err := proxy.SOCKS5("tcp", proxyURL.Server, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("proxydial: building socks5 dialer for %s: %w", proxyURL.Server, err)
	}

	if cd, ok := d.(proxy.ContextDialer); ok {
		conn, err := cd.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("proxydial: socks5 connect to %s via %s: %w", addr, proxyURL.Server, err)
		}
		return conn, nil
	}

	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxydial: socks5 connect to %s via %s: %w", addr, proxyURL.Server, err)
	}
	return conn, nil
}

// directDialer adapts dialDirect to the golang.org/x/net/proxy.Dialer
// interface so the SOCKS5 forward-dial step still honors ConnectOpts.
type directDialer struct {
	opts ConnectOpts
}

func (d *directDialer) Dial(network, addr string) (net.Conn, error) {
	return dialDirect(context.Background(), addr, d.opts)
}

func (d *directDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return dialDirect(ctx, addr, d.opts)
}

func dialHTTPConnect(ctx context.Context, addr string, proxyURL *dnsurl.ProxyURL, opts ConnectOpts) (net.Conn, error) {
	conn, err := dialDirect(ctx, proxyURL.Server, opts)
	if err != nil {
		return nil, err
	}

	req := "CONNECT " + addr + " HTTP/1.1\r\nHost: " + addr + "\r\n"
	if proxyURL.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(proxyURL.Username + ":" + proxyURL.Password))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("proxydial: writing CONNECT request to %s: %w", proxyURL.Server, err)
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("proxydial: reading CONNECT response from %s: %w", proxyURL.Server, err)
	}
	if len(status) < 12 || status[9] != '2' {
		_ = conn.Close()
		return nil, fmt.Errorf("proxydial: CONNECT to %s via %s failed: %s", addr, proxyURL.Server, status)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("proxydial: reading CONNECT headers from %s: %w", proxyURL.Server, err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	log.Debug("proxydial: CONNECT to %s via %s established", addr, proxyURL.Server)

	return conn, nil
}
