package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/miekg/dns"

	"github.com/feifeigood/swiftlink/dnsurl"
	"github.com/feifeigood/swiftlink/proxydial"
)

// dohContentType is the media type RFC 8484 mandates for DNS-message
// request and response bodies.
const dohContentType = "application/dns-message"

// dohUpstream implements DNS-over-HTTPS (RFC 8484) POST queries.
type dohUpstream struct {
	url    *dnsurl.DnsUrl
	opts   *Options
	client *http.Client
}

func newDoH(u *dnsurl.DnsUrl, opts *Options) (Upstream, error) {
	tlsConf := tlsConfig(u, opts)

	transport := &http.Transport{
		TLSClientConfig: tlsConf,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return proxydial.Dial(ctx, addr, opts.Proxy, proxydial.ConnectOpts{})
		},
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			raw, err := proxydial.Dial(ctx, addr, opts.Proxy, proxydial.ConnectOpts{})
			if err != nil {
				return nil, err
			}
			conn := tls.Client(raw, tlsConf)
			if err = conn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       30 * time.Second,
	}

	return &dohUpstream{
		url:    u,
		opts:   opts,
		client: &http.Client{Transport: transport, Timeout: opts.Timeout},
	}, nil
}

func (d *dohUpstream) Address() string { return d.url.String() }

func (d *dohUpstream) Close() error {
	if t, ok := d.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func (d *dohUpstream) Exchange(req *dns.Msg) (*dns.Msg, error) {
	logBegin(d.Address(), d.url.Proto, req)
	resp, err := d.exchange(req)
	logFinish(d.Address(), d.url.Proto, err)
	return resp, err
}

func (d *dohUpstream) exchange(req *dns.Msg) (*dns.Msg, error) {
	wire, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("upstream: packing query: %w", err)
	}

	path := d.url.Path
	if path == "" {
		path = "/dns-query"
	}
	endpoint := fmt.Sprintf("https://%s%s", net.JoinHostPort(d.url.Host, fmt.Sprint(d.url.Port)), path)

	ctx := context.Background()
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wire))
	if err != nil {
		return nil, fmt.Errorf("upstream: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", dohContentType)
	httpReq.Header.Set("Accept", dohContentType)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s: %w", endpoint, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream: %s: status %s", endpoint, httpResp.Status)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: reading response body: %w", err)
	}

	resp := new(dns.Msg)
	if err = resp.Unpack(body); err != nil {
		return nil, fmt.Errorf("upstream: unpacking response: %w", err)
	}
	return resp, nil
}
