package upstream

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"

	"github.com/feifeigood/swiftlink/dnsurl"
)

// doqALPN is the ALPN token RFC 9250 reserves for DNS-over-QUIC.
const doqALPN = "doq"

// doqUpstream implements DNS-over-QUIC (RFC 9250): one query/response pair
// per bidirectional stream on a shared, lazily (re)dialed connection.
type doqUpstream struct {
	url     *dnsurl.DnsUrl
	opts    *Options
	tlsConf *tls.Config

	mu   sync.Mutex
	conn quic.Connection
}

func newDoQ(u *dnsurl.DnsUrl, opts *Options) (Upstream, error) {
	tlsConf := tlsConfig(u, opts)
	tlsConf.NextProtos = []string{doqALPN}
	return &doqUpstream{url: u, opts: opts, tlsConf: tlsConf}, nil
}

func (d *doqUpstream) Address() string { return d.url.String() }

func (d *doqUpstream) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		err := d.conn.CloseWithError(0, "")
		d.conn = nil
		return err
	}
	return nil
}

func (d *doqUpstream) Exchange(req *dns.Msg) (*dns.Msg, error) {
	logBegin(d.Address(), d.url.Proto, req)
	resp, err := d.exchange(req)
	if err != nil {
		// A broken connection is useless going forward; drop it so the
		// next Exchange redials.
		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
	}
	logFinish(d.Address(), d.url.Proto, err)
	return resp, err
}

func (d *doqUpstream) getConn(ctx context.Context) (quic.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return d.conn, nil
	}

	addr := net.JoinHostPort(d.url.Host, fmt.Sprint(d.url.Port))
	conn, err := quic.DialAddr(ctx, addr, d.tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: QUIC dial %s: %w", addr, err)
	}
	d.conn = conn
	return conn, nil
}

func (d *doqUpstream) exchange(req *dns.Msg) (*dns.Msg, error) {
	ctx := context.Background()
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	conn, err := d.getConn(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("upstream: opening QUIC stream: %w", err)
	}
	defer stream.Close()

	// RFC 9250 requires the message ID be zero on the wire and each
	// query/response pair use its own stream.
	msg := req.Copy()
	msg.Id = 0
	wire, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("upstream: packing query: %w", err)
	}

	prefixed := make([]byte, 2+len(wire))
	binary.BigEndian.PutUint16(prefixed, uint16(len(wire)))
	copy(prefixed[2:], wire)

	if _, err = stream.Write(prefixed); err != nil {
		return nil, fmt.Errorf("upstream: writing query: %w", err)
	}
	_ = stream.Close()

	var lenBuf [2]byte
	if _, err = io.ReadFull(stream, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("upstream: reading response length: %w", err)
	}
	respLen := binary.BigEndian.Uint16(lenBuf[:])

	respBuf := make([]byte, respLen)
	if _, err = io.ReadFull(stream, respBuf); err != nil {
		return nil, fmt.Errorf("upstream: reading response: %w", err)
	}

	resp := new(dns.Msg)
	if err = resp.Unpack(respBuf); err != nil {
		return nil, fmt.Errorf("upstream: unpacking response: %w", err)
	}
	resp.Id = req.Id
	return resp, nil
}
