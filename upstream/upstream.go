// Package upstream implements per-URL DNS clients for the plain, DoT, DoH,
// and DoQ transports, each optionally dialed through a SOCKS5 or HTTP
// forward proxy.
package upstream

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"

	"github.com/feifeigood/swiftlink/dnsurl"
)

// MaxUDPPayload is the EDNS(0) UDP payload ceiling this gateway advertises,
// per RFC 8375 / the 2020 DNS flag day recommendation.
const MaxUDPPayload = 1232

// MaxTTL is the ceiling applied to every Lookup's validity window.
const MaxTTL = 86400 * time.Second

// Upstream turns DNS queries into answers over one specific nameserver
// transport.
type Upstream interface {
	// Exchange sends req and returns the response, or an error if the
	// transport failed. It never retries; retrying across transports is
	// the NameServerGroup's job.
	Exchange(req *dns.Msg) (resp *dns.Msg, err error)

	// Address returns the upstream's DNS URL, for logging and cache
	// keying.
	Address() string

	io.Closer
}

// Options configures a transport. Nil Options is equivalent to the zero
// value.
type Options struct {
	// Proxy, if set, tunnels every TCP-based connection this upstream
	// opens (plain TCP, DoT, DoH) through a SOCKS5 or HTTP proxy. UDP-based
	// transports (plain UDP, DoQ) ignore it.
	Proxy *dnsurl.ProxyURL

	// Timeout bounds every exchange and dial. Zero disables the timeout.
	Timeout time.Duration

	// RootCAs overrides the system trust store for TLS-based transports.
	RootCAs *x509.CertPool

	// CipherSuites is a custom list of TLSv1.2 cipher suites.
	CipherSuites []uint16

	// VerifyServerCertificate, if set, is installed as the TLS config's
	// VerifyPeerCertificate callback.
	VerifyServerCertificate func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// Clone makes a shallow copy of o.
func (o *Options) Clone() *Options {
	if o == nil {
		return &Options{}
	}
	return &Options{
		Proxy:                   o.Proxy,
		Timeout:                 o.Timeout,
		RootCAs:                 o.RootCAs,
		CipherSuites:            o.CipherSuites,
		VerifyServerCertificate: o.VerifyServerCertificate,
	}
}

// New builds the transport named by u's protocol. u must be verified (see
// [dnsurl.DnsUrl.Verified]) — the caller (the NameServer cache, via the
// bootstrap resolver) is responsible for turning hostnames into literal
// addresses before calling New.
func New(u *dnsurl.DnsUrl, opts *Options) (Upstream, error) {
	if !u.Verified() {
		return nil, fmt.Errorf("upstream: %s: host must be a literal address", u)
	}
	if opts == nil {
		opts = &Options{}
	}

	switch u.Proto {
	case dnsurl.ProtoUDP, dnsurl.ProtoTCP:
		return newPlain(u, opts)
	case dnsurl.ProtoTLS:
		return newDoT(u, opts)
	case dnsurl.ProtoHTTPS:
		return newDoH(u, opts)
	case dnsurl.ProtoQUIC:
		return newDoQ(u, opts)
	default:
		return nil, fmt.Errorf("upstream: %s: unsupported protocol %q", u, u.Proto)
	}
}

// tlsConfigKind selects one of the three prebuilt TLS client configurations
// a URL's flags resolve to, in precedence order verify-off > sni-off >
// normal.
type tlsConfigKind int

const (
	tlsNormal tlsConfigKind = iota
	tlsSNIOff
	tlsVerifyOff
)

func kindFor(u *dnsurl.DnsUrl) tlsConfigKind {
	if !u.SSLVerify {
		return tlsVerifyOff
	}
	if u.SNIOff {
		return tlsSNIOff
	}
	return tlsNormal
}

// tlsConfig builds the TLS client config for u per opts, selecting among
// the three prebuilt shapes: normal (system + optional extra CAs), SNI-off
// (ServerName blanked but certificate still verified against u.Host), and
// verify-off (InsecureSkipVerify).
func tlsConfig(u *dnsurl.DnsUrl, opts *Options) *tls.Config {
	cfg := &tls.Config{
		RootCAs:                opts.RootCAs,
		CipherSuites:            opts.CipherSuites,
		VerifyPeerCertificate:   opts.VerifyServerCertificate,
		MinVersion:              tls.VersionTLS12,
		ServerName:              u.Host,
	}

	switch kindFor(u) {
	case tlsVerifyOff:
		cfg.InsecureSkipVerify = true
	case tlsSNIOff:
		cfg.ServerName = ""
		cfg.InsecureSkipVerify = true
		host := u.Host
		cfg.VerifyPeerCertificate = verifyHostnameManually(host, cfg.RootCAs, opts.VerifyServerCertificate)
	}

	return cfg
}

// verifyHostnameManually builds a VerifyPeerCertificate callback that
// checks the presented chain against host even though ServerName (and
// hence automatic verification) was blanked to suppress SNI.
func verifyHostnameManually(
	host string,
	roots *x509.CertPool,
	inner func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error,
) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
		if inner != nil {
			if err := inner(rawCerts, verifiedChains); err != nil {
				return err
			}
		}

		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("upstream: parsing peer certificate: %w", err)
			}
			certs = append(certs, cert)
		}
		if len(certs) == 0 {
			return fmt.Errorf("upstream: no peer certificates presented")
		}

		opts := x509.VerifyOptions{Roots: roots, DNSName: host}
		for _, cert := range certs[1:] {
			if opts.Intermediates == nil {
				opts.Intermediates = x509.NewCertPool()
			}
			opts.Intermediates.AddCert(cert)
		}

		_, err := certs[0].Verify(opts)
		return err
	}
}

// validUntil computes now + min(answer TTLs, MaxTTL).
func validUntil(now time.Time, resp *dns.Msg) time.Time {
	minTTL := uint32(MaxTTL / time.Second)
	for _, rr := range resp.Answer {
		if ttl := rr.Header().Ttl; ttl < minTTL {
			minTTL = ttl
		}
	}
	return now.Add(time.Duration(minTTL) * time.Second)
}

func logBegin(addr string, proto dnsurl.Protocol, req *dns.Msg) {
	qtype, target := "", ""
	if len(req.Question) != 0 {
		qtype = dns.Type(req.Question[0].Qtype).String()
		target = req.Question[0].Name
	}
	log.Debug("upstream: %s: sending request over %s: %s %s", addr, proto, qtype, target)
}

func logFinish(addr string, proto dnsurl.Protocol, err error) {
	status := "ok"
	if err != nil {
		status = err.Error()
	}
	log.Debug("upstream: %s: response received over %s: %s", addr, proto, status)
}
