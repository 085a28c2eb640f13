package resolver

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/feifeigood/swiftlink/dnsurl"
	"github.com/feifeigood/swiftlink/upstream"
)

// NameServer is a verified URL bound to a live transport and the resolver
// options that travel with it (client-subnet override, EDNS probing).
type NameServer struct {
	Info *dnsurl.NameServerInfo

	up upstream.Upstream
}

// Lookup performs one exchange against ns's transport and wraps the
// response. A non-nil error means the transport itself failed; a nil
// error with an empty Lookup means the upstream answered with no
// records (e.g. NXDOMAIN).
func (ns *NameServer) Lookup(name string, opts LookupOptions) (*Lookup, error) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), opts.RecordType)
	req.RecursionDesired = true

	// EDNSClientSubnet on the NameServerInfo carries a per-upstream
	// override applied whenever the caller didn't supply its own.
	subnet := opts.ClientSubnet
	if subnet == nil && ns.Info.EDNSClientSubnet.IsValid() {
		subnet = edns0Subnet(ns.Info.EDNSClientSubnet)
	}

	if ns.Info.CheckEDNS || subnet != nil {
		opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
		opt.SetUDPSize(upstream.MaxUDPPayload)
		opt.SetVersion(0)
		if subnet != nil {
			opt.Option = append(opt.Option, subnet)
		}
		req.Extra = append(req.Extra, opt)
	}

	resp, err := ns.up.Exchange(req)
	if err != nil {
		return nil, fmt.Errorf("resolver: %s: %w", ns.up.Address(), err)
	}

	return NewLookup(time.Now(), resp), nil
}

func (ns *NameServer) Address() string { return ns.up.Address() }

func (ns *NameServer) Close() error { return ns.up.Close() }

// edns0Subnet builds an EDNS0_SUBNET option from a client-subnet prefix
// per RFC 7871.
func edns0Subnet(prefix netip.Prefix) *dns.EDNS0_SUBNET {
	addr := prefix.Addr()
	family := uint16(1)
	ip := addr.AsSlice()
	if addr.Is6() {
		family = 2
	}
	return &dns.EDNS0_SUBNET{
		Code:          dns.EDNS0SUBNET,
		Family:        family,
		SourceNetmask: uint8(prefix.Bits()),
		SourceScope:   0,
		Address:       ip,
	}
}

// cacheKey is the NameServer cache's lookup key: the URL string plus a
// descriptor of the proxy it's reached through, per spec's "(url-string,
// proxy-descriptor)" cache key.
type cacheKey struct {
	url   string
	proxy string
}

func keyFor(u *dnsurl.DnsUrl, proxy *dnsurl.ProxyURL) cacheKey {
	k := cacheKey{url: u.String()}
	if proxy != nil {
		k.proxy = proxy.String()
	}
	return k
}

// Cache is the read-mostly NameServer cache: reads take the read lock;
// a miss takes the write lock and re-checks before inserting (the second
// concurrent insert for the same key is discarded in favor of the
// winner already present).
type Cache struct {
	mu    sync.RWMutex
	byKey map[cacheKey]*NameServer
}

// NewCache returns an empty NameServer cache.
func NewCache() *Cache {
	return &Cache{byKey: make(map[cacheKey]*NameServer)}
}

// GetOrCreate returns the cached NameServer for (u, proxy), building one
// via build if absent.
func (c *Cache) GetOrCreate(u *dnsurl.DnsUrl, proxy *dnsurl.ProxyURL, build func() (*NameServer, error)) (*NameServer, error) {
	key := keyFor(u, proxy)

	c.mu.RLock()
	ns, ok := c.byKey[key]
	c.mu.RUnlock()
	if ok {
		return ns, nil
	}

	built, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byKey[key]; ok {
		// Lost the race: someone else inserted first. Keep their
		// NameServer, drop ours.
		_ = built.Close()
		return existing, nil
	}
	c.byKey[key] = built
	return built, nil
}

// New builds a NameServer from a verified URL, wiring up.New for the
// underlying transport.
func New(info *dnsurl.NameServerInfo, proxy *dnsurl.ProxyURL, opts *upstream.Options) (*NameServer, error) {
	if !info.URL.Verified() {
		return nil, fmt.Errorf("resolver: %s: host must be verified before building a NameServer", info.URL)
	}

	o := opts.Clone()
	o.Proxy = proxy

	up, err := upstream.New(info.URL, o)
	if err != nil {
		return nil, err
	}

	return &NameServer{Info: info, up: up}, nil
}
