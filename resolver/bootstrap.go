package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/feifeigood/swiftlink/dnsurl"
	"github.com/feifeigood/swiftlink/upstream"
)

// wellKnownBootstrap is the built-in fallback pair of DNS-over-HTTPS
// providers used when neither the configuration nor the system resolver
// can bootstrap nameserver hostnames: Alibaba and Cloudflare.
var wellKnownBootstrap = []string{
	"https://223.5.5.5:443/dns-query",
	"https://1.1.1.1:443/dns-query",
}

// BootstrapResolver is the process-wide, lazily-initialized resolver used
// to turn nameserver hostnames into socket addresses. It is used exactly
// once per non-literal nameserver URL. Its query cache also backs the
// forward handler's "already known to the bootstrap resolver" shortcut.
type BootstrapResolver struct {
	mu    sync.RWMutex
	group *Group

	// queries caches Query{name,type} -> *Lookup, keyed by "fqdn|qtype".
	queries *cache.Cache

	sf singleflight.Group
}

func queryKey(fqdn string, qtype uint16) string {
	return fmt.Sprintf("%s|%d", fqdn, qtype)
}

var (
	bootstrapOnce     sync.Once
	bootstrapInstance *BootstrapResolver
)

// Bootstrap returns the process-wide BootstrapResolver, creating it (with
// no members yet) on first access. Call Init or InitFromConfig to supply
// its members before first use; while it has no member group, ResolveHost
// uses the system resolver only.
func Bootstrap() *BootstrapResolver {
	bootstrapOnce.Do(func() {
		bootstrapInstance = &BootstrapResolver{
			queries: cache.New(10*time.Minute, 10*time.Minute),
		}
	})
	return bootstrapInstance
}

// Init replaces the resolver's member group. Per spec, this happens at
// most a small fixed number of times during startup; callers should not
// call Init from steady-state request handling.
func (b *BootstrapResolver) Init(group *Group) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.group = group
}

// InitFromConfig applies the three-tier initialization rule:
//  1. NameServerInfo entries with BootstrapDNS=true whose host is already
//     a literal IP.
//  2. Else, any configured nameserver URLs that are literal IPs without a
//     proxy.
//  3. Else, the system resolver configuration; if that's unusable, the
//     built-in DoH fallback pair.
func (b *BootstrapResolver) InitFromConfig(infos []*dnsurl.NameServerInfo, proxies map[string]*dnsurl.ProxyURL) error {
	var tier1, tier2 []*dnsurl.NameServerInfo
	for _, info := range infos {
		if !info.URL.Verified() {
			continue
		}
		if info.BootstrapDNS {
			tier1 = append(tier1, info)
		} else if info.Proxy == "" {
			tier2 = append(tier2, info)
		}
	}

	chosen := tier1
	if len(chosen) == 0 {
		chosen = tier2
	}

	if len(chosen) > 0 {
		members, err := buildMembers(chosen, proxies)
		if err != nil {
			return err
		}
		b.Init(&Group{Members: members})
		return nil
	}

	if systemResolverUsable() {
		// A nil group signals resolveUncached to fall through to the
		// system resolver directly.
		b.mu.Lock()
		b.group = nil
		b.mu.Unlock()
		return nil
	}

	var fallback []*dnsurl.NameServerInfo
	for _, s := range wellKnownBootstrap {
		u, err := dnsurl.ParseDnsUrl(s)
		if err != nil {
			return fmt.Errorf("resolver: bootstrap: bad built-in URL %q: %w", s, err)
		}
		fallback = append(fallback, &dnsurl.NameServerInfo{URL: u})
	}
	members, err := buildMembers(fallback, nil)
	if err != nil {
		return err
	}
	b.Init(&Group{Members: members})
	return nil
}

func buildMembers(infos []*dnsurl.NameServerInfo, proxies map[string]*dnsurl.ProxyURL) ([]*NameServer, error) {
	members := make([]*NameServer, 0, len(infos))
	for _, info := range infos {
		var proxy *dnsurl.ProxyURL
		if info.Proxy != "" && proxies != nil {
			proxy = proxies[info.Proxy]
		}
		ns, err := New(info, proxy, &upstream.Options{})
		if err != nil {
			return nil, err
		}
		members = append(members, ns)
	}
	return members, nil
}

// systemResolverUsable does a best-effort liveness probe of the system
// resolver configuration; failures fall through to the well-known
// fallback providers.
func systemResolverUsable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := net.DefaultResolver.LookupHost(ctx, "dns.google.")
	return err == nil
}

// Cached returns the locally-cached Lookup for q, if present. The forward
// handler uses this to short-circuit without touching the network and to
// set ctx.no_cache on the resulting response.
func (b *BootstrapResolver) Cached(q Query) (*Lookup, bool) {
	v, ok := b.queries.Get(queryKey(q.Name, q.Type))
	if !ok {
		return nil, false
	}
	return v.(*Lookup), true
}

// ResolveHost resolves host to its IPv4/IPv6 addresses, consulting the
// local Query→records cache first and populating it (with name forced to
// FQDN) on a cache miss. Concurrent callers resolving the same host
// collapse onto a single upstream lookup via singleflight.
func (b *BootstrapResolver) ResolveHost(host string) ([]netip.Addr, error) {
	fqdn := dns.Fqdn(host)

	v, err, _ := b.sf.Do(fqdn, func() (interface{}, error) {
		return b.resolveUncached(fqdn)
	})
	if err != nil {
		return nil, err
	}
	return v.([]netip.Addr), nil
}

func (b *BootstrapResolver) resolveUncached(fqdn string) ([]netip.Addr, error) {
	b.mu.RLock()
	group := b.group
	b.mu.RUnlock()

	if group == nil {
		ips, err := net.LookupIP(fqdn)
		if err != nil {
			return nil, fmt.Errorf("resolver: bootstrap: system resolver: %w", err)
		}
		addrs := make([]netip.Addr, 0, len(ips))
		for _, ip := range ips {
			if a, ok := netip.AddrFromSlice(ip); ok {
				addrs = append(addrs, a.Unmap())
			}
		}
		return addrs, nil
	}

	var addrs []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		lookup, ok := b.Cached(Query{Name: fqdn, Type: qtype})
		if !ok {
			var err error
			lookup, err = group.Lookup(fqdn, LookupOptions{RecordType: qtype})
			if err != nil {
				log.Debug("resolver: bootstrap: %s %s: %s", fqdn, dns.Type(qtype), err)
				continue
			}

			b.queries.Set(queryKey(fqdn, qtype), lookup, cache.DefaultExpiration)
		}

		for _, rr := range lookup.Records {
			switch rr := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(rr.A.To4()); ok {
					addrs = append(addrs, a)
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
					addrs = append(addrs, a)
				}
			}
		}
	}

	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolver: bootstrap: %s: no addresses found", fqdn)
	}
	return addrs, nil
}
