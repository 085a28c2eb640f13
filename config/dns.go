package config

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/feifeigood/swiftlink/dnsurl"
	"github.com/feifeigood/swiftlink/netcfg"
)

// DNSConfig is the `dns` TOML table: nameserver list, fake-IP sizing,
// and the named proxy pool upstream transports may dial through.
type DNSConfig struct {
	Enable bool            `toml:"enable"`
	Listen netcfg.Listener `toml:"listen"`

	// Servers holds raw nameserver lines; parse with ParsedServers.
	Servers []string `toml:"nameserver"`

	// EDNSClientSubnet is the global client-subnet override, applied to
	// any nameserver that doesn't set its own via "--subnet".
	EDNSClientSubnet string `toml:"edns_client_subnet"`

	FakeIP        bool   `toml:"fake_ip"`
	FakeIPSize    int    `toml:"fake_ip_size"`
	FakeIPPersist bool   `toml:"fake_ip_persist"`
	FakeIPRange   string `toml:"fake_ip_range"`
	FakeIP6Range  string `toml:"fake_ip6_range"`

	// Proxies maps a proxy name to its "socks5://..."/"http://..." URL,
	// referenced by a nameserver line's "--proxy <name>".
	Proxies map[string]string `toml:"proxy_servers"`
}

// ParsedServers parses every configured nameserver line.
func (d *DNSConfig) ParsedServers() ([]*dnsurl.NameServerInfo, error) {
	infos := make([]*dnsurl.NameServerInfo, 0, len(d.Servers))
	for _, line := range d.Servers {
		info, err := dnsurl.ParseNameServerLine(line)
		if err != nil {
			return nil, fmt.Errorf("config: dns.nameserver: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ParsedProxies parses every configured proxy entry into a name→ProxyURL
// map.
func (d *DNSConfig) ParsedProxies() (map[string]*dnsurl.ProxyURL, error) {
	proxies := make(map[string]*dnsurl.ProxyURL, len(d.Proxies))
	for name, raw := range d.Proxies {
		p, err := dnsurl.ParseProxyURL(raw)
		if err != nil {
			return nil, fmt.Errorf("config: dns.proxy_servers[%s]: %w", name, err)
		}
		proxies[name] = p
	}
	return proxies, nil
}

// ParsedEDNSClientSubnet parses EDNSClientSubnet, returning the zero
// netip.Prefix when it's unset.
func (d *DNSConfig) ParsedEDNSClientSubnet() (netip.Prefix, error) {
	if d.EDNSClientSubnet == "" {
		return netip.Prefix{}, nil
	}
	prefix, err := netip.ParsePrefix(d.EDNSClientSubnet)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("config: dns.edns_client_subnet: %w", err)
	}
	return prefix, nil
}

// ParsedFakeIPRanges parses FakeIPRange/FakeIP6Range, substituting the
// fake-IP package's own defaults (198.18.0.0/15, 2001:db8::/32) when
// either is unset.
func (d *DNSConfig) ParsedFakeIPRanges() (v4, v6 *net.IPNet, err error) {
	v4, err = parseCIDROrDefault(d.FakeIPRange, "198.18.0.0/15")
	if err != nil {
		return nil, nil, fmt.Errorf("config: dns.fake_ip_range: %w", err)
	}

	v6, err = parseCIDROrDefault(d.FakeIP6Range, "2001:db8::/32")
	if err != nil {
		return nil, nil, fmt.Errorf("config: dns.fake_ip6_range: %w", err)
	}

	return v4, v6, nil
}

func parseCIDROrDefault(cidr, fallback string) (*net.IPNet, error) {
	if cidr == "" {
		cidr = fallback
	}
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, err
	}
	return ipnet, nil
}
