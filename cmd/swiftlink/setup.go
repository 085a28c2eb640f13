package main

import (
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"

	"github.com/AdguardTeam/golibs/log"

	"github.com/feifeigood/swiftlink/config"
	"github.com/feifeigood/swiftlink/dnsurl"
	"github.com/feifeigood/swiftlink/fakeip"
	"github.com/feifeigood/swiftlink/handler"
	"github.com/feifeigood/swiftlink/internal/logging"
	"github.com/feifeigood/swiftlink/resolver"
	"github.com/feifeigood/swiftlink/upstream"
)

// fakeIPPersistFile is the store filename derived from the configuration
// directory when fake_ip_persist is set; the reference carries only a
// boolean flag, not an explicit path.
const fakeIPPersistFile = "fakeip.db"

// setupLogging applies LogLevel/verbose and, when LogFile is configured,
// redirects golibs/log's output through a size-bounded rotating file.
// The returned func closes that file (a no-op when none was opened).
func setupLogging(cfg *config.Config, verbose bool) func() {
	if verbose || strings.ToLower(cfg.LogLevel) == "debug" {
		log.SetLevel(log.DEBUG)
	}

	if cfg.LogFile == "" {
		return func() {}
	}

	rf, err := logging.Open(cfg.LogFile, cfg.ResolvedLogMaxFileSize(), cfg.ResolvedLogMaxFiles(), cfg.ResolvedLogFileMode())
	if err != nil {
		log.Error("swiftlink: opening log file %s: %s, logging to stderr", cfg.LogFile, err)
		return func() {}
	}

	log.SetOutput(rf)
	return func() { _ = rf.Close() }
}

// buildFakeDNS constructs the fake-IP allocator from the dns table,
// deriving a persistence path alongside the configuration file when
// fake_ip_persist is set.
func buildFakeDNS(cfg *config.Config) (*fakeip.FakeDNS, error) {
	v4, v6, err := cfg.DNS.ParsedFakeIPRanges()
	if err != nil {
		return nil, err
	}

	fcfg := fakeip.Config{
		Range4: v4,
		Range6: v6,
		Size:   cfg.DNS.FakeIPSize,
	}
	if cfg.DNS.FakeIPPersist {
		fcfg.PersistPath = persistPathAlongside(cfg.SourcePath())
	}

	return fakeip.NewFakeDNS(fcfg), nil
}

func persistPathAlongside(confPath string) string {
	if confPath == "" {
		return fakeIPPersistFile
	}
	return filepath.Join(filepath.Dir(confPath), fakeIPPersistFile)
}

// buildResolverGroup initializes the process-wide bootstrap resolver from
// the configured nameservers and builds the main lookup group every
// forwarded query races against. Any nameserver whose host is not yet a
// literal IP is resolved through the bootstrap resolver first, since
// resolver.New requires a verified (literal-IP) URL.
func buildResolverGroup(cfg *config.Config) (*resolver.Group, error) {
	infos, err := cfg.DNS.ParsedServers()
	if err != nil {
		return nil, err
	}
	proxies, err := cfg.DNS.ParsedProxies()
	if err != nil {
		return nil, err
	}
	subnet, err := cfg.DNS.ParsedEDNSClientSubnet()
	if err != nil {
		return nil, err
	}

	if err := resolver.Bootstrap().InitFromConfig(infos, proxies); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	members := make([]*resolver.NameServer, 0, len(infos))
	for _, info := range infos {
		resolved, err := verifiedInfo(info)
		if err != nil {
			return nil, err
		}
		if subnet.IsValid() && !resolved.EDNSClientSubnet.IsValid() {
			copied := *resolved
			copied.EDNSClientSubnet = subnet
			resolved = &copied
		}

		var proxy *dnsurl.ProxyURL
		if resolved.Proxy != "" {
			proxy = proxies[resolved.Proxy]
		}

		ns, err := resolver.New(resolved, proxy, &upstream.Options{})
		if err != nil {
			return nil, fmt.Errorf("building nameserver %s: %w", resolved.URL, err)
		}
		members = append(members, ns)
	}

	return &resolver.Group{Members: members}, nil
}

// verifiedInfo returns info unchanged if its URL is already a literal IP,
// otherwise a copy with Host substituted by a bootstrap-resolved address.
func verifiedInfo(info *dnsurl.NameServerInfo) (*dnsurl.NameServerInfo, error) {
	if info.URL.Verified() {
		return info, nil
	}

	addrs, err := resolver.Bootstrap().ResolveHost(info.URL.Host)
	if err != nil {
		return nil, fmt.Errorf("resolving nameserver host %s: %w", info.URL.Host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolving nameserver host %s: no addresses", info.URL.Host)
	}

	resolved := *info.URL
	resolved.Host = pickAddr(addrs).String()

	copied := *info
	copied.URL = &resolved
	return &copied, nil
}

// pickAddr favors an IPv4 address, falling back to the first address of
// any family.
func pickAddr(addrs []netip.Addr) netip.Addr {
	for _, a := range addrs {
		if a.Is4() {
			return a
		}
	}
	return addrs[0]
}

// buildHandlerChain wires the fake-IP interceptor, the bogus-NXDOMAIN
// filter, and the upstream forwarder into the order every incoming query
// runs through. BogusNXDomainHandler must precede ForwardHandler in the
// list: it inspects the answer its next() call produces, and
// ForwardHandler never calls its own next, so anything placed after it
// would never run.
func buildHandlerChain(cfg *config.Config, fakeDNS *fakeip.FakeDNS, group *resolver.Group) (*handler.Chain, error) {
	nets, err := cfg.ParsedBogusNXDomainNets()
	if err != nil {
		return nil, err
	}

	links := make([]handler.Handler, 0, 3)
	if cfg.DNS.FakeIP {
		links = append(links, handler.NewFakeIPHandler(fakeDNS))
	}
	links = append(links,
		handler.NewBogusNXDomainHandler(nets),
		handler.NewForwardHandler(resolver.Bootstrap(), group),
	)

	return handler.NewChain(links...), nil
}
