package dnsurl

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/AdguardTeam/golibs/log"
)

// NameServerInfo is a DNS URL plus the optional attributes the nameserver
// line syntax layers on top of it: bootstrap eligibility, a named proxy
// reference, an EDNS client-subnet override, and the check-edns flag.
type NameServerInfo struct {
	URL *DnsUrl

	CheckEDNS      bool
	BootstrapDNS   bool
	Proxy          string
	EDNSClientSubnet netip.Prefix
}

// ParseNameServerLine parses one nameserver config line:
//
//	<dns-url> [--bootstrap-dns] [--host-name <name>|-] [--check-edns] [--proxy <name>] [--subnet <ip/prefix>]
func ParseNameServerLine(line string) (*NameServerInfo, error) {
	fields := splitOptions(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty nameserver line", ErrInvalidDNSURL)
	}

	u, err := ParseDnsUrl(fields[0])
	if err != nil {
		return nil, err
	}

	info := &NameServerInfo{URL: u}

	for i := 1; i < len(fields); i++ {
		part := fields[i]
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, "-") {
			log.Debug("dnsurl: ignoring unexpected token %q in nameserver line", part)
			continue
		}

		switch strings.TrimSuffix(part, ":") {
		case "-bootstrap-dns", "--bootstrap-dns":
			info.BootstrapDNS = true
		case "-host-name", "--host-name":
			i++
			if i >= len(fields) {
				return nil, fmt.Errorf("%w: --host-name requires an argument", ErrInvalidDNSURL)
			}
			hostName := fields[i]
			if hostName == "-" {
				u.SetSNIOff(true)
			} else {
				u.SetHost(hostName)
			}
		case "-check-edns", "--check-edns":
			info.CheckEDNS = true
		case "-proxy", "--proxy":
			i++
			if i >= len(fields) {
				return nil, fmt.Errorf("%w: --proxy requires an argument", ErrInvalidDNSURL)
			}
			info.Proxy = fields[i]
		case "-subnet", "--subnet":
			i++
			if i >= len(fields) {
				return nil, fmt.Errorf("%w: --subnet requires an argument", ErrInvalidDNSURL)
			}
			prefix, err := netip.ParsePrefix(fields[i])
			if err != nil {
				log.Warn("dnsurl: ignoring malformed --subnet value %q: %s", fields[i], err)
				continue
			}
			info.EDNSClientSubnet = prefix
		default:
			log.Warn("dnsurl: unknown nameserver option %q", part)
		}
	}

	return info, nil
}

// splitOptions splits s on runs of whitespace, matching the reference
// implementation's parse::split_options(s, ' ').
func splitOptions(s string) []string {
	return strings.Fields(s)
}
