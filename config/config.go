// Package config decodes the TOML configuration file into the
// structures the rest of the gateway is built from: top-level process
// settings, the DNS subsystem's nameserver/fake-IP/proxy settings, the
// credential store, and routing rules.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/feifeigood/swiftlink/internal/auth"
	"github.com/feifeigood/swiftlink/netcfg"
)

// defaultDNSPort is substituted when DNS.Listen carries no explicit port.
const defaultDNSPort = 53

// defaultLogMaxFileSize matches the reference's 128 KiB default.
const defaultLogMaxFileSize = 128 * 1024

// defaultLogMaxFiles matches the reference's default rotation count.
const defaultLogMaxFiles = 2

// defaultLogFileMode matches the reference's 0640 default.
const defaultLogFileMode = 0o640

// Config is the top-level, process-wide configuration decoded from a
// TOML file.
type Config struct {
	Port          uint16 `toml:"port"`
	SocksPort     uint16 `toml:"socks_port"`
	InterfaceName string `toml:"interface_name"`
	IPv6First     bool   `toml:"ipv6_first"`

	LogLevel       string `toml:"log_level"`
	LogFile        string `toml:"log_file"`
	LogFileMode    uint32 `toml:"log_file_mode"`
	LogFilter      string `toml:"log_filter"`
	LogMaxFileSize int64  `toml:"log_max_file_size"`
	LogFiles       uint64 `toml:"log_files"`

	// Authentication lists "user:pass" credential lines. A nil/empty
	// list means no credential store (SOCKS ingress requires NONE).
	Authentication []string `toml:"authentication"`

	// Rules lists "type,payload,target[,params...]" routing lines.
	Rules []string `toml:"rules"`

	// BogusNXDomain lists CIDR subnets; an answer containing an A/AAAA
	// record inside one of them is rewritten to NXDOMAIN.
	BogusNXDomain []string `toml:"bogus_nxdomain"`

	DNS DNSConfig `toml:"dns"`

	sourcePath string
}

// LoadFromFile reads and decodes the TOML configuration at path.
func LoadFromFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: configuration file not found: %w", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := &Config{}
	if _, err := toml.Decode(string(contents), cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	cfg.sourcePath = path

	return cfg, nil
}

// SourcePath returns the path the configuration was loaded from, or
// empty if it wasn't loaded from a file.
func (c *Config) SourcePath() string { return c.sourcePath }

// Authenticator builds the credential store Authentication describes,
// or nil when no credentials are configured.
func (c *Config) Authenticator() (*auth.Authenticator, error) {
	if len(c.Authentication) == 0 {
		return nil, nil
	}

	users := make([]auth.User, 0, len(c.Authentication))
	for _, line := range c.Authentication {
		u, err := auth.ParseUser(line)
		if err != nil {
			return nil, fmt.Errorf("config: authentication: %w", err)
		}
		users = append(users, u)
	}

	return auth.New(users), nil
}

// Rule is one parsed routing line: "type,payload,target[,params...]".
type Rule struct {
	Type    string
	Payload string
	Target  string
	Params  []string
}

// ParseRule parses one routing rule line. It accepts 2 fields
// (type,target — payload defaults to empty), 3 fields (type,payload,
// target), or 4+ fields (type,payload,target,params...).
func ParseRule(s string) (Rule, error) {
	parts := strings.Split(s, ",")
	switch n := len(parts); {
	case n == 2:
		return Rule{Type: parts[0], Target: parts[1]}, nil
	case n == 3:
		return Rule{Type: parts[0], Payload: parts[1], Target: parts[2]}, nil
	case n >= 4:
		return Rule{Type: parts[0], Payload: parts[1], Target: parts[2], Params: parts[3:]}, nil
	default:
		return Rule{}, fmt.Errorf("config: invalid rule: %q", s)
	}
}

// ParsedRules parses every configured rule line, failing on the first
// malformed one.
func (c *Config) ParsedRules() ([]Rule, error) {
	rules := make([]Rule, 0, len(c.Rules))
	for _, line := range c.Rules {
		r, err := ParseRule(line)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ResolvedLogMaxFileSize returns LogMaxFileSize, or the 128 KiB default
// when unset.
func (c *Config) ResolvedLogMaxFileSize() int64 {
	if c.LogMaxFileSize <= 0 {
		return defaultLogMaxFileSize
	}
	return c.LogMaxFileSize
}

// ResolvedLogMaxFiles returns LogFiles, or the default rotation count
// of 2 when unset.
func (c *Config) ResolvedLogMaxFiles() uint64 {
	if c.LogFiles == 0 {
		return defaultLogMaxFiles
	}
	return c.LogFiles
}

// ResolvedLogFileMode returns LogFileMode, or 0640 when unset.
func (c *Config) ResolvedLogFileMode() os.FileMode {
	if c.LogFileMode == 0 {
		return defaultLogFileMode
	}
	return os.FileMode(c.LogFileMode)
}

// ParsedBogusNXDomainNets parses every configured BogusNXDomain entry as
// a CIDR subnet, failing on the first malformed one.
func (c *Config) ParsedBogusNXDomainNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.BogusNXDomain))
	for _, s := range c.BogusNXDomain {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("config: bogus_nxdomain: %q: %w", s, err)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

// ResolvedDNSListener returns DNS.Listen, substituting port 53 when it
// is unset, matching DnsConfig.listen()'s "if port <= 0, use 53".
func (c *Config) ResolvedDNSListener() netcfg.Listener {
	l := c.DNS.Listen
	if l.Addr == nil {
		l.Addr = &net.TCPAddr{IP: net.IPv4zero, Port: defaultDNSPort}
		return l
	}
	if l.Addr.Port <= 0 {
		addr := *l.Addr
		addr.Port = defaultDNSPort
		l.Addr = &addr
	}
	return l
}
