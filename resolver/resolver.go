// Package resolver turns verified and unverified nameserver descriptors
// into racing groups of live upstream clients, and resolves the
// nameserver hostnames themselves through a lazily-initialized bootstrap
// resolver.
package resolver

import (
	"time"

	"github.com/miekg/dns"
)

// Query identifies a single question: a fully-qualified name plus record
// type, the key the bootstrap resolver's cache and the handler chain's
// "already known" check use.
type Query struct {
	Name string
	Type uint16
}

// Lookup is a resolved answer bound to a validity deadline.
type Lookup struct {
	Records    []dns.RR
	ValidUntil time.Time
}

// Empty reports whether the lookup carries no records.
func (l *Lookup) Empty() bool { return l == nil || len(l.Records) == 0 }

// MaxTTL is the ceiling applied to every Lookup's validity window, per
// spec.
const MaxTTL = 86400 * time.Second

// NewLookup wraps resp's answer section in a Lookup whose deadline is
// now + min(answer TTLs, MaxTTL).
func NewLookup(now time.Time, resp *dns.Msg) *Lookup {
	minTTL := uint32(MaxTTL / time.Second)
	for _, rr := range resp.Answer {
		if ttl := rr.Header().Ttl; ttl < minTTL {
			minTTL = ttl
		}
	}
	return &Lookup{
		Records:    resp.Answer,
		ValidUntil: now.Add(time.Duration(minTTL) * time.Second),
	}
}

// LookupOptions parameterizes a single upstream exchange.
type LookupOptions struct {
	RecordType   uint16
	ClientSubnet *dns.EDNS0_SUBNET
}
