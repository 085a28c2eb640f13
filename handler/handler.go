// Package handler implements the ordered, short-circuiting lookup
// handler chain: fake-IP interception, forward-to-upstream, and terminal
// NXDOMAIN synthesis.
package handler

import (
	"github.com/miekg/dns"
)

// Config is the read-only configuration a DnsContext carries through the
// chain. It is never mutated by a handler.
type Config struct {
	// TrustedZones lists zone names. No handler in this package reads it:
	// every NoRecordsFound the handlers synthesize is marked trusted
	// regardless of zone.
	TrustedZones []string
}

// DnsContext carries per-request mutable state through the handler
// chain: whether the response came from a cache (so the server shouldn't
// re-cache it) and whether this is a background (non-client-initiated)
// lookup.
type DnsContext struct {
	Config *Config

	NoCache    bool
	Background bool
}

// Lookup is a resolved answer. Empty lookups (no records) are a valid,
// non-error outcome at every stage of the chain.
type Lookup struct {
	Records []dns.RR
}

// Empty reports whether l carries no records.
func (l *Lookup) Empty() bool { return l == nil || len(l.Records) == 0 }

// NoRecordsFound is the terminal error the chain raises when no handler
// produced an answer. SOA, when non-nil, is attached to the NXDOMAIN
// response the server front end synthesizes from it.
type NoRecordsFound struct {
	SOA          *dns.SOA
	ResponseCode int
	Trusted      bool
}

func (e *NoRecordsFound) Error() string {
	return "handler: no records found"
}

// Handler is one link in the chain. It may answer directly, delegate to
// next, or return an error (typically *NoRecordsFound from the terminal
// handler). Implementations must not mutate req.
type Handler interface {
	Handle(ctx *DnsContext, req *dns.Msg, next Next) (*Lookup, error)
}

// Next invokes the remainder of the chain after the current handler.
type Next func(ctx *DnsContext, req *dns.Msg) (*Lookup, error)

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx *DnsContext, req *dns.Msg, next Next) (*Lookup, error)

func (f HandlerFunc) Handle(ctx *DnsContext, req *dns.Msg, next Next) (*Lookup, error) {
	return f(ctx, req, next)
}

// Chain is an ordered, immutable list of handlers. Run (via runFrom) hands
// each handler a Next that invokes the next link, terminating in Terminal.
type Chain struct {
	handlers []Handler
}

// NewChain builds an immutable chain from handlers in delegation order.
// The canonical construction is NewChain(NewFakeIPHandler(...),
// NewForwardHandler(...)) — Terminal is implicit at the end.
func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: handlers}
}

// Run invokes the chain from its first handler.
func (c *Chain) Run(ctx *DnsContext, req *dns.Msg) (*Lookup, error) {
	return c.runFrom(0, ctx, req)
}

func (c *Chain) runFrom(i int, ctx *DnsContext, req *dns.Msg) (*Lookup, error) {
	if i >= len(c.handlers) {
		return Terminal(ctx, req)
	}
	h := c.handlers[i]
	next := func(ctx *DnsContext, req *dns.Msg) (*Lookup, error) {
		return c.runFrom(i+1, ctx, req)
	}
	return h.Handle(ctx, req, next)
}

// Terminal synthesizes the NoRecordsFound error the chain raises when
// every handler delegated without answering.
func Terminal(ctx *DnsContext, req *dns.Msg) (*Lookup, error) {
	var soa *dns.SOA
	if len(req.Question) > 0 {
		soa = canonicalSOA(req.Question[0].Name)
	}
	return nil, &NoRecordsFound{SOA: soa, ResponseCode: dns.RcodeServerFailure, Trusted: true}
}

// canonicalSOA builds a minimal, canonical-looking SOA for name's zone,
// used only to populate the authority section of a synthesized NXDOMAIN.
func canonicalSOA(name string) *dns.SOA {
	return &dns.SOA{
		Hdr:     dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 60},
		Ns:      "a.root-servers.net.",
		Mbox:    "nstld.verisign-grs.com.",
		Serial:  1,
		Refresh: 1800,
		Retry:   900,
		Expire:  604800,
		Minttl:  60,
	}
}
