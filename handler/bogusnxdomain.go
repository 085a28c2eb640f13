package handler

import (
	"net"

	"github.com/AdguardTeam/golibs/netutil"
	"github.com/miekg/dns"
)

// BogusNXDomainHandler runs after the rest of the chain has produced an
// answer and turns it into NXDOMAIN if any A/AAAA record in it falls
// inside one of Nets — the classic ISP-hijack-response filter. It never
// intercepts a query itself; it only inspects what the chain already
// resolved, so fake-IP answers (which never fall in a real-world bogus
// subnet) pass through untouched.
type BogusNXDomainHandler struct {
	Nets []*net.IPNet
}

// NewBogusNXDomainHandler builds a handler that rejects answers
// containing an address in nets. A nil/empty nets makes the handler a
// no-op passthrough.
func NewBogusNXDomainHandler(nets []*net.IPNet) *BogusNXDomainHandler {
	return &BogusNXDomainHandler{Nets: nets}
}

func (h *BogusNXDomainHandler) Handle(ctx *DnsContext, req *dns.Msg, next Next) (*Lookup, error) {
	lookup, err := next(ctx, req)
	if err != nil || len(h.Nets) == 0 || len(req.Question) == 0 {
		return lookup, err
	}

	qt := req.Question[0].Qtype
	if qt != dns.TypeA && qt != dns.TypeAAAA {
		return lookup, nil
	}

	for _, rr := range lookup.Records {
		if ip := ipFromRR(rr); ip != nil && h.containsIP(ip) {
			return nil, &NoRecordsFound{ResponseCode: dns.RcodeNameError, Trusted: true}
		}
	}

	return lookup, nil
}

func (h *BogusNXDomainHandler) containsIP(ip net.IP) bool {
	if netutil.ValidateIP(ip) != nil {
		return false
	}
	for _, n := range h.Nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ipFromRR extracts the address an A/AAAA record carries, or nil for any
// other record type.
func ipFromRR(rr dns.RR) net.IP {
	switch rr := rr.(type) {
	case *dns.A:
		return rr.A
	case *dns.AAAA:
		return rr.AAAA
	default:
		return nil
	}
}
