package handler

import (
	"strings"

	"github.com/miekg/dns"

	"github.com/feifeigood/swiftlink/fakeip"
)

// fakeIPTTL is the TTL attached to every fake-IP'd answer: short enough
// that clients re-resolve (and pick up a fresh mapping after eviction)
// quickly, matching the reference behavior.
const fakeIPTTL = 1

// FakeIPHandler answers A/AAAA queries for non-whitelisted names with a
// deterministic fake address, refuses SVCB/HTTPS for such names outright
// (clients should not upgrade to encrypted transports for fake-IP'd
// names), and delegates everything else.
type FakeIPHandler struct {
	dns *fakeip.FakeDNS
}

// NewFakeIPHandler wraps an allocator as a chain Handler.
func NewFakeIPHandler(d *fakeip.FakeDNS) *FakeIPHandler {
	return &FakeIPHandler{dns: d}
}

func (h *FakeIPHandler) Handle(ctx *DnsContext, req *dns.Msg, next Next) (*Lookup, error) {
	if len(req.Question) == 0 {
		return next(ctx, req)
	}
	q := req.Question[0]

	switch q.Qtype {
	case dns.TypeA, dns.TypeAAAA:
		if h.dns.ShouldSkip(strings.TrimSuffix(q.Name, ".")) {
			return next(ctx, req)
		}
		return h.answer(q)
	case dns.TypeSVCB, dns.TypeHTTPS:
		if h.dns.ShouldSkip(strings.TrimSuffix(q.Name, ".")) {
			return next(ctx, req)
		}
		return nil, &NoRecordsFound{ResponseCode: dns.RcodeNameError, Trusted: true}
	default:
		return next(ctx, req)
	}
}

func (h *FakeIPHandler) answer(q dns.Question) (*Lookup, error) {
	host := strings.TrimSuffix(q.Name, ".")

	wantV6 := q.Qtype == dns.TypeAAAA
	ip, err := h.dns.LookupIP(host, wantV6)
	if err != nil {
		return nil, err
	}

	hdr := dns.RR_Header{Name: q.Name, Class: dns.ClassINET, Ttl: fakeIPTTL}
	var rr dns.RR
	if wantV6 {
		hdr.Rrtype = dns.TypeAAAA
		rr = &dns.AAAA{Hdr: hdr, AAAA: ip}
	} else {
		hdr.Rrtype = dns.TypeA
		rr = &dns.A{Hdr: hdr, A: ip}
	}

	return &Lookup{Records: []dns.RR{rr}}, nil
}
