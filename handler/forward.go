package handler

import (
	"github.com/miekg/dns"

	"github.com/feifeigood/swiftlink/resolver"
)

// ForwardHandler checks the bootstrap resolver's local query cache before
// forwarding to the configured upstream group, matching the fast path a
// nameserver hostname resolution may have already populated.
type ForwardHandler struct {
	bootstrap *resolver.BootstrapResolver
	group     *resolver.Group
}

// NewForwardHandler wires a forward handler against group, consulting
// bootstrap's local cache first.
func NewForwardHandler(bootstrap *resolver.BootstrapResolver, group *resolver.Group) *ForwardHandler {
	return &ForwardHandler{bootstrap: bootstrap, group: group}
}

func (h *ForwardHandler) Handle(ctx *DnsContext, req *dns.Msg, next Next) (*Lookup, error) {
	if len(req.Question) == 0 {
		return next(ctx, req)
	}
	q := req.Question[0]

	if cached, ok := h.bootstrap.Cached(resolver.Query{Name: q.Name, Type: q.Qtype}); ok {
		ctx.NoCache = true
		return &Lookup{Records: cached.Records}, nil
	}

	lookup, err := h.group.Lookup(q.Name, resolver.LookupOptions{RecordType: q.Qtype})
	if err != nil {
		return nil, err
	}
	return &Lookup{Records: lookup.Records}, nil
}
