package fakeip

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
)

// FakeDNS hands out deterministic, cycling addresses from a pair of IPv4
// and IPv6 ranges for domains that are not on the whitelist trie, and
// remembers the mapping so later lookups of the same domain return the
// same address until the range cycles and the mapping is evicted.
//
// Every lookup allocates both an IPv4 and an IPv6 address for the host in
// lockstep, even when only one family was requested: reverse-lookup
// consistency depends on both directions existing together.
//
// The whole allocation sequence (existence probe, gen, store write) is
// serialized by mu: the fake-IP store's own internal locking only protects
// concurrent direct Store access, not the multi-step allocation algorithm.
type FakeDNS struct {
	mu sync.Mutex

	store Store

	ipnet4 *net.IPNet
	ipnet6 *net.IPNet
	total  uint64
	offset uint64

	whitelist *DomainTrie[struct{}]
}

// Config configures a FakeDNS allocator. Range4 and Range6 both default to
// the well-known ranges used by the reference implementation
// (198.18.0.0/15 and 2001:db8::/32) when left nil.
type Config struct {
	// Range4 is the IPv4 range addresses are allocated from. The total
	// number of allocatable slots is derived from this range alone.
	Range4 *net.IPNet

	// Range6 is the IPv6 range addresses are allocated from, cycled with
	// the same offset as Range4.
	Range6 *net.IPNet

	// Size bounds the number of host entries kept in memory when no
	// PersistPath is given, or the LRU fallback size used if the
	// persistent store fails to open.
	Size int

	// PersistPath, if non-empty, makes the store durable across restarts
	// (a bbolt database at this path). Empty means memory-only.
	PersistPath string

	// Whitelist holds the domains that must never receive a fake IP;
	// ShouldSkip consults it.
	Whitelist *DomainTrie[struct{}]
}

func defaultRange4() *net.IPNet {
	_, ipnet, _ := net.ParseCIDR("198.18.0.0/15")
	return ipnet
}

func defaultRange6() *net.IPNet {
	_, ipnet, _ := net.ParseCIDR("2001:db8::/32")
	return ipnet
}

// rangeSize computes 2^(hostbits) - 2, reserving the network and gateway
// addresses, matching gen_next_ip's host-count formula.
func rangeSize(ipnet *net.IPNet) uint64 {
	ones, bits := ipnet.Mask.Size()
	hostbits := bits - ones
	if hostbits <= 1 {
		return 0
	}
	if hostbits >= 64 {
		// Cap well below the real address-space size; no real deployment
		// allocates from ranges this large and offset is a uint64 anyway.
		return 1<<63 - 1
	}
	return (uint64(1) << hostbits) - 2
}

// NewFakeDNS builds a FakeDNS allocator from cfg. It panics if the
// configured IPv4 range cannot hold at least one allocatable address,
// matching the constructor-time invariant check of the system this
// allocator is modeled on.
func NewFakeDNS(cfg Config) *FakeDNS {
	ipnet4 := cfg.Range4
	if ipnet4 == nil {
		ipnet4 = defaultRange4()
	}
	ipnet6 := cfg.Range6
	if ipnet6 == nil {
		ipnet6 = defaultRange6()
	}

	total := rangeSize(ipnet4)
	if total == 0 {
		panic(fmt.Sprintf("fakeip: range %s is too small to allocate from", ipnet4))
	}

	size := cfg.Size
	if size <= 0 {
		size = 4096
	}

	var store Store
	if cfg.PersistPath != "" {
		store = openPersistentOrFallback(cfg.PersistPath, size)
	} else {
		store = NewMemoryStore(size)
	}

	whitelist := cfg.Whitelist
	if whitelist == nil {
		whitelist = NewDomainTrie[struct{}]()
	}

	return &FakeDNS{
		store:     store,
		ipnet4:    ipnet4,
		ipnet6:    ipnet6,
		total:     total,
		whitelist: whitelist,
	}
}

// ShouldSkip reports whether host is on the whitelist and must never be
// given a fake IP.
func (f *FakeDNS) ShouldSkip(host string) bool {
	_, ok := f.whitelist.Search(host)
	return ok
}

// IsFakeIP reports whether ip falls within the configured v4 or v6 range.
func (f *FakeDNS) IsFakeIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return f.ipnet4.Contains(v4)
	}
	return f.ipnet6.Contains(ip)
}

// LookupHost returns the host previously mapped to ip, if any.
func (f *FakeDNS) LookupHost(ip net.IP) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.store.Get(ip.String(), ip.To4() == nil)
}

// LookupIP returns the fake address of the requested family for host,
// allocating a fresh pair of addresses (v4 and v6 together) unless host is
// already mapped or is whitelisted.
func (f *FakeDNS) LookupIP(host string, wantV6 bool) (net.IP, error) {
	if f.ShouldSkip(host) {
		return nil, fmt.Errorf("fakeip: %q is whitelisted, not eligible for a fake address", host)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.store.Get(host, wantV6); ok {
		if ip := net.ParseIP(existing); ip != nil {
			return ip, nil
		}
	}

	ip4, ip6 := f.allocateLocked(host)
	if wantV6 {
		return ip6, nil
	}
	return ip4, nil
}

// allocateLocked mints a fresh (ip4, ip6) pair for host, advancing offset
// past any pair already occupied. If a full cycle finds nothing free, it
// forces eviction of host's own stale entries at the next slot and
// reuses it. Caller holds mu.
func (f *FakeDNS) allocateLocked(host string) (net.IP, net.IP) {
	current := f.offset

	for {
		ip4 := genIP(f.ipnet4, f.offset)
		ip6 := genIP(f.ipnet6, f.offset)

		if !f.store.Exists(ip4) && !f.store.Exists(ip6) {
			break
		}

		f.offset = (f.offset + 1) % f.total
		if f.offset == current {
			f.offset = (f.offset + 1) % f.total
			ip4 = genIP(f.ipnet4, f.offset)
			ip6 = genIP(f.ipnet6, f.offset)
			_ = f.store.Delete(host, ip4)
			_ = f.store.Delete(host, ip6)
			break
		}
	}

	ip4 := genIP(f.ipnet4, f.offset)
	ip6 := genIP(f.ipnet6, f.offset)

	_ = f.store.Put(host, ip4)
	_ = f.store.Put(host, ip6)

	return ip4, ip6
}

// genIP computes network(ipnet) + 2 + offset. It does not wrap: the
// caller keeps offset below the range size so the result stays inside
// ipnet. Address 0 is the network address and address 1 is reserved for
// the gateway, so allocation starts at +2.
func genIP(ipnet *net.IPNet, offset uint64) net.IP {
	base := ipnet.IP
	if v4 := base.To4(); v4 != nil {
		n := binary.BigEndian.Uint32(v4)
		n += uint32(2 + offset)
		out := make(net.IP, net.IPv4len)
		binary.BigEndian.PutUint32(out, n)
		return out
	}

	v6 := base.To16()
	hi := binary.BigEndian.Uint64(v6[:8])
	lo := binary.BigEndian.Uint64(v6[8:])

	sum, carry := addWithCarry(lo, 2+offset)
	lo = sum
	hi += carry

	out := make(net.IP, net.IPv6len)
	binary.BigEndian.PutUint64(out[:8], hi)
	binary.BigEndian.PutUint64(out[8:], lo)
	return out
}

func addWithCarry(a, b uint64) (sum uint64, carry uint64) {
	sum = a + b
	if sum < a {
		carry = 1
	}
	return sum, carry
}

// Close releases the backing store's resources.
func (f *FakeDNS) Close() error {
	return f.store.Close()
}
