package fakeip

import (
	"fmt"
	"net"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoryStore is the in-memory fake-IP store: two bijective host<->IP maps
// (v4, v6) plus an LRU of hosts bounded by size. It is safe for concurrent
// use; every operation is serialized by a single mutex, matching the
// "short critical section, uncontended allocation" design of the fake-IP
// allocator.
type memoryStore struct {
	mu sync.Mutex

	host2ip4 map[string]net.IP
	ip2host4 map[string]string

	host2ip6 map[string]net.IP
	ip2host6 map[string]string

	hostLRU *lru.Cache[string, struct{}]
}

// NewMemoryStore returns a Store bounded to at most size distinct hosts.
// When the LRU evicts a host, both its v4 and v6 mappings are dropped.
func NewMemoryStore(size int) Store {
	s := &memoryStore{
		host2ip4: make(map[string]net.IP, size),
		ip2host4: make(map[string]string, size),
		host2ip6: make(map[string]net.IP, size),
		ip2host6: make(map[string]string, size),
	}

	c, err := lru.NewWithEvict(size, func(host string, _ struct{}) {
		s.dropHostLocked(host)
	})
	if err != nil {
		// size <= 0 is the only failure mode, and callers are expected to
		// have validated it already (see FakeDNS construction).
		panic(fmt.Sprintf("fakeip: invalid memory store size %d: %v", size, err))
	}
	s.hostLRU = c

	return s
}

// dropHostLocked removes host from both bijective maps. Caller holds mu.
func (s *memoryStore) dropHostLocked(host string) {
	if ip, ok := s.host2ip4[host]; ok {
		delete(s.host2ip4, host)
		delete(s.ip2host4, ip.String())
	}
	if ip, ok := s.host2ip6[host]; ok {
		delete(s.host2ip6, host)
		delete(s.ip2host6, ip.String())
	}
}

func (s *memoryStore) Get(key string, ipv6 bool) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ip := net.ParseIP(key); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			if host, ok := s.ip2host4[ip4.String()]; ok {
				s.hostLRU.Get(host)
				return host, true
			}
			return "", false
		}

		if host, ok := s.ip2host6[ip.String()]; ok {
			s.hostLRU.Get(host)
			return host, true
		}
		return "", false
	}

	// key is a host name.
	if ipv6 {
		if ip, ok := s.host2ip6[key]; ok {
			s.hostLRU.Get(key)
			return ip.String(), true
		}
		return "", false
	}

	if ip, ok := s.host2ip4[key]; ok {
		s.hostLRU.Get(key)
		return ip.String(), true
	}

	return "", false
}

// Put records host -> ip (and ip -> host), evicting any pre-existing
// pair that conflicts on either side of the new mapping first (matching
// bimap insert semantics: a left or right collision silently drops the
// stale pair before the new one is recorded).
func (s *memoryStore) Put(host string, ip net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The eviction callback passed to NewWithEvict calls dropHostLocked
	// synchronously for whatever host falls out of the LRU here.
	s.hostLRU.Add(host, struct{}{})

	if ip4 := ip.To4(); ip4 != nil {
		ipStr := ip4.String()
		if oldIP, ok := s.host2ip4[host]; ok {
			delete(s.ip2host4, oldIP.String())
		}
		if oldHost, ok := s.ip2host4[ipStr]; ok {
			delete(s.host2ip4, oldHost)
		}
		s.host2ip4[host] = ip4
		s.ip2host4[ipStr] = host
		return nil
	}

	ipStr := ip.String()
	if oldIP, ok := s.host2ip6[host]; ok {
		delete(s.ip2host6, oldIP.String())
	}
	if oldHost, ok := s.ip2host6[ipStr]; ok {
		delete(s.host2ip6, oldHost)
	}
	s.host2ip6[host] = ip
	s.ip2host6[ipStr] = host

	return nil
}

func (s *memoryStore) Delete(host string, _ net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropHostLocked(host)
	s.hostLRU.Remove(host)

	return nil
}

func (s *memoryStore) Exists(ip net.IP) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ip4 := ip.To4(); ip4 != nil {
		_, ok := s.ip2host4[ip4.String()]
		return ok
	}

	_, ok := s.ip2host6[ip.String()]
	return ok
}

func (s *memoryStore) Close() error { return nil }
