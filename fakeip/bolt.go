package fakeip

import (
	"fmt"
	"net"

	"github.com/AdguardTeam/golibs/log"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketFakeIP  = "fakeip"
	bucketFakeIP6 = "fakeip6"
)

// boltStore is the persistent fake-IP store. It keeps both column families
// ("fakeip" for IPv4, "fakeip6" for IPv6) as bbolt buckets and stores both
// directions of every pair (host->ip and ip->host) as two keys, written in
// a single read-write transaction so the pair is always consistent on
// disk.
type boltStore struct {
	db *bolt.DB
}

// NewPersistentStore opens (or creates) a bbolt database at path and
// prepares the fakeip/fakeip6 buckets.
func NewPersistentStore(path string) (Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("fakeip: opening cache file %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketFakeIP)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketFakeIP6))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fakeip: preparing cache file buckets: %w", err)
	}

	return &boltStore{db: db}, nil
}

func bucketFor(ipv6 bool) string {
	if ipv6 {
		return bucketFakeIP6
	}
	return bucketFakeIP
}

func (s *boltStore) Get(key string, ipv6 bool) (string, bool) {
	if ip := net.ParseIP(key); ip != nil {
		ipv6 = ip.To4() == nil
	}

	var value []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketFor(ipv6)))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})

	if value == nil {
		return "", false
	}

	return string(value), true
}

// Put writes host->ip and ip->host in a single transaction.
func (s *boltStore) Put(host string, ip net.IP) error {
	ipv6 := ip.To4() == nil
	ipStr := ip.String()

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketFor(ipv6)))
		if err != nil {
			return err
		}

		if err := b.Put([]byte(host), []byte(ipStr)); err != nil {
			return err
		}

		return b.Put([]byte(ipStr), []byte(host))
	})
}

// Delete removes both keys of the host/ip pair in a single transaction.
func (s *boltStore) Delete(host string, ip net.IP) error {
	ipv6 := ip.To4() == nil
	ipStr := ip.String()

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketFor(ipv6)))
		if err != nil {
			return err
		}

		if err := b.Delete([]byte(host)); err != nil {
			return err
		}

		return b.Delete([]byte(ipStr))
	})
}

func (s *boltStore) Exists(ip net.IP) bool {
	_, ok := s.Get(ip.String(), ip.To4() == nil)
	return ok
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

// openPersistentOrFallback attempts to open a persistent store at path,
// falling back to a bounded in-memory store (logging an error) if the
// cache file cannot be opened.
func openPersistentOrFallback(path string, size int) Store {
	store, err := NewPersistentStore(path)
	if err != nil {
		log.Error("fakeip: failed to open persistent cache file %s, falling back to memory: %v", path, err)
		return NewMemoryStore(size)
	}

	return store
}
