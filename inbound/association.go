package inbound

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/AdguardTeam/golibs/log"
	"github.com/feifeigood/swiftlink/socks"
)

const (
	// udpAssociationSendChannelSize bounds the per-association inbound
	// datagram queue. A full queue means the relay can't keep up; the
	// datagram is dropped rather than applying back-pressure to the
	// shared UDP socket's read loop.
	udpAssociationSendChannelSize = 1024

	// udpAssociationKeepaliveChannelSize is not referenced: the manager
	// keeps no keepalive signal queue, and an association's expiry is
	// renewed by dispatch.
	udpAssociationKeepaliveChannelSize = 64

	// defaultUDPExpiryDuration is how long an association may go without
	// activity before the manager evicts it and aborts its relay task.
	defaultUDPExpiryDuration = 5 * time.Minute

	// udpKeepaliveInterval is how often defaultUDPRelay clears an
	// association's activity flag.
	udpKeepaliveInterval = 1 * time.Second
)

// udpInboundWrite is how an association sends a relayed response datagram
// back to the client that owns it. The SOCKS UDP server implements this
// over its shared socket; tests can stub it.
type udpInboundWrite interface {
	SendTo(source net.Addr, dst socks.Address, data []byte) error
}

// udpPacket is one datagram read from the client, queued for its
// association's relay task.
type udpPacket struct {
	dst     socks.Address
	payload []byte
}

// udpAssociation owns one client source address's relay: a bounded
// inbound queue and the background task draining it. Closing it aborts
// the task.
type udpAssociation struct {
	source net.Addr

	send   chan udpPacket
	active atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func (a *udpAssociation) touch() { a.active.Store(true) }

// close cancels the relay task and waits for it to exit.
func (a *udpAssociation) close() {
	a.cancel()
	<-a.done
}

// udpAssociationManager keys associations by client source address in an
// LRU bounded by inactivity: an association untouched for expiry ticks
// off the manager-wide cleanup pass, which aborts its relay task.
type udpAssociationManager struct {
	mu      sync.Mutex
	entries *lru.LRU[string, *udpAssociation]

	writer udpInboundWrite
	expiry time.Duration

	relay func(ctx context.Context, assoc *udpAssociation, writer udpInboundWrite)
}

// newUDPAssociationManager builds a manager that relays through writer,
// evicting associations idle for longer than expiry (defaultUDPExpiryDuration
// when zero). relay drives one association's background loop; production
// callers pass defaultUDPRelay, tests substitute a stub.
func newUDPAssociationManager(
	writer udpInboundWrite,
	expiry time.Duration,
	relay func(ctx context.Context, assoc *udpAssociation, writer udpInboundWrite),
) *udpAssociationManager {
	if expiry <= 0 {
		expiry = defaultUDPExpiryDuration
	}
	if relay == nil {
		relay = defaultUDPRelay
	}

	m := &udpAssociationManager{writer: writer, expiry: expiry, relay: relay}
	m.entries = lru.NewLRU[string, *udpAssociation](0, func(_ string, assoc *udpAssociation) {
		assoc.close()
	}, expiry)

	return m
}

// dispatch routes an ingress datagram to source's association, creating
// one if this is the first datagram seen from source. It never blocks:
// a full per-association queue drops the packet.
func (m *udpAssociationManager) dispatch(source net.Addr, dst socks.Address, payload []byte) {
	key := source.String()

	m.mu.Lock()
	assoc, ok := m.entries.Get(key)
	if !ok {
		// Removing first aborts an expired association that the LRU has
		// not purged yet, so its relay task does not outlive it.
		m.entries.Remove(key)
		assoc = m.newAssociationLocked(source)
	}
	// Add on an existing key renews its expiry, so an association expires
	// only after going expiry without an ingress datagram.
	m.entries.Add(key, assoc)
	m.mu.Unlock()

	assoc.touch()
	select {
	case assoc.send <- udpPacket{dst: dst, payload: payload}:
	default:
		log.Debug("inbound: udp: association %s: send queue full, dropping datagram", key)
	}
}

func (m *udpAssociationManager) newAssociationLocked(source net.Addr) *udpAssociation {
	ctx, cancel := context.WithCancel(context.Background())
	assoc := &udpAssociation{
		source: source,
		send:   make(chan udpPacket, udpAssociationSendChannelSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(assoc.done)
		m.relay(ctx, assoc, m.writer)
	}()

	return assoc
}

// cleanupExpired calls Get on every unexpired association. Keys skips
// expired entries and Get neither evicts nor renews one, so this pass
// aborts nothing itself: an association idle past expiry has its relay
// task aborted by the LRU's own background purge, which runs the
// eviction callback.
func (m *udpAssociationManager) cleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.entries.Keys() {
		m.entries.Get(key)
	}
}

// closeAll aborts every association's relay task, used on shutdown.
func (m *udpAssociationManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.entries.Keys() {
		m.entries.Remove(key)
	}
}

// defaultUDPRelay is the production relay loop: a keepalive ticker that
// clears the association's activity flag on every tick, and a drain of
// send so the channel never blocks the reader. The tick does not touch
// the LRU entry; dispatch renews its expiry on every ingress datagram.
func defaultUDPRelay(ctx context.Context, assoc *udpAssociation, writer udpInboundWrite) {
	ticker := time.NewTicker(udpKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			assoc.active.Store(false)

		case pkt := <-assoc.send:
			if err := writer.SendTo(assoc.source, pkt.dst, pkt.payload); err != nil {
				log.Debug("inbound: udp: association %s: relay send failed: %s", assoc.source, err)
			}
		}
	}
}
