// Package inbound implements the SOCKS4/4a and SOCKS5 ingress: TCP
// CONNECT handling, UDP ASSOCIATE with its per-source association
// manager, and the InboundConnection handle passed across the
// dispatcher boundary.
package inbound

import (
	"net"

	"github.com/google/uuid"

	"github.com/feifeigood/swiftlink/internal/auth"
	"github.com/feifeigood/swiftlink/socks"
)

// Metadata describes one accepted connection: which listener accepted
// it, where it came from, and where the client asked to go.
type Metadata struct {
	InboundTag string
	Source     net.Addr
	Target     socks.Address
}

// InboundConnection is the handle the SOCKS ingress hands across the
// dispatcher boundary: a unique id, the raw stream, and its metadata.
// Detailed routing (including fake-IP reverse lookup of Target when it
// is a SocketAddress inside the fake range) is the dispatcher's job, not
// the ingress's.
type InboundConnection struct {
	ID       uuid.UUID
	Conn     net.Conn
	Metadata Metadata
}

// NewInboundConnection builds an InboundConnection with a fresh v4 id.
func NewInboundConnection(conn net.Conn, md Metadata) *InboundConnection {
	return &InboundConnection{ID: uuid.New(), Conn: conn, Metadata: md}
}

// Dispatcher is the boundary the SOCKS ingress hands accepted
// connections to. DirectDispatcher in this package implements it; the
// ingress only needs to know it can be handed a connection and told to
// forward or drop it.
type Dispatcher interface {
	Dispatch(ic *InboundConnection) error
}

// ServiceContext is the shared, read-mostly state every ingress server
// needs: where to send accepted TCP connections, an optional credential
// store gating SOCKS4 USERID and SOCKS5 password sub-negotiation, and
// the address of the shared UDP relay socket a SOCKS5 UDP ASSOCIATE
// reply must report back to the client. A nil Authenticator means no
// credentials are configured, so SOCKS5 must offer NONE and SOCKS4
// USERID checks are skipped. A nil UDPRelayAddr means no UDP relay is
// running, so UDP ASSOCIATE must be refused.
type ServiceContext struct {
	Dispatcher    Dispatcher
	Authenticator *auth.Authenticator
	UDPRelayAddr  *net.UDPAddr
}
