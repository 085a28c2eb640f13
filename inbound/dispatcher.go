package inbound

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/log"

	"github.com/feifeigood/swiftlink/fakeip"
	"github.com/feifeigood/swiftlink/socks"
)

// DirectDispatcher is the simplest possible dispatcher boundary
// implementation: it performs the fake-IP reverse lookup spec.md §4.10
// calls out explicitly ("on a new connection whose target is a
// SocketAddress in the fake range, replace the target with
// Address::Domain(lookup_host(ip), port) before routing"), dials the
// resolved target directly, and relays bytes in both directions until
// either side closes. It does not consult any rule engine — anything
// beyond this fake-IP substitution is the detailed routing behavior
// spec.md leaves out of scope for the dispatcher boundary.
type DirectDispatcher struct {
	FakeDNS *fakeip.FakeDNS

	// DialTimeout bounds the outbound dial to Target. Zero means no
	// timeout.
	DialTimeout time.Duration
}

// Dispatch implements Dispatcher.
func (d *DirectDispatcher) Dispatch(ic *InboundConnection) error {
	defer ic.Conn.Close()

	target := d.resolveTarget(ic.Metadata.Target)

	dialer := net.Dialer{Timeout: d.DialTimeout}
	host, port := target.HostPort()
	upstream, err := dialer.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		log.Debug("inbound: dispatch: %s: dialing %s: %s", ic.ID, target, err)
		return err
	}
	defer upstream.Close()

	relay(ic.Conn, upstream)
	return nil
}

// resolveTarget substitutes a fake-IP SocketAddress target with its
// reverse-looked-up domain name, leaving every other target unchanged.
func (d *DirectDispatcher) resolveTarget(target socks.Address) socks.Address {
	if d.FakeDNS == nil || target.Type != socks.AddressSocket {
		return target
	}
	if !d.FakeDNS.IsFakeIP(target.IP) {
		return target
	}

	host, ok := d.FakeDNS.LookupHost(target.IP)
	if !ok {
		return target
	}

	return socks.DomainAddr(host, target.Port)
}

// relay copies bytes in both directions between a and b until both
// copies finish, matching tcp.rs's Metadata-plus-forward-stream
// behavior for SOCKS CONNECT.
func relay(a, b net.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()

	<-done
	<-done
}

