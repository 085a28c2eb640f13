package inbound

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/log"

	"github.com/feifeigood/swiftlink/socks"
)

// maxUDPDatagramSize bounds a single read from the relay socket; large
// enough for any DNS-over-UDP or general SOCKS UDP payload this proxy
// relays.
const maxUDPDatagramSize = 65507

// socksUDPWriter relays an association's outbound datagrams back to the
// client through the shared UDP socket, re-framed with the UdpAssociateHeader.
type socksUDPWriter struct {
	socket *net.UDPConn
}

func (w *socksUDPWriter) SendTo(source net.Addr, dst socks.Address, data []byte) error {
	header := &socks.UdpAssociateHeader{Frag: 0, Address: dst}

	var buf bytes.Buffer
	if err := header.WriteTo(&buf); err != nil {
		return err
	}
	buf.Write(data)

	udpAddr, ok := source.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("inbound: udp: source %v is not a *net.UDPAddr", source)
	}

	_, err := w.socket.WriteToUDP(buf.Bytes(), udpAddr)
	return err
}

// ServeSOCKSUDP relays SOCKS5 UDP ASSOCIATE datagrams on socket until ctx
// is canceled. expiry bounds how long an idle per-source association is
// kept before its relay task is aborted (defaultUDPExpiryDuration when
// zero). Actual forwarding of a decoded datagram to its target is the
// dispatcher's job, not this server's — this loop handles only the
// association lifecycle and the wire framing.
func ServeSOCKSUDP(ctx context.Context, socket *net.UDPConn, expiry time.Duration) error {
	manager := newUDPAssociationManager(&socksUDPWriter{socket: socket}, expiry, nil)
	defer manager.closeAll()

	cleanup := time.NewTicker(1 * time.Minute)
	defer cleanup.Stop()

	go func() {
		<-ctx.Done()
		socket.Close()
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanup.C:
				manager.cleanupExpired()
			}
		}
	}()

	buf := make([]byte, maxUDPDatagramSize)
	for {
		n, source, err := socket.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		header, payload, err := decodeUDPDatagram(buf[:n])
		if err != nil {
			log.Debug("inbound: udp: %s: %s", source, err)
			continue
		}

		manager.dispatch(source, header.Address, payload)
	}
}

// decodeUDPDatagram parses the UdpAssociateHeader prefixing a relay
// datagram and returns the header plus the payload bytes that follow it.
func decodeUDPDatagram(data []byte) (*socks.UdpAssociateHeader, []byte, error) {
	// A buffer sized to the whole datagram guarantees bufio fills it in
	// one underlying Read, so Buffered() below reflects every remaining
	// byte rather than whatever fit in a default 4KiB fill.
	r := bufio.NewReaderSize(bytes.NewReader(data), len(data))

	header, err := socks.ReadUdpAssociateHeader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading UDP associate header: %w", err)
	}

	payload, err := r.Peek(r.Buffered())
	if err != nil {
		return nil, nil, fmt.Errorf("reading payload: %w", err)
	}

	return header, payload, nil
}
