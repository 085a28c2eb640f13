package inbound

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/AdguardTeam/golibs/log"

	"github.com/feifeigood/swiftlink/internal/auth"
	"github.com/feifeigood/swiftlink/socks"
)

// socksVersion4 and socksVersion5 are the first byte of a SOCKS stream,
// which selects which handshake follows.
const (
	socksVersion4 byte = 0x04
	socksVersion5 byte = 0x05
)

// ServeSOCKSTCP accepts connections from ln until ctx is canceled,
// handling each one's SOCKS4/4a or SOCKS5 handshake against svc and
// handing the resulting stream off to svc.Dispatcher. It never returns
// until ln is closed or ctx is canceled.
func ServeSOCKSTCP(ctx context.Context, ln net.Listener, svc *ServiceContext) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		go func() {
			if err := handleSOCKSTCPConn(conn, svc); err != nil {
				log.Debug("inbound: socks: %s: %s", conn.RemoteAddr(), err)
				conn.Close()
			}
		}()
	}
}

// handleSOCKSTCPConn peeks the version byte and dispatches to the
// matching handshake. On success, ownership of conn passes to the
// dispatcher; on error, the caller closes conn.
func handleSOCKSTCPConn(conn net.Conn, svc *ServiceContext) error {
	r := bufio.NewReader(conn)

	version, err := r.Peek(1)
	if err != nil {
		return fmt.Errorf("reading version byte: %w", err)
	}

	switch version[0] {
	case socksVersion4:
		return handleSocks4(conn, r, svc)
	case socksVersion5:
		return handleSocks5(conn, r, svc)
	default:
		return fmt.Errorf("unsupported SOCKS version byte 0x%02x", version[0])
	}
}

func handleSocks4(conn net.Conn, r *bufio.Reader, svc *ServiceContext) error {
	req, err := socks.ReadHandshakeRequest4(r)
	if err != nil {
		return fmt.Errorf("socks4: reading request: %w", err)
	}

	if svc.Authenticator != nil && !svc.Authenticator.Verify(string(req.UserID), "") {
		resp := &socks.HandshakeResponse4{Code: socks.ResultRejectedDifferentUserID}
		resp.WriteTo(conn)
		return fmt.Errorf("socks4: user %q failed verification", req.UserID)
	}

	switch req.CD {
	case socks.Command4Connect:
		resp := &socks.HandshakeResponse4{Code: socks.ResultGranted}
		if err := resp.WriteTo(conn); err != nil {
			return fmt.Errorf("socks4: writing response: %w", err)
		}

		ic := NewInboundConnection(conn, Metadata{
			InboundTag: "SOCKS4",
			Source:     conn.RemoteAddr(),
			Target:     req.Dst,
		})
		return svc.Dispatcher.Dispatch(ic)

	case socks.Command4Bind:
		resp := &socks.HandshakeResponse4{Code: socks.ResultRejectedOrFailed}
		resp.WriteTo(conn)
		return fmt.Errorf("socks4: BIND is not supported")

	default:
		resp := &socks.HandshakeResponse4{Code: socks.ResultRejectedOrFailed}
		resp.WriteTo(conn)
		return fmt.Errorf("socks4: unsupported command 0x%02x", req.CD)
	}
}

func handleSocks5(conn net.Conn, r *bufio.Reader, svc *ServiceContext) error {
	greeting, err := socks.ReadHandshakeRequest(r)
	if err != nil {
		return fmt.Errorf("socks5: reading greeting: %w", err)
	}

	method, err := selectSocks5Method(greeting, svc.Authenticator)
	if err != nil {
		resp := &socks.HandshakeResponse{Method: socks.AuthMethodNoAcceptable}
		resp.WriteTo(conn)
		return err
	}

	resp := &socks.HandshakeResponse{Method: method}
	if err := resp.WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: writing method selection: %w", err)
	}

	if method == socks.AuthMethodPassword {
		if err := authenticateSocks5(conn, r, svc.Authenticator); err != nil {
			return err
		}
	}

	req, err := socks.ReadTcpRequestHeader(r)
	if err != nil {
		return fmt.Errorf("socks5: reading request: %w", err)
	}

	switch req.Command {
	case socks.CommandConnect:
		tcpResp := &socks.TcpResponseHeader{Reply: socks.ReplySucceeded, Address: req.Address}
		if err := tcpResp.WriteTo(conn); err != nil {
			return fmt.Errorf("socks5: writing response: %w", err)
		}

		ic := NewInboundConnection(conn, Metadata{
			InboundTag: "SOCKS5",
			Source:     conn.RemoteAddr(),
			Target:     req.Address,
		})
		return svc.Dispatcher.Dispatch(ic)

	case socks.CommandUDPAssociate:
		// The client sends its datagrams to whatever address this
		// response reports, not to req.Address (which is typically
		// 0.0.0.0:0, the client's own request address) — it must be the
		// relay ServeSOCKSUDP already bound.
		if svc.UDPRelayAddr == nil {
			tcpResp := &socks.TcpResponseHeader{Reply: socks.ReplyCommandNotSupported, Address: req.Address}
			tcpResp.WriteTo(conn)
			return fmt.Errorf("socks5: no UDP relay configured")
		}

		relayAddr := socks.SocketAddr(svc.UDPRelayAddr.IP, uint16(svc.UDPRelayAddr.Port))
		tcpResp := &socks.TcpResponseHeader{Reply: socks.ReplySucceeded, Address: relayAddr}
		if err := tcpResp.WriteTo(conn); err != nil {
			return fmt.Errorf("socks5: writing UDP associate response: %w", err)
		}
		return nil

	default:
		tcpResp := &socks.TcpResponseHeader{Reply: socks.ReplyCommandNotSupported, Address: req.Address}
		tcpResp.WriteTo(conn)
		return fmt.Errorf("socks5: unsupported command %d", req.Command)
	}
}

// selectSocks5Method applies the priority order: PASSWORD when a
// credential store is configured and offered, else NONE when no
// credential store is configured and offered, else failure.
func selectSocks5Method(greeting *socks.HandshakeRequest, authenticator *auth.Authenticator) (byte, error) {
	if authenticator != nil && greeting.Offers(socks.AuthMethodPassword) {
		return socks.AuthMethodPassword, nil
	}
	if authenticator == nil && greeting.Offers(socks.AuthMethodNone) {
		return socks.AuthMethodNone, nil
	}
	return 0, fmt.Errorf("socks5: no acceptable authentication method")
}

func authenticateSocks5(conn net.Conn, r *bufio.Reader, authenticator *auth.Authenticator) error {
	req, err := socks.ReadPasswdAuthRequest(r)
	if err != nil {
		return fmt.Errorf("socks5: reading auth sub-negotiation: %w", err)
	}

	ok := authenticator.Verify(string(req.Uname), string(req.Passwd))

	status := byte(0x00)
	if !ok {
		status = 0xff
	}
	resp := &socks.PasswdAuthResponse{Status: status}
	if err := resp.WriteTo(conn); err != nil {
		return fmt.Errorf("socks5: writing auth response: %w", err)
	}

	if !ok {
		return fmt.Errorf("socks5: user %q failed verification", req.Uname)
	}
	return nil
}
