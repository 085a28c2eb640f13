// Package server implements the DNS front end: UDP (and optional TCP)
// listeners that run every request through a handler chain and map its
// outcome onto a well-formed DNS response.
package server

import (
	"context"
	"net"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"

	"github.com/feifeigood/swiftlink/handler"
)

// ourEDNSVersion is the only EDNS version this server understands; a
// client version above this gets BADVERS.
const ourEDNSVersion = 0

// minEchoedPayload is the floor applied to the echoed EDNS UDP payload
// size regardless of what the client advertised.
const minEchoedPayload = 512

// DefaultIdleTimeout is the default TCP connection idle timeout.
const DefaultIdleTimeout = 120 * time.Second

// Config configures a Server.
type Config struct {
	// Addr is the UDP (and, if EnableTCP, TCP) listen address.
	Addr string

	// EnableTCP additionally accepts TCP connections on Addr.
	EnableTCP bool

	// IdleTimeout bounds how long an idle TCP connection is kept open.
	// Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Chain answers every query that reaches the front end.
	Chain *handler.Chain

	// HandlerConfig is attached to every DnsContext built for an
	// incoming request.
	HandlerConfig *handler.Config
}

// Server is the DNS front end.
type Server struct {
	cfg Config

	udpConn *net.UDPConn
	tcpLn   net.Listener

	closeOnce chan struct{}
}

// New builds a Server; call ListenAndServe to start it.
func New(cfg Config) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Server{cfg: cfg, closeOnce: make(chan struct{})}
}

// ListenAndServe binds the configured listeners and serves until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.udpConn, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- s.serveUDP(ctx) }()

	if s.cfg.EnableTCP {
		s.tcpLn, err = net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			s.udpConn.Close()
			return err
		}
		go func() { errCh <- s.serveTCP(ctx) }()
	}

	select {
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	case err := <-errCh:
		s.Close()
		return err
	}
}

// Close shuts down every listener.
func (s *Server) Close() error {
	if s.udpConn != nil {
		_ = s.udpConn.Close()
	}
	if s.tcpLn != nil {
		_ = s.tcpLn.Close()
	}
	return nil
}

func (s *Server) serveUDP(ctx context.Context) error {
	buf := make([]byte, dns.MaxMsgSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("server: udp read: %s", err)
			continue
		}

		req := new(dns.Msg)
		if err = req.Unpack(buf[:n]); err != nil {
			log.Debug("server: udp: malformed packet from %s: %s", addr, err)
			continue
		}

		go s.handleUDP(addr, req)
	}
}

func (s *Server) handleUDP(addr *net.UDPAddr, req *dns.Msg) {
	resp := s.answer(req)
	wire, err := resp.Pack()
	if err != nil {
		log.Error("server: packing response: %s", err)
		return
	}
	if _, err = s.udpConn.WriteToUDP(wire, addr); err != nil {
		log.Error("server: udp write to %s: %s", addr, err)
	}
}

func (s *Server) serveTCP(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := s.tcpLn.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("server: tcp accept: %s", err)
			continue
		}

		go s.handleTCPConn(conn)
	}
}

func (s *Server) handleTCPConn(conn net.Conn) {
	defer conn.Close()

	for {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.IdleTimeout))

		co := &dns.Conn{Conn: conn}
		req, err := co.ReadMsg()
		if err != nil {
			return
		}

		resp := s.answer(req)
		if err = co.WriteMsg(resp); err != nil {
			return
		}
	}
}

// answer runs req through the EDNS/opcode/RD gate and the handler chain,
// per spec's DNS Server Front End steps.
func (s *Server) answer(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = false
	resp.RecursionAvailable = true

	if req.Response {
		resp.Rcode = dns.RcodeFormatError
		return resp
	}
	if req.Opcode != dns.OpcodeQuery {
		resp.Rcode = dns.RcodeNotImplemented
		return resp
	}

	if reqOPT := req.IsEdns0(); reqOPT != nil {
		if reqOPT.Version() > ourEDNSVersion {
			resp.SetEdns0(minEchoedPayload, false)
			resp.IsEdns0().SetVersion(ourEDNSVersion)
			resp.Rcode = dns.RcodeBadVers
			return resp
		}

		payload := reqOPT.UDPSize()
		if payload < minEchoedPayload {
			payload = minEchoedPayload
		}
		respOPT := resp.SetEdns0(payload, reqOPT.Do())
		respOPT.SetVersion(ourEDNSVersion)
	}

	if !req.RecursionDesired {
		return resp
	}

	ctx := &handler.DnsContext{Config: s.cfg.HandlerConfig}
	lookup, err := s.cfg.Chain.Run(ctx, req)
	if err != nil {
		var nrf *handler.NoRecordsFound
		if asNoRecordsFound(err, &nrf) {
			// Front-end mapping per spec: NoRecordsFound always becomes
			// NXDOMAIN at the wire, regardless of the response code the
			// chain recorded internally.
			resp.Rcode = dns.RcodeNameError
			if nrf.SOA != nil {
				resp.Ns = append(resp.Ns, nrf.SOA)
			}
			return resp
		}
		log.Error("server: handler chain: %s", err)
		resp.Rcode = dns.RcodeServerFailure
		return resp
	}

	resp.Answer = lookup.Records
	return resp
}

func asNoRecordsFound(err error, target **handler.NoRecordsFound) bool {
	nrf, ok := err.(*handler.NoRecordsFound)
	if !ok {
		return false
	}
	*target = nrf
	return true
}
