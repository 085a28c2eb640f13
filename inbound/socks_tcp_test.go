package inbound

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feifeigood/swiftlink/internal/auth"
	"github.com/feifeigood/swiftlink/socks"
)

type recordingDispatcher struct {
	got *InboundConnection
}

func (d *recordingDispatcher) Dispatch(ic *InboundConnection) error {
	d.got = ic
	return nil
}

func TestHandleSocks4ConnectDispatches(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	dispatcher := &recordingDispatcher{}
	svc := &ServiceContext{Dispatcher: dispatcher}

	done := make(chan error, 1)
	go func() { done <- handleSOCKSTCPConn(server, svc) }()

	req := &socks.HandshakeRequest4{CD: socks.Command4Connect, Dst: socks.SocketAddr(net.ParseIP("93.184.216.34").To4(), 443), UserID: []byte("alice")}
	var buf []byte
	buf = append(buf, 0x04, byte(req.CD), byte(req.Dst.Port>>8), byte(req.Dst.Port))
	buf = append(buf, req.Dst.IP...)
	buf = append(buf, req.UserID...)
	buf = append(buf, 0x00)
	_, err := client.Write(buf)
	require.NoError(t, err)

	r := bufio.NewReader(client)
	var respBuf [8]byte
	_, err = r.Read(respBuf[:])
	require.NoError(t, err)
	assert.Equal(t, byte(socks.ResultGranted), respBuf[1])

	require.NoError(t, <-done)
	require.NotNil(t, dispatcher.got)
	assert.Equal(t, "SOCKS4", dispatcher.got.Metadata.InboundTag)
}

func TestSelectSocks5MethodPrefersPasswordWhenConfigured(t *testing.T) {
	authenticator := auth.New([]auth.User{{Username: "alice", Password: "secret"}})
	greeting := &socks.HandshakeRequest{Methods: []byte{socks.AuthMethodNone, socks.AuthMethodPassword}}

	method, err := selectSocks5Method(greeting, authenticator)
	require.NoError(t, err)
	assert.Equal(t, socks.AuthMethodPassword, method)
}

func TestSelectSocks5MethodFallsBackToNoneWithoutAuthenticator(t *testing.T) {
	greeting := &socks.HandshakeRequest{Methods: []byte{socks.AuthMethodNone}}

	method, err := selectSocks5Method(greeting, nil)
	require.NoError(t, err)
	assert.Equal(t, socks.AuthMethodNone, method)
}

func TestSelectSocks5MethodRejectsWhenNothingAcceptable(t *testing.T) {
	authenticator := auth.New([]auth.User{{Username: "alice", Password: "secret"}})
	greeting := &socks.HandshakeRequest{Methods: []byte{socks.AuthMethodGSSAPI}}

	_, err := selectSocks5Method(greeting, authenticator)
	assert.Error(t, err)
}

func TestHandleSocks5ConnectDispatches(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	dispatcher := &recordingDispatcher{}
	svc := &ServiceContext{Dispatcher: dispatcher}

	done := make(chan error, 1)
	go func() { done <- handleSOCKSTCPConn(server, svc) }()

	_, err := client.Write([]byte{0x05, 0x01, socks.AuthMethodNone})
	require.NoError(t, err)

	r := bufio.NewReader(client)
	var methodResp [2]byte
	_, err = r.Read(methodResp[:])
	require.NoError(t, err)
	assert.Equal(t, socks.AuthMethodNone, methodResp[1])

	target := socks.DomainAddr("example.com", 80)
	var reqBuf []byte
	reqBuf = append(reqBuf, 0x05, byte(socks.CommandConnect), 0x00)
	reqBuf = append(reqBuf, 0x03, byte(len(target.Name)))
	reqBuf = append(reqBuf, target.Name...)
	reqBuf = append(reqBuf, byte(target.DomainPort>>8), byte(target.DomainPort))
	_, err = client.Write(reqBuf)
	require.NoError(t, err)

	tcpResp, err := socks.ReadTcpResponseHeader(r)
	require.NoError(t, err)
	assert.Equal(t, socks.ReplySucceeded, tcpResp.Reply)

	require.NoError(t, <-done)
	require.NotNil(t, dispatcher.got)
	assert.Equal(t, "SOCKS5", dispatcher.got.Metadata.InboundTag)
	assert.Equal(t, target.Name, dispatcher.got.Metadata.Target.Name)
}

func TestHandleSocks5UDPAssociateReportsRelayAddress(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	relayAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9050}
	svc := &ServiceContext{Dispatcher: &recordingDispatcher{}, UDPRelayAddr: relayAddr}

	done := make(chan error, 1)
	go func() { done <- handleSOCKSTCPConn(server, svc) }()

	_, err := client.Write([]byte{0x05, 0x01, socks.AuthMethodNone})
	require.NoError(t, err)

	r := bufio.NewReader(client)
	var methodResp [2]byte
	_, err = r.Read(methodResp[:])
	require.NoError(t, err)
	assert.Equal(t, socks.AuthMethodNone, methodResp[1])

	req := &socks.TcpRequestHeader{Command: socks.CommandUDPAssociate, Address: socks.SocketAddr(net.IPv4zero, 0)}
	var reqBuf []byte
	reqBuf = append(reqBuf, 0x05, byte(req.Command), 0x00)
	reqBuf = append(reqBuf, 0x01)
	reqBuf = append(reqBuf, req.Address.IP.To4()...)
	reqBuf = append(reqBuf, byte(req.Address.Port>>8), byte(req.Address.Port))
	_, err = client.Write(reqBuf)
	require.NoError(t, err)

	tcpResp, err := socks.ReadTcpResponseHeader(r)
	require.NoError(t, err)
	assert.Equal(t, socks.ReplySucceeded, tcpResp.Reply)
	assert.Equal(t, relayAddr.IP.String(), tcpResp.Address.IP.String())
	assert.EqualValues(t, relayAddr.Port, tcpResp.Address.Port)

	require.NoError(t, <-done)
}

func TestHandleSocks5UDPAssociateRefusedWithoutRelay(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	svc := &ServiceContext{Dispatcher: &recordingDispatcher{}}

	done := make(chan error, 1)
	go func() { done <- handleSOCKSTCPConn(server, svc) }()

	_, err := client.Write([]byte{0x05, 0x01, socks.AuthMethodNone})
	require.NoError(t, err)

	r := bufio.NewReader(client)
	var methodResp [2]byte
	_, err = r.Read(methodResp[:])
	require.NoError(t, err)

	req := &socks.TcpRequestHeader{Command: socks.CommandUDPAssociate, Address: socks.SocketAddr(net.IPv4zero, 0)}
	var reqBuf []byte
	reqBuf = append(reqBuf, 0x05, byte(req.Command), 0x00)
	reqBuf = append(reqBuf, 0x01)
	reqBuf = append(reqBuf, req.Address.IP.To4()...)
	reqBuf = append(reqBuf, byte(req.Address.Port>>8), byte(req.Address.Port))
	_, err = client.Write(reqBuf)
	require.NoError(t, err)

	tcpResp, err := socks.ReadTcpResponseHeader(r)
	require.NoError(t, err)
	assert.Equal(t, socks.ReplyCommandNotSupported, tcpResp.Reply)

	assert.Error(t, <-done)
}

func TestHandleSocks5NoAcceptableMethod(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	authenticator := auth.New([]auth.User{{Username: "alice", Password: "secret"}})
	svc := &ServiceContext{Dispatcher: &recordingDispatcher{}, Authenticator: authenticator}

	done := make(chan error, 1)
	go func() { done <- handleSOCKSTCPConn(server, svc) }()

	_, err := client.Write([]byte{0x05, 0x01, socks.AuthMethodNone})
	require.NoError(t, err)

	var methodResp [2]byte
	_, err = client.Read(methodResp[:])
	require.NoError(t, err)
	assert.Equal(t, socks.AuthMethodNoAcceptable, methodResp[1])

	assert.Error(t, <-done)
}
