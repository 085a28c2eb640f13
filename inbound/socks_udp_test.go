package inbound

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feifeigood/swiftlink/socks"
)

func encodeUDPDatagram(t *testing.T, dst socks.Address, payload []byte) []byte {
	t.Helper()
	header := &socks.UdpAssociateHeader{Frag: 0, Address: dst}
	var buf bytes.Buffer
	require.NoError(t, header.WriteTo(&buf))
	buf.Write(payload)
	return buf.Bytes()
}

func TestDecodeUDPDatagramRoundTrip(t *testing.T) {
	raw := encodeUDPDatagram(t, socks.DomainAddr("example.com", 53), []byte("payload bytes"))

	header, payload, err := decodeUDPDatagram(raw)
	require.NoError(t, err)
	assert.Equal(t, "example.com", header.Address.Name)
	assert.Equal(t, "payload bytes", string(payload))
}

func TestDecodeUDPDatagramRejectsFragment(t *testing.T) {
	raw := encodeUDPDatagram(t, socks.DomainAddr("example.com", 53), []byte("x"))
	raw[2] = 1 // FRAG offset per UdpAssociateHeader.WriteTo's {0,0,frag} prefix

	_, _, err := decodeUDPDatagram(raw)
	assert.Error(t, err)
}

func TestSocksUDPWriterSendToFramesResponse(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverConn.Close()

	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	writer := &socksUDPWriter{socket: serverConn}

	clientAddrCh := make(chan *net.UDPAddr, 1)
	go func() {
		buf := make([]byte, 1024)
		_, addr, _ := serverConn.ReadFromUDP(buf)
		clientAddrCh <- addr
	}()

	_, err = clientConn.Write([]byte("hello"))
	require.NoError(t, err)

	var clientAddr *net.UDPAddr
	select {
	case clientAddr = <-clientAddrCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for datagram")
	}

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(time.Second)))
	err = writer.SendTo(clientAddr, socks.DomainAddr("example.com", 53), []byte("reply"))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)

	header, payload, err := decodeUDPDatagram(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, "example.com", header.Address.Name)
	assert.Equal(t, "reply", string(payload))
}
