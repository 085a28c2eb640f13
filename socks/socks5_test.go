package socks

import (
	"bufio"
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTcpRequestHeaderRoundTripIPv4(t *testing.T) {
	want := &TcpRequestHeader{
		Command: CommandConnect,
		Address: SocketAddr(net.ParseIP("93.184.216.34").To4(), 443),
	}

	var buf bytes.Buffer
	buf.WriteByte(0x05)
	buf.WriteByte(byte(want.Command))
	buf.WriteByte(0x00)
	require.NoError(t, writeAddress(&buf, want.Address))

	got, err := ReadTcpRequestHeader(bufio.NewReader(&buf))
	require.NoError(t, err)

	assert.Equal(t, want.Command, got.Command)
	assert.Equal(t, want.Address.IP.String(), got.Address.IP.String())
	assert.Equal(t, want.Address.Port, got.Address.Port)
}

func TestTcpRequestHeaderRoundTripDomain(t *testing.T) {
	want := &TcpRequestHeader{
		Command: CommandConnect,
		Address: DomainAddr("example.com", 443),
	}

	var buf bytes.Buffer
	buf.WriteByte(0x05)
	buf.WriteByte(byte(want.Command))
	buf.WriteByte(0x00)
	require.NoError(t, writeAddress(&buf, want.Address))

	got, err := ReadTcpRequestHeader(bufio.NewReader(&buf))
	require.NoError(t, err)

	assert.Equal(t, want.Address, got.Address)
}

func TestTcpResponseHeaderRoundTrip(t *testing.T) {
	h := &TcpResponseHeader{Reply: ReplySucceeded, Address: SocketAddr(net.ParseIP("1.2.3.4").To4(), 1080)}

	var buf bytes.Buffer
	require.NoError(t, h.WriteTo(&buf))

	got, err := ReadTcpResponseHeader(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, ReplySucceeded, got.Reply)
	assert.Equal(t, "1.2.3.4", got.Address.IP.String())
	assert.EqualValues(t, 1080, got.Address.Port)
}

func TestHandshakeRequestOffersListedMethods(t *testing.T) {
	req := &HandshakeRequest{Methods: []byte{AuthMethodNone, AuthMethodPassword}}
	assert.True(t, req.Offers(AuthMethodPassword))
	assert.True(t, req.Offers(AuthMethodNone))
	assert.False(t, req.Offers(AuthMethodGSSAPI))
}

func TestPasswdAuthRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x01)
	buf.WriteByte(5)
	buf.WriteString("alice")
	buf.WriteByte(4)
	buf.WriteString("pass")

	got, err := ReadPasswdAuthRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, "alice", string(got.Uname))
	assert.Equal(t, "pass", string(got.Passwd))
}

func TestUdpAssociateHeaderRejectsFragment(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x01}) // frag=1
	require.NoError(t, writeAddress(&buf, SocketAddr(net.ParseIP("1.2.3.4").To4(), 53)))

	_, err := ReadUdpAssociateHeader(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func TestUdpAssociateHeaderAcceptsNoFragment(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00})
	require.NoError(t, writeAddress(&buf, SocketAddr(net.ParseIP("1.2.3.4").To4(), 53)))

	h, err := ReadUdpAssociateHeader(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.EqualValues(t, 0, h.Frag)
}
