package socks

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadHandshakeRequest4Plain(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x04, byte(Command4Connect), 0x01, 0xbb, 93, 184, 216, 34})
	buf.WriteString("alice\x00")

	req, err := ReadHandshakeRequest4(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, Command4Connect, req.CD)
	assert.Equal(t, "alice", string(req.UserID))
	assert.Equal(t, AddressSocket, req.Dst.Type)
	assert.EqualValues(t, 443, req.Dst.Port)
}

func TestReadHandshakeRequest4aDomain(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x04, byte(Command4Connect), 0x01, 0xbb, 0, 0, 0, 1})
	buf.WriteString("alice\x00")
	buf.WriteString("example.com\x00")

	req, err := ReadHandshakeRequest4(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, AddressDomain, req.Dst.Type)
	assert.Equal(t, "example.com", req.Dst.Name)
	assert.EqualValues(t, 443, req.Dst.DomainPort)
}

func TestHandshakeResponse4WriteTo(t *testing.T) {
	resp := &HandshakeResponse4{Code: ResultGranted}
	var buf bytes.Buffer
	require.NoError(t, resp.WriteTo(&buf))

	got := buf.Bytes()
	require.Len(t, got, 8)
	assert.Equal(t, byte(0x00), got[0])
	assert.Equal(t, byte(ResultGranted), got[1])
}
