package inbound

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feifeigood/swiftlink/fakeip"
	"github.com/feifeigood/swiftlink/socks"
)

func TestDirectDispatcherRelaysBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	echoed := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					break
				}
			}
			if err != nil {
				break
			}
		}
		close(echoed)
	}()

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()

	target := socks.SocketAddr(net.ParseIP("127.0.0.1"), uint16(ln.Addr().(*net.TCPAddr).Port))
	d := &DirectDispatcher{DialTimeout: time.Second}

	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch(&InboundConnection{Conn: serverSide, Metadata: Metadata{Target: target}})
	}()

	_, err = clientSide.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	clientSide.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(clientSide, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	clientSide.Close()
	<-done
}

func TestDirectDispatcherResolvesFakeIP(t *testing.T) {
	dns := fakeip.NewFakeDNS(fakeip.Config{Size: 16})
	ip, err := dns.LookupIP("example.com", false)
	require.NoError(t, err)

	d := &DirectDispatcher{FakeDNS: dns}
	resolved := d.resolveTarget(socks.SocketAddr(ip, 443))

	assert.Equal(t, socks.AddressDomain, resolved.Type)
	assert.Equal(t, "example.com", resolved.Name)
}

func TestDirectDispatcherLeavesNonFakeIPUnchanged(t *testing.T) {
	dns := fakeip.NewFakeDNS(fakeip.Config{Size: 16})
	d := &DirectDispatcher{FakeDNS: dns}

	target := socks.SocketAddr(net.ParseIP("93.184.216.34"), 443)
	resolved := d.resolveTarget(target)
	assert.Equal(t, target, resolved)
}
