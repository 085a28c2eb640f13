//go:build linux

package proxydial

import (
	"syscall"

	"github.com/AdguardTeam/golibs/log"
	"golang.org/x/sys/unix"
)

// controlWithOpts returns a net.Dialer.Control func that applies
// SO_BINDTODEVICE and socket buffer sizes before connect(2), matching
// swiftlink-net's set_bindtodevice.
func controlWithOpts(opts ConnectOpts) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if opts.BindInterface != "" {
				if err := unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, opts.BindInterface); err != nil {
					log.Error("proxydial: SO_BINDTODEVICE %s: %s", opts.BindInterface, err)
					ctrlErr = err
					return
				}
			}
			if opts.SendBufferSize > 0 {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, opts.SendBufferSize)
			}
			if opts.RecvBufferSize > 0 {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, opts.RecvBufferSize)
			}
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}
}
