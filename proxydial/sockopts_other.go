//go:build !linux

package proxydial

import "syscall"

// controlWithOpts is a no-op outside Linux: SO_BINDTODEVICE has no portable
// equivalent, and buffer tuning is left to the OS defaults.
func controlWithOpts(opts ConnectOpts) func(network, address string, c syscall.RawConn) error {
	return nil
}
