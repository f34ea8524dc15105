//go:build linux

package wifi

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// bindControl pins outgoing sockets to device. An empty device leaves routing to the kernel.
func bindControl(device string) func(network, address string, c syscall.RawConn) error {
	if device == "" {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			serr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, device)
		})
		if err != nil {
			return err
		}
		return serr
	}
}
