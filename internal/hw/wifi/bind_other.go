//go:build !linux

package wifi

import (
	"syscall"

	"github.com/cjeanneret/oscsync/internal/debug"
)

// bindControl is a no-op outside Linux; traffic follows the default route.
func bindControl(device string) func(network, address string, c syscall.RawConn) error {
	if device != "" {
		debug.Verbose("Interface binding not supported on this platform, ignoring %s", device)
	}
	return nil
}
