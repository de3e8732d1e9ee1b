//go:build unix

package network

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReuseAddrListenConfig returns a net.ListenConfig that sets SO_REUSEADDR
// before binding, so a restarted endpoint can rebind ports in TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return listenConfigWith(unix.SO_REUSEADDR)
}

// BroadcastListenConfig is ReuseAddrListenConfig plus SO_BROADCAST, for UDP
// sockets that send discovery probes to a broadcast address.
func BroadcastListenConfig() net.ListenConfig {
	return listenConfigWith(unix.SO_REUSEADDR, unix.SO_BROADCAST)
}

func listenConfigWith(opts ...int) net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				for _, opt := range opts {
					if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1); opErr != nil {
						return
					}
				}
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
