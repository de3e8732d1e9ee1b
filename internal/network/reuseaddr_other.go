//go:build !unix && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain net.ListenConfig; socket options are
// not available on this platform.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}

// BroadcastListenConfig returns a plain net.ListenConfig.
func BroadcastListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
