//go:build !unix

package gossip

import "syscall"

// The runtime already enables SO_BROADCAST on datagram sockets here.
func enableBroadcast(network, address string, c syscall.RawConn) error {
	return nil
}
