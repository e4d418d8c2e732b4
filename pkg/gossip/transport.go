package gossip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrClosed is returned by Receive once the transport has been closed.
var ErrClosed = net.ErrClosed

// Transport is a best-effort datagram endpoint. The gossip loops only talk
// to the network through it, so tests can swap in a ChannelNetwork
// endpoint instead of a real socket.
type Transport interface {
	// Send delivers b to addr without any delivery guarantee.
	Send(b []byte, addr netip.AddrPort) error
	// Receive blocks until one datagram arrives, copying it into buf.
	Receive(buf []byte) (int, netip.AddrPort, error)
	LocalAddr() netip.AddrPort
	// Close unblocks pending Receive calls, which then return ErrClosed.
	Close() error
}

// UDPTransport is a Transport over a single UDP socket with SO_BROADCAST
// enabled.
type UDPTransport struct {
	conn *net.UDPConn
}

// ListenUDP binds a broadcast-capable UDP socket to addr. It is the only
// fatal error path of a node: callers should exit if it fails.
func ListenUDP(ctx context.Context, addr netip.AddrPort) (*UDPTransport, error) {
	network := "udp4"
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		network = "udp6"
	}
	lc := net.ListenConfig{Control: enableBroadcast}
	pc, err := lc.ListenPacket(ctx, network, addr.String())
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("bind %s: unexpected conn type %T", addr, pc)
	}
	return &UDPTransport{conn: conn}, nil
}

func (u *UDPTransport) Send(b []byte, addr netip.AddrPort) error {
	_, err := u.conn.WriteToUDPAddrPort(b, addr)
	return err
}

func (u *UDPTransport) Receive(buf []byte) (int, netip.AddrPort, error) {
	n, from, err := u.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, netip.AddrPort{}, ErrClosed
		}
		return 0, netip.AddrPort{}, err
	}
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
}

func (u *UDPTransport) LocalAddr() netip.AddrPort {
	if a, ok := u.conn.LocalAddr().(*net.UDPAddr); ok {
		ap := a.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}

func (u *UDPTransport) Close() error {
	return u.conn.Close()
}
