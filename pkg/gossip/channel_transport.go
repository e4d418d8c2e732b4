package gossip

import (
	"fmt"
	"net/netip"
	"sync"
)

const channelInboxSize = 64

type datagram struct {
	from    netip.AddrPort
	payload []byte
}

// ChannelNetwork is an in-process datagram network. Sends to the
// broadcast address reach every endpoint bound to the same port, the
// sender included, the way a UDP broadcast loops back on a real subnet.
// Datagrams that find a full inbox are dropped.
type ChannelNetwork struct {
	mu        sync.Mutex
	broadcast netip.Addr
	endpoints map[netip.AddrPort]*ChannelTransport
}

func NewChannelNetwork(broadcast netip.Addr) *ChannelNetwork {
	return &ChannelNetwork{
		broadcast: broadcast,
		endpoints: make(map[netip.AddrPort]*ChannelTransport),
	}
}

// Listen binds a new endpoint at addr.
func (n *ChannelNetwork) Listen(addr netip.AddrPort) (*ChannelTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[addr]; ok {
		return nil, fmt.Errorf("bind %s: address already in use", addr)
	}
	ct := &ChannelTransport{
		net:   n,
		addr:  addr,
		inbox: make(chan datagram, channelInboxSize),
		done:  make(chan struct{}),
	}
	n.endpoints[addr] = ct
	return ct, nil
}

func (n *ChannelNetwork) deliver(from, to netip.AddrPort, b []byte) {
	n.mu.Lock()
	var targets []*ChannelTransport
	if to.Addr() == n.broadcast {
		for addr, ep := range n.endpoints {
			if addr.Port() == to.Port() {
				targets = append(targets, ep)
			}
		}
	} else if ep, ok := n.endpoints[to]; ok {
		targets = append(targets, ep)
	}
	n.mu.Unlock()

	for _, ep := range targets {
		ep.push(datagram{from: from, payload: append([]byte(nil), b...)})
	}
}

func (n *ChannelNetwork) unbind(addr netip.AddrPort) {
	n.mu.Lock()
	delete(n.endpoints, addr)
	n.mu.Unlock()
}

// ChannelTransport is one endpoint of a ChannelNetwork.
type ChannelTransport struct {
	net   *ChannelNetwork
	addr  netip.AddrPort
	inbox chan datagram

	closeOnce sync.Once
	done      chan struct{}
}

func (c *ChannelTransport) Send(b []byte, addr netip.AddrPort) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.net.deliver(c.addr, addr, b)
	return nil
}

func (c *ChannelTransport) Receive(buf []byte) (int, netip.AddrPort, error) {
	select {
	case <-c.done:
		return 0, netip.AddrPort{}, ErrClosed
	case d := <-c.inbox:
		return copy(buf, d.payload), d.from, nil
	}
}

func (c *ChannelTransport) LocalAddr() netip.AddrPort { return c.addr }

func (c *ChannelTransport) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.net.unbind(c.addr)
	})
	return nil
}

func (c *ChannelTransport) push(d datagram) {
	select {
	case <-c.done:
	case c.inbox <- d:
	default:
	}
}
