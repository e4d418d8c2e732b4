// Package gossip implements broadcast heartbeat liveness detection for
// pingparty. Every node periodically broadcasts an "I am here." datagram
// carrying its own announce frequency; every node that hears it tracks the
// sender until the sender misses the deadline implied by that frequency.
//
// A Gossiper owns one Transport and one PeerTable and runs three loops
// over them:
//
//   - the Announcer broadcasts Presence on a jittered interval,
//   - the Listener decodes datagrams, refreshes the table and answers
//     "Are you there?" queries,
//   - the Supervisor sleeps until the soonest deadline and evicts the peer
//     holding it, waking early whenever the table changes.
//
// Typical usage:
//
//	tr, _ := gossip.ListenUDP(ctx, netip.MustParseAddrPort("0.0.0.0:9999"))
//	g, _ := gossip.New(gossip.Config{
//		Frequency: time.Minute,
//		JitterMin: 5 * time.Second,
//		JitterMax: 10 * time.Second,
//		Broadcast: netip.MustParseAddrPort("192.168.1.255:9999"),
//	}, tr, gossip.WithLogger(logger))
//	err := g.Run(ctx)
//
// Tests can run whole clusters in-process on a ChannelNetwork instead of
// UDP sockets.
package gossip
