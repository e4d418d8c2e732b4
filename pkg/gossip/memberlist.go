package gossip

import (
	"net/netip"
	"time"
)

// PeerRecord is the liveness window of one peer, keyed by the source
// address its heartbeats arrive from.
type PeerRecord struct {
	Addr     netip.AddrPort
	LastSeen time.Time
	Deadline time.Time
}

// Interval is the cadence the peer announced with its last heartbeat.
func (r PeerRecord) Interval() time.Duration {
	return r.Deadline.Sub(r.LastSeen)
}

// Overdue reports whether the deadline has passed at now.
func (r PeerRecord) Overdue(now time.Time) bool {
	return !now.Before(r.Deadline)
}
