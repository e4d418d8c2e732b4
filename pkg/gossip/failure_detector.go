package gossip

import (
	"cmp"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/ryandielhenn/pingparty/internal/telemetry"
)

// PeerTable tracks the expected-next-heartbeat deadline of every peer.
//
// Every Observe raises a level-triggered wake signal, read from Changed.
// The signal is a channel with room for one token: a signal raised while
// nobody waits stays pending, and bursts collapse into a single wake.
type PeerTable struct {
	mu    sync.Mutex
	peers map[netip.AddrPort]PeerRecord
	wake  chan struct{}
}

func NewPeerTable() *PeerTable {
	return &PeerTable{
		peers: make(map[netip.AddrPort]PeerRecord),
		wake:  make(chan struct{}, 1),
	}
}

// Observe records a heartbeat from addr at now. The returned bool is true
// when addr was not tracked before.
func (t *PeerTable) Observe(addr netip.AddrPort, frequency time.Duration, now time.Time) (PeerRecord, bool) {
	rec := PeerRecord{Addr: addr, LastSeen: now, Deadline: now.Add(frequency)}

	t.mu.Lock()
	_, seen := t.peers[addr]
	t.peers[addr] = rec
	telemetry.PeersTracked.Set(float64(len(t.peers)))
	t.mu.Unlock()

	t.signal()
	return rec, !seen
}

// MinDeadline returns the record with the soonest deadline.
func (t *PeerTable) MinDeadline() (PeerRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best PeerRecord
	found := false
	for _, rec := range t.peers {
		if !found || rec.Deadline.Before(best.Deadline) {
			best = rec
			found = true
		}
	}
	return best, found
}

// Evict removes rec.Addr if its deadline is still rec.Deadline and has
// passed at now. A heartbeat that landed after rec was read moves the
// deadline, and the eviction is refused.
func (t *PeerTable) Evict(rec PeerRecord, now time.Time) bool {
	t.mu.Lock()
	cur, ok := t.peers[rec.Addr]
	if !ok || !cur.Deadline.Equal(rec.Deadline) || !cur.Overdue(now) {
		t.mu.Unlock()
		return false
	}
	delete(t.peers, rec.Addr)
	telemetry.PeersTracked.Set(float64(len(t.peers)))
	t.mu.Unlock()
	return true
}

// Get returns the current record for addr.
func (t *PeerTable) Get(addr netip.AddrPort) (PeerRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.peers[addr]
	return rec, ok
}

func (t *PeerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Snapshot returns a copy of all records ordered by address.
func (t *PeerTable) Snapshot() []PeerRecord {
	t.mu.Lock()
	out := make([]PeerRecord, 0, len(t.peers))
	for _, rec := range t.peers {
		out = append(out, rec)
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b PeerRecord) int {
		return cmp.Compare(a.Addr.String(), b.Addr.String())
	})
	return out
}

// Changed is the wake signal. Receiving from it clears the signal.
func (t *PeerTable) Changed() <-chan struct{} {
	return t.wake
}

func (t *PeerTable) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}
