package gossip

import (
	"math/rand/v2"
	"net/netip"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func peer(i int) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(i)}), 9999)
}

func TestObserveThenMinDeadline(t *testing.T) {
	tb := NewPeerTable()
	if _, ok := tb.MinDeadline(); ok {
		t.Fatalf("MinDeadline on empty table returned ok")
	}

	rec, isNew := tb.Observe(peer(1), secs(10), at(0))
	if !isNew {
		t.Fatalf("first Observe isNew = false")
	}
	if !rec.Deadline.Equal(at(10)) || !rec.LastSeen.Equal(at(0)) {
		t.Fatalf("record = %+v, want lastSeen=0 deadline=10", rec)
	}

	got, ok := tb.MinDeadline()
	if !ok || got.Addr != peer(1) || !got.Deadline.Equal(at(10)) {
		t.Fatalf("MinDeadline = (%+v,%v), want (%s, 10s)", got, ok, peer(1))
	}

	// Not yet due.
	if tb.Evict(got, at(9.999)) {
		t.Fatalf("Evict before deadline succeeded")
	}
	if !tb.Evict(got, at(10)) {
		t.Fatalf("Evict at deadline failed")
	}
	if tb.Len() != 0 {
		t.Fatalf("Len after evict = %d, want 0", tb.Len())
	}
}

func TestRefreshMovesDeadline(t *testing.T) {
	tb := NewPeerTable()
	tb.Observe(peer(1), secs(10), at(0))
	first, _ := tb.MinDeadline()

	_, isNew := tb.Observe(peer(1), secs(10), at(5))
	if isNew {
		t.Fatalf("refresh reported isNew")
	}
	if tb.Len() != 1 {
		t.Fatalf("Len after refresh = %d, want 1", tb.Len())
	}

	// A supervisor holding the stale record must not evict at t=10.
	if tb.Evict(first, at(10)) {
		t.Fatalf("stale record evicted the refreshed peer")
	}
	cur, _ := tb.MinDeadline()
	if !cur.Deadline.Equal(at(15)) {
		t.Fatalf("deadline after refresh = %v, want 15s", cur.Deadline.Sub(epoch))
	}
	if tb.Evict(cur, at(14)) {
		t.Fatalf("evicted before refreshed deadline")
	}
	if !tb.Evict(cur, at(15)) {
		t.Fatalf("not evicted at refreshed deadline")
	}
}

func TestEvictLeavesOtherPeersUntouched(t *testing.T) {
	tb := NewPeerTable()
	tb.Observe(peer(1), secs(10), at(0))
	tb.Observe(peer(2), secs(20), at(0))
	before, _ := tb.Get(peer(2))

	first, _ := tb.MinDeadline()
	if first.Addr != peer(1) {
		t.Fatalf("MinDeadline = %s, want %s", first.Addr, peer(1))
	}
	if !tb.Evict(first, at(10)) {
		t.Fatalf("Evict(peer1) failed")
	}

	after, ok := tb.Get(peer(2))
	if !ok || after != before {
		t.Fatalf("peer2 = (%+v,%v), want unchanged %+v", after, ok, before)
	}
	next, _ := tb.MinDeadline()
	if next.Addr != peer(2) {
		t.Fatalf("MinDeadline after evict = %s, want %s", next.Addr, peer(2))
	}
}

func TestRefreshDoesNotTouchOtherPeers(t *testing.T) {
	tb := NewPeerTable()
	for i := 1; i <= 5; i++ {
		tb.Observe(peer(i), secs(float64(i)*10), at(0))
	}
	before := tb.Snapshot()

	tb.Observe(peer(3), secs(30), at(7))

	for _, b := range before {
		a, _ := tb.Get(b.Addr)
		if b.Addr == peer(3) {
			if !a.Deadline.Equal(at(37)) {
				t.Fatalf("refreshed deadline = %v, want 37s", a.Deadline.Sub(epoch))
			}
			continue
		}
		if a != b {
			t.Fatalf("%s changed: %+v -> %+v", b.Addr, b, a)
		}
	}
}

func TestMinDeadlineIsSmallest(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	tb := NewPeerTable()
	want := map[netip.AddrPort]time.Time{}

	now := 0.0
	for i := 0; i < 500; i++ {
		now += r.Float64()
		p := peer(1 + r.IntN(20))
		rec, _ := tb.Observe(p, secs(1+r.Float64()*30), at(now))
		want[p] = rec.Deadline

		got, ok := tb.MinDeadline()
		if !ok {
			t.Fatalf("step %d: MinDeadline empty", i)
		}
		for addr, d := range want {
			if d.Before(got.Deadline) {
				t.Fatalf("step %d: MinDeadline = %s@%v but %s@%v is sooner",
					i, got.Addr, got.Deadline.Sub(epoch), addr, d.Sub(epoch))
			}
		}
		if !want[got.Addr].Equal(got.Deadline) {
			t.Fatalf("step %d: MinDeadline returned stale deadline for %s", i, got.Addr)
		}
	}
}

func TestWakeSignalIsLevelTriggered(t *testing.T) {
	tb := NewPeerTable()

	// Raised with nobody waiting: must still be pending.
	for i := 0; i < 10; i++ {
		tb.Observe(peer(1), secs(1), at(float64(i)))
	}
	select {
	case <-tb.Changed():
	default:
		t.Fatalf("signal raised before wait was lost")
	}
	// Ten raises collapse into one.
	select {
	case <-tb.Changed():
		t.Fatalf("signal was edge-counted, got a second token")
	default:
	}

	// Evict is the supervisor's own mutation and does not signal.
	rec, _ := tb.MinDeadline()
	if !tb.Evict(rec, at(100)) {
		t.Fatalf("Evict failed")
	}
	select {
	case <-tb.Changed():
		t.Fatalf("Evict raised the wake signal")
	default:
	}
}

func TestSnapshotSortedCopy(t *testing.T) {
	tb := NewPeerTable()
	for _, i := range []int{3, 1, 2} {
		tb.Observe(peer(i), secs(5), at(0))
	}
	snap := tb.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(Snapshot) = %d, want 3", len(snap))
	}
	for i, rec := range snap {
		if rec.Addr != peer(i+1) {
			t.Fatalf("Snapshot[%d] = %s, want %s", i, rec.Addr, peer(i+1))
		}
	}
	snap[0].Deadline = at(999)
	if got, _ := tb.Get(peer(1)); got.Deadline.Equal(at(999)) {
		t.Fatalf("Snapshot aliases table state")
	}
}

func TestConcurrentObserveEvict_NoRaces(t *testing.T) {
	tb := NewPeerTable()
	var wg sync.WaitGroup
	const G = 8
	const N = 1000

	for gid := range G {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			for i := range N {
				tb.Observe(peer(gid*10+i%10), secs(1), at(float64(i)))
			}
		}(gid)
	}

	stop := make(chan struct{})
	evicted := 0
	var ew sync.WaitGroup
	ew.Add(1)
	go func() {
		defer ew.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if rec, ok := tb.MinDeadline(); ok && tb.Evict(rec, at(N+10)) {
				evicted++
			}
		}
	}()

	wg.Wait()
	close(stop)
	ew.Wait()

	for {
		rec, ok := tb.MinDeadline()
		if !ok {
			break
		}
		if !tb.Evict(rec, at(N+10)) {
			t.Fatalf("final drain could not evict %s", rec.Addr)
		}
		evicted++
	}
	if evicted < G*10 {
		t.Fatalf("evicted %d records, want at least %d", evicted, G*10)
	}
}
