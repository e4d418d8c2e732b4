package gossip

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestUniformJitterBounds(t *testing.T) {
	j := UniformJitter(5*time.Second, 10*time.Second)
	for i := 0; i < 1000; i++ {
		d := j()
		if d < 5*time.Second || d > 10*time.Second {
			t.Fatalf("jitter %s outside [5s, 10s]", d)
		}
	}
	if d := UniformJitter(time.Second, time.Second)(); d != time.Second {
		t.Fatalf("degenerate jitter = %s, want 1s", d)
	}
}

func TestNextDelaySubtractsJitter(t *testing.T) {
	a := &Announcer{frequency: 60 * time.Second, jitter: func() time.Duration { return 7 * time.Second }}
	if got := a.NextDelay(); got != 53*time.Second {
		t.Fatalf("NextDelay = %s, want 53s", got)
	}
	a.jitter = func() time.Duration { return 2 * time.Minute }
	if got := a.NextDelay(); got != time.Millisecond {
		t.Fatalf("NextDelay with oversized jitter = %s, want 1ms floor", got)
	}
}

func TestAnnouncerBroadcastsPeriodically(t *testing.T) {
	cn := NewChannelNetwork(bcastAddr)
	src, _ := cn.Listen(peer(1))
	sink, _ := cn.Listen(peer(2))
	defer sink.Close()

	a := &Announcer{
		tr:        src,
		to:        bcast,
		frequency: 30 * time.Millisecond,
		jitter:    func() time.Duration { return 10 * time.Millisecond },
		log:       zap.NewNop(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- a.Run(ctx) }()

	var froms []netip.AddrPort
	for i := 0; i < 3; i++ {
		p, from := awaitPresence(t, sink, time.Second)
		if p.Interval() != 30*time.Millisecond {
			t.Fatalf("announced %s, want 30ms", p.Interval())
		}
		froms = append(froms, from)
	}
	// First send is immediate, the next two each wait 20ms.
	if el := time.Since(start); el < 40*time.Millisecond {
		t.Fatalf("three announcements in %s, want >= 40ms", el)
	}
	for _, f := range froms {
		if f != peer(1) {
			t.Fatalf("announcement from %s, want %s", f, peer(1))
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("announcer did not stop")
	}
}

type failingTransport struct {
	*ChannelTransport
	sends chan struct{}
}

func (f *failingTransport) Send([]byte, netip.AddrPort) error {
	select {
	case f.sends <- struct{}{}:
	default:
	}
	return ErrClosed
}

func TestAnnouncerKeepsGoingAfterSendFailure(t *testing.T) {
	cn := NewChannelNetwork(bcastAddr)
	ct, _ := cn.Listen(peer(1))
	ft := &failingTransport{ChannelTransport: ct, sends: make(chan struct{}, 8)}

	a := &Announcer{
		tr:        ft,
		to:        bcast,
		frequency: 10 * time.Millisecond,
		jitter:    func() time.Duration { return 0 },
		log:       zap.NewNop(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	for i := 0; i < 3; i++ {
		select {
		case <-ft.sends:
		case <-time.After(time.Second):
			t.Fatalf("announcer stopped after %d failed sends", i)
		}
	}
}
