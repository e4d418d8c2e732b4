package gossip

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config describes how this node announces itself.
type Config struct {
	// Frequency is the announce interval advertised to peers.
	Frequency time.Duration
	// JitterMin and JitterMax bound the random amount subtracted from
	// Frequency before each sleep.
	JitterMin time.Duration
	JitterMax time.Duration
	// Broadcast is where announcements are sent.
	Broadcast netip.AddrPort
	// HonorStop makes a received Stop message shut the node down.
	HonorStop bool
}

func (c Config) validate() error {
	switch {
	case c.Frequency <= 0:
		return errors.New("gossip: frequency must be positive")
	case c.JitterMin < 0 || c.JitterMax < c.JitterMin:
		return fmt.Errorf("gossip: invalid jitter range [%s, %s]", c.JitterMin, c.JitterMax)
	case c.JitterMax >= c.Frequency:
		return fmt.Errorf("gossip: jitter max %s must be below frequency %s", c.JitterMax, c.Frequency)
	case !c.Broadcast.IsValid():
		return errors.New("gossip: broadcast address required")
	}
	return nil
}

type Option func(*Gossiper)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gossiper) { g.log = l }
}

// WithObserver adds an observer. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(g *Gossiper) { g.observers = append(g.observers, o) }
}

// WithClock replaces time.Now for heartbeat and eviction timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gossiper) { g.now = now }
}

// WithJitter replaces the uniform jitter source of the announcer.
func WithJitter(j func() time.Duration) Option {
	return func(g *Gossiper) { g.jitter = j }
}

// Gossiper owns the transport and the peer table and runs the announcer,
// listener and supervisor loops over them.
type Gossiper struct {
	cfg       Config
	tr        Transport
	table     *PeerTable
	log       *zap.Logger
	observers Observers
	now       func() time.Time
	jitter    func() time.Duration
}

func New(cfg Config, tr Transport, opts ...Option) (*Gossiper, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, errors.New("gossip: nil transport")
	}
	g := &Gossiper{
		cfg:   cfg,
		tr:    tr,
		table: NewPeerTable(),
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.jitter == nil {
		g.jitter = UniformJitter(cfg.JitterMin, cfg.JitterMax)
	}
	return g, nil
}

// Run blocks until ctx is done or a Stop message is received. The three
// loops share one context: when any of them returns the others are
// cancelled. The transport is closed on return.
func (g *Gossiper) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)

	g.log.Info("gossip started",
		zap.Stringer("local", g.tr.LocalAddr()),
		zap.Stringer("broadcast", g.cfg.Broadcast),
		zap.Duration("frequency", g.cfg.Frequency),
	)

	eg.Go(func() error {
		defer cancel()
		return g.listener().Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		return g.announcer().Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		return g.supervisor().Run(ctx)
	})
	// Receive does not watch ctx, so closing the transport is what
	// unblocks the listener.
	eg.Go(func() error {
		<-ctx.Done()
		return g.tr.Close()
	})

	err := eg.Wait()
	g.log.Info("gossip stopped", zap.Int("peers", g.table.Len()))
	return err
}

// Peers returns a snapshot of all tracked peers ordered by address.
func (g *Gossiper) Peers() []PeerRecord { return g.table.Snapshot() }

func (g *Gossiper) Len() int { return g.table.Len() }

func (g *Gossiper) Frequency() time.Duration { return g.cfg.Frequency }

func (g *Gossiper) LocalAddr() netip.AddrPort { return g.tr.LocalAddr() }

func (g *Gossiper) listener() *Listener {
	return &Listener{
		tr:        g.tr,
		table:     g.table,
		frequency: g.cfg.Frequency,
		honorStop: g.cfg.HonorStop,
		observer:  g.observers,
		now:       g.now,
		log:       g.log.Named("listener"),
	}
}

func (g *Gossiper) announcer() *Announcer {
	return &Announcer{
		tr:        g.tr,
		to:        g.cfg.Broadcast,
		frequency: g.cfg.Frequency,
		jitter:    g.jitter,
		log:       g.log.Named("announcer"),
	}
}

func (g *Gossiper) supervisor() *Supervisor {
	return &Supervisor{
		table:    g.table,
		observer: g.observers,
		now:      g.now,
		log:      g.log.Named("supervisor"),
	}
}
