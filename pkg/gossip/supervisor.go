package gossip

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/pingparty/internal/telemetry"
)

// Supervisor sleeps until the soonest peer deadline and evicts that peer
// if no table change arrives first. With an empty table it sleeps until
// the first heartbeat.
type Supervisor struct {
	table    *PeerTable
	observer Observer
	now      func() time.Time
	log      *zap.Logger
}

func (s *Supervisor) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		rec, ok := s.table.MinDeadline()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.table.Changed():
			}
			continue
		}

		started := s.now()
		if wait := rec.Deadline.Sub(started); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return nil
			case <-s.table.Changed():
				// Any change defers the check, even for an unrelated peer.
				timer.Stop()
				continue
			case <-timer.C:
			}
		}
		s.expire(rec, started)
	}
}

func (s *Supervisor) expire(rec PeerRecord, started time.Time) {
	now := s.now()
	if !s.table.Evict(rec, now) {
		// Refreshed between MinDeadline and Evict, or the clock has not
		// reached the deadline yet. Either way re-evaluate.
		telemetry.EvictionRacesTotal.Inc()
		return
	}
	waited := now.Sub(started)
	telemetry.EvictionsTotal.Inc()
	s.log.Warn("heartbeat timed out",
		zap.Stringer("peer", rec.Addr),
		zap.Duration("waited", waited),
		zap.Duration("interval", rec.Interval()),
		zap.Duration("silence", now.Sub(rec.LastSeen)),
	)
	s.observer.PeerLost(rec, waited)
}
