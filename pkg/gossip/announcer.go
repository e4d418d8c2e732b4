package gossip

import (
	"context"
	"math/rand/v2"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/pingparty/internal/telemetry"
)

// Announcer broadcasts this node's Presence every frequency minus a
// random jitter, so nodes started together drift apart instead of
// broadcasting in lockstep.
type Announcer struct {
	tr        Transport
	to        netip.AddrPort
	frequency time.Duration
	jitter    func() time.Duration
	log       *zap.Logger
}

// UniformJitter returns a source of durations drawn uniformly from
// [lo, hi].
func UniformJitter(lo, hi time.Duration) func() time.Duration {
	return func() time.Duration {
		if hi <= lo {
			return lo
		}
		return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
	}
}

// NextDelay is the sleep before the next announcement. It never drops
// below a millisecond, even if jitter exceeds the frequency.
func (a *Announcer) NextDelay() time.Duration {
	d := a.frequency - a.jitter()
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// Run announces immediately, then on every jittered tick until ctx is done.
// Send failures are logged and never stop the loop.
func (a *Announcer) Run(ctx context.Context) error {
	payload, err := Encode(NewPresence(a.frequency))
	if err != nil {
		return err
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		a.log.Debug("sending presence", zap.Stringer("to", a.to))
		if err := a.tr.Send(payload, a.to); err != nil {
			telemetry.SendErrors.WithLabelValues("announce").Inc()
			a.log.Warn("announce failed", zap.Stringer("to", a.to), zap.Error(err))
		} else {
			telemetry.MessagesSent.WithLabelValues("announce").Inc()
		}
		timer.Reset(a.NextDelay())
	}
}
