package gossip

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/pingparty/internal/telemetry"
)

// MaxDatagramSize bounds a single receive. Larger datagrams are truncated
// and will fail to decode.
const MaxDatagramSize = 1024

// Pause bounds after a failed Receive. The pause doubles on each
// consecutive failure and resets after a good read.
const (
	minReceiveBackoff = 10 * time.Millisecond
	maxReceiveBackoff = time.Second
)

// Listener is the single consumer of inbound datagrams.
type Listener struct {
	tr        Transport
	table     *PeerTable
	frequency time.Duration
	honorStop bool
	observer  Observer
	now       func() time.Time
	log       *zap.Logger
}

// Run receives until a Stop message arrives, the transport is closed, or
// ctx is done. It returns nil in all three cases.
func (l *Listener) Run(ctx context.Context) error {
	buf := make([]byte, MaxDatagramSize)
	var backoff time.Duration
	for {
		n, from, err := l.tr.Receive(buf)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			backoff = min(max(2*backoff, minReceiveBackoff), maxReceiveBackoff)
			l.log.Warn("receive failed", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			continue
		}
		backoff = 0
		if ctx.Err() != nil {
			return nil
		}
		if stop := l.handle(buf[:n], from); stop {
			l.log.Info("stop requested", zap.Stringer("peer", from))
			return nil
		}
	}
}

// handle processes one datagram and reports whether the loop should end.
func (l *Listener) handle(b []byte, from netip.AddrPort) bool {
	t := l.now()
	l.log.Debug("received datagram", zap.Stringer("peer", from), zap.Int("bytes", len(b)))

	msg, err := Decode(b)
	if err != nil {
		telemetry.DecodeErrors.Inc()
		l.log.Warn("dropping undecodable datagram", zap.Stringer("peer", from), zap.Error(err))
		return false
	}
	telemetry.MessagesReceived.WithLabelValues(msg.Kind()).Inc()

	switch m := msg.(type) {
	case Presence:
		rec, isNew := l.table.Observe(from, m.Interval(), t)
		if isNew {
			telemetry.HeartbeatsTotal.WithLabelValues("new").Inc()
			l.log.Info("received heartbeat from new peer",
				zap.Stringer("peer", from), zap.Duration("interval", rec.Interval()))
		} else {
			telemetry.HeartbeatsTotal.WithLabelValues("refresh").Inc()
			l.log.Debug("received heartbeat",
				zap.Stringer("peer", from), zap.Duration("interval", rec.Interval()))
		}
		l.observer.PeerSeen(rec, isNew)
	case Query:
		l.reply(from)
	case Stop:
		if l.honorStop {
			return true
		}
		l.log.Debug("ignoring stop", zap.Stringer("peer", from))
	case WakeUp, Unrecognized:
		l.log.Debug("ignoring message", zap.Stringer("peer", from), zap.String("kind", msg.Kind()))
	}
	return false
}

func (l *Listener) reply(to netip.AddrPort) {
	payload, err := Encode(NewPresence(l.frequency))
	if err == nil {
		l.log.Debug("sending presence", zap.Stringer("to", to))
		err = l.tr.Send(payload, to)
	}
	if err != nil {
		telemetry.SendErrors.WithLabelValues("reply").Inc()
		l.log.Warn("reply failed", zap.Stringer("to", to), zap.Error(err))
		return
	}
	telemetry.MessagesSent.WithLabelValues("reply").Inc()
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
