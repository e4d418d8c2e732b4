package gossip

import "time"

// Observer receives peer lifecycle events. Calls happen on the listener
// and supervisor goroutines, so implementations must not block.
type Observer interface {
	PeerSeen(rec PeerRecord, isNew bool)
	PeerLost(rec PeerRecord, waited time.Duration)
}

// Observers fans events out to each member in order.
type Observers []Observer

func (obs Observers) PeerSeen(rec PeerRecord, isNew bool) {
	for _, o := range obs {
		o.PeerSeen(rec, isNew)
	}
}

func (obs Observers) PeerLost(rec PeerRecord, waited time.Duration) {
	for _, o := range obs {
		o.PeerLost(rec, waited)
	}
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Seen func(rec PeerRecord, isNew bool)
	Lost func(rec PeerRecord, waited time.Duration)
}

func (f ObserverFuncs) PeerSeen(rec PeerRecord, isNew bool) {
	if f.Seen != nil {
		f.Seen(rec, isNew)
	}
}

func (f ObserverFuncs) PeerLost(rec PeerRecord, waited time.Duration) {
	if f.Lost != nil {
		f.Lost(rec, waited)
	}
}
