package gossip

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Wire names. These are the exact strings peers put in the "name" field.
const (
	NameQuery    = "Are you there?"
	NamePresence = "I am here."
	NameWakeUp   = "WAKE UP!"
	NameStop     = "STOP!"
)

var (
	ErrMalformed    = errors.New("gossip: malformed message")
	ErrBadFrequency = errors.New("gossip: bad frequency")
)

// Message is one of Presence, Query, Stop, WakeUp or Unrecognized.
type Message interface {
	// Kind is a short label for logs and metrics.
	Kind() string
	sealed()
}

// Presence announces that the sender is alive and will announce again
// within Frequency seconds.
type Presence struct {
	Frequency float64
}

// Query asks the receiver to answer with a Presence.
type Query struct{}

// Stop asks the receiver to shut down.
type Stop struct{}

// WakeUp is reserved in the protocol vocabulary and has no handler.
type WakeUp struct{}

// Unrecognized carries a name outside the vocabulary, or "" when the
// name was missing.
type Unrecognized struct {
	Name string
}

func (Presence) Kind() string     { return "presence" }
func (Query) Kind() string        { return "query" }
func (Stop) Kind() string         { return "stop" }
func (WakeUp) Kind() string       { return "wake_up" }
func (Unrecognized) Kind() string { return "unrecognized" }

func (Presence) sealed()     {}
func (Query) sealed()        {}
func (Stop) sealed()         {}
func (WakeUp) sealed()       {}
func (Unrecognized) sealed() {}

// Interval converts the announced frequency to a duration.
func (p Presence) Interval() time.Duration {
	return Seconds(p.Frequency)
}

// Seconds converts fractional seconds to a duration, rounded to the
// nearest nanosecond. Callers must keep s within the range of
// time.Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// NewPresence builds a Presence from an announce interval.
func NewPresence(interval time.Duration) Presence {
	return Presence{Frequency: interval.Seconds()}
}

type wireMessage struct {
	Name      *string  `json:"name,omitempty"`
	Frequency *float64 `json:"frequency,omitempty"`
}

// Encode renders m as a JSON datagram payload.
func Encode(m Message) ([]byte, error) {
	var name string
	var w wireMessage
	switch m := m.(type) {
	case Presence:
		if err := checkFrequency(m.Frequency); err != nil {
			return nil, err
		}
		name = NamePresence
		f := m.Frequency
		w.Frequency = &f
	case Query:
		name = NameQuery
	case Stop:
		name = NameStop
	case WakeUp:
		name = NameWakeUp
	case Unrecognized:
		name = m.Name
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrMalformed, m)
	}
	w.Name = &name
	return json.Marshal(w)
}

// Decode parses a datagram payload. Unknown or missing names decode to
// Unrecognized; only structurally broken payloads and bad presence
// frequencies are errors.
func Decode(b []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	var name string
	if v, ok := raw["name"]; ok {
		if err := json.Unmarshal(v, &name); err != nil {
			return Unrecognized{}, nil
		}
	}

	switch name {
	case NamePresence:
		v, ok := raw["frequency"]
		if !ok {
			return nil, fmt.Errorf("%w: missing", ErrBadFrequency)
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFrequency, err)
		}
		if err := checkFrequency(f); err != nil {
			return nil, err
		}
		return Presence{Frequency: f}, nil
	case NameQuery:
		return Query{}, nil
	case NameStop:
		return Stop{}, nil
	case NameWakeUp:
		return WakeUp{}, nil
	default:
		return Unrecognized{Name: name}, nil
	}
}

// checkFrequency accepts f only if it converts to a positive
// time.Duration, so a deadline always lands after the heartbeat.
func checkFrequency(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return fmt.Errorf("%w: %v", ErrBadFrequency, f)
	}
	if f*float64(time.Second) >= math.MaxInt64 {
		return fmt.Errorf("%w: %v overflows a duration", ErrBadFrequency, f)
	}
	if Seconds(f) <= 0 {
		return fmt.Errorf("%w: %v is below a nanosecond", ErrBadFrequency, f)
	}
	return nil
}
