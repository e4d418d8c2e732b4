package node

import (
	"net/http"
	"net/netip"
	"time"

	"github.com/ryandielhenn/pingparty/internal/telemetry"
	"github.com/ryandielhenn/pingparty/pkg/gossip"
)

// PeerSource is the read side of a running gossiper.
type PeerSource interface {
	Peers() []gossip.PeerRecord
	Len() int
	Frequency() time.Duration
	LocalAddr() netip.AddrPort
}

// Node serves the admin HTTP surface of one pingparty process.
type Node struct {
	peers    PeerSource
	instance string
	now      func() time.Time
}

func NewNode(peers PeerSource, instance string) *Node {
	return &Node{peers: peers, instance: instance, now: time.Now}
}

func (n *Node) Instance() string {
	return n.instance
}

// Handler mounts every admin route, each instrumented under its own op.
func (n *Node) Handler(metricsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("GET /info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("GET /peers", telemetry.Instrument("peers", http.HandlerFunc(n.Peers)))
	mux.Handle("GET "+metricsPath, telemetry.MetricsHandler())
	return mux
}
