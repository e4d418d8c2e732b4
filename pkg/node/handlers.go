package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"
)

// Healthz returns 200 OK to indicate the process is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload with the process ID, instance, current time,
// local address, announce frequency and tracked peer count.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID       int       `json:"pid"`
		Instance  string    `json:"instance"`
		Now       time.Time `json:"now"`
		Local     string    `json:"local"`
		Frequency float64   `json:"frequency"`
		Peers     int       `json:"peers"`
	}
	writeJSON(w, resp{
		PID:       os.Getpid(),
		Instance:  n.instance,
		Now:       n.now(),
		Local:     n.peers.LocalAddr().String(),
		Frequency: n.peers.Frequency().Seconds(),
		Peers:     n.peers.Len(),
	})
}

type peerView struct {
	Addr            string    `json:"addr"`
	LastSeen        time.Time `json:"last_seen"`
	Deadline        time.Time `json:"deadline"`
	IntervalSeconds float64   `json:"interval_seconds"`
}

// Peers lists every tracked peer ordered by address.
func (n *Node) Peers(w http.ResponseWriter, _ *http.Request) {
	recs := n.peers.Peers()
	out := make([]peerView, 0, len(recs))
	for _, r := range recs {
		out = append(out, peerView{
			Addr:            r.Addr.String(),
			LastSeen:        r.LastSeen,
			Deadline:        r.Deadline,
			IntervalSeconds: r.Interval().Seconds(),
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
