package node

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/ryandielhenn/pingparty/pkg/gossip"
)

type fakePeers struct {
	recs []gossip.PeerRecord
}

func (f fakePeers) Peers() []gossip.PeerRecord { return f.recs }
func (f fakePeers) Len() int                   { return len(f.recs) }
func (f fakePeers) Frequency() time.Duration   { return 30 * time.Second }
func (f fakePeers) LocalAddr() netip.AddrPort  { return netip.MustParseAddrPort("10.0.0.1:9999") }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	seen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := NewNode(fakePeers{recs: []gossip.PeerRecord{
		{Addr: netip.MustParseAddrPort("10.0.0.2:9999"), LastSeen: seen, Deadline: seen.Add(15 * time.Second)},
		{Addr: netip.MustParseAddrPort("10.0.0.3:9999"), LastSeen: seen, Deadline: seen.Add(time.Minute)},
	}}, "instance-1")
	srv := httptest.NewServer(n.Handler("/metrics"))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	code, body := get(t, srv.URL+"/healthz")
	if code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q, want 200 ok", code, body)
	}
}

func TestInfo(t *testing.T) {
	srv := newTestServer(t)
	code, body := get(t, srv.URL+"/info")
	if code != http.StatusOK {
		t.Fatalf("info status = %d", code)
	}
	var got struct {
		Instance  string  `json:"instance"`
		Local     string  `json:"local"`
		Frequency float64 `json:"frequency"`
		Peers     int     `json:"peers"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	if got.Instance != "instance-1" || got.Local != "10.0.0.1:9999" || got.Frequency != 30 || got.Peers != 2 {
		t.Fatalf("info = %+v", got)
	}
}

func TestPeers(t *testing.T) {
	srv := newTestServer(t)
	_, body := get(t, srv.URL+"/peers")
	var got []peerView
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	if len(got) != 2 {
		t.Fatalf("len(peers) = %d, want 2", len(got))
	}
	if got[0].Addr != "10.0.0.2:9999" || got[0].IntervalSeconds != 15 {
		t.Fatalf("peers[0] = %+v", got[0])
	}
	if got[1].IntervalSeconds != 60 {
		t.Fatalf("peers[1].interval = %v, want 60", got[1].IntervalSeconds)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t)
	get(t, srv.URL+"/healthz")
	code, body := get(t, srv.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status = %d", code)
	}
	for _, want := range []string{"pingparty_peers_tracked", `pingparty_requests_total{op="healthz",status="2xx"}`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %s", want)
		}
	}
}

func TestWrongMethod(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/peers", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /peers = %d, want 405", resp.StatusCode)
	}
}
