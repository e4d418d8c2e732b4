// Package discovery mirrors this node's live peer view into etcd so that
// other tooling can watch it. Keys carry leases sized to each peer's
// announce interval, so a crashed node's view expires on its own.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/pingparty/pkg/gossip"
)

const (
	queueSize  = 256
	nodeTTL    = 10 // seconds
	opTimeout  = 3 * time.Second
	revokeWait = 2 * time.Second
)

func NewClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

type kvAPI interface {
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

type leaseAPI interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
}

type event struct {
	rec  gossip.PeerRecord
	lost bool
}

// PeerValue is stored under each peer key.
type PeerValue struct {
	LastSeen        time.Time `json:"last_seen"`
	Deadline        time.Time `json:"deadline"`
	IntervalSeconds float64   `json:"interval_seconds"`
}

// Mirror is a gossip.Observer that writes peer events to etcd from its own
// goroutine. Events that arrive while the queue is full are dropped.
type Mirror struct {
	kv       kvAPI
	lease    leaseAPI
	prefix   string
	instance string
	self     string
	events   chan event
	log      *zap.Logger
}

// NewMirror writes under <prefix>/nodes/<instance> and
// <prefix>/peers/<instance>/<addr>. self is the advertised local address.
func NewMirror(cli *clientv3.Client, prefix, instance, self string, log *zap.Logger) *Mirror {
	return newMirror(cli, cli, prefix, instance, self, log)
}

func newMirror(kv kvAPI, lease leaseAPI, prefix, instance, self string, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{
		kv:       kv,
		lease:    lease,
		prefix:   prefix,
		instance: instance,
		self:     self,
		events:   make(chan event, queueSize),
		log:      log,
	}
}

func (m *Mirror) NodeKey() string {
	return fmt.Sprintf("%s/nodes/%s", m.prefix, m.instance)
}

func (m *Mirror) PeerKey(rec gossip.PeerRecord) string {
	return fmt.Sprintf("%s/peers/%s/%s", m.prefix, m.instance, rec.Addr)
}

func (m *Mirror) PeerSeen(rec gossip.PeerRecord, _ bool) {
	m.enqueue(event{rec: rec})
}

func (m *Mirror) PeerLost(rec gossip.PeerRecord, _ time.Duration) {
	m.enqueue(event{rec: rec, lost: true})
}

func (m *Mirror) enqueue(ev event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("etcd mirror queue full, dropping event", zap.Stringer("peer", ev.rec.Addr))
	}
}

// Run registers this node and applies queued events until ctx is done.
// etcd errors are logged, never returned: the mirror must not take the
// node down with it.
func (m *Mirror) Run(ctx context.Context) error {
	leaseID, err := m.register(ctx)
	if err != nil {
		m.log.Warn("etcd node registration failed", zap.String("key", m.NodeKey()), zap.Error(err))
	} else {
		defer m.revoke(leaseID)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			if err := m.apply(ctx, ev); err != nil {
				m.log.Warn("etcd mirror write failed", zap.Stringer("peer", ev.rec.Addr), zap.Error(err))
			}
		}
	}
}

func (m *Mirror) register(ctx context.Context) (clientv3.LeaseID, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	lease, err := m.lease.Grant(opCtx, nodeTTL)
	if err != nil {
		return 0, err
	}
	if _, err := m.kv.Put(opCtx, m.NodeKey(), m.self, clientv3.WithLease(lease.ID)); err != nil {
		return 0, err
	}

	ka, err := m.lease.KeepAlive(ctx, lease.ID)
	if err != nil {
		return 0, err
	}
	// The client logs a warning if keepalive responses back up.
	go func() {
		for range ka {
		}
	}()
	m.log.Info("registered with etcd", zap.String("key", m.NodeKey()))
	return lease.ID, nil
}

func (m *Mirror) revoke(id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), revokeWait)
	defer cancel()
	if _, err := m.lease.Revoke(ctx, id); err != nil {
		m.log.Warn("etcd lease revoke failed", zap.Error(err))
	}
}

func (m *Mirror) apply(ctx context.Context, ev event) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := m.PeerKey(ev.rec)
	if ev.lost {
		_, err := m.kv.Delete(ctx, key)
		return err
	}

	val, err := json.Marshal(PeerValue{
		LastSeen:        ev.rec.LastSeen,
		Deadline:        ev.rec.Deadline,
		IntervalSeconds: ev.rec.Interval().Seconds(),
	})
	if err != nil {
		return err
	}
	lease, err := m.lease.Grant(ctx, LeaseTTL(ev.rec.Interval()))
	if err != nil {
		return err
	}
	_, err = m.kv.Put(ctx, key, string(val), clientv3.WithLease(lease.ID))
	return err
}

// LeaseTTL is the whole-second lease covering one announce interval.
func LeaseTTL(interval time.Duration) int64 {
	return max(1, int64(math.Ceil(interval.Seconds())))
}
