package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrcgq/netplay/internal/transport"
	"github.com/mrcgq/netplay/internal/world"
)

const step = 10 * time.Millisecond

type countingObserver struct {
	NopObserver
	mu       sync.Mutex
	opened   int
	closed   map[string]int
	rejected int
	dropped  map[string]int
	replayed int
	lost     int
	applied  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{closed: make(map[string]int), dropped: make(map[string]int)}
}

func (o *countingObserver) SessionOpened() {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *countingObserver) SessionRejected() {
	o.mu.Lock()
	o.rejected++
	o.mu.Unlock()
}

func (o *countingObserver) ReplicationReplayed(n int) {
	o.mu.Lock()
	o.replayed += n
	o.mu.Unlock()
}

func (o *countingObserver) SessionClosed(reason string) {
	o.mu.Lock()
	o.closed[reason]++
	o.mu.Unlock()
}

func (o *countingObserver) PacketDropped(reason string) {
	o.mu.Lock()
	o.dropped[reason]++
	o.mu.Unlock()
}

func (o *countingObserver) DeliveryResolved(outcome string) {
	if outcome == "lost" {
		o.mu.Lock()
		o.lost++
		o.mu.Unlock()
	}
}

func (o *countingObserver) InputApplied(applied, _ int) {
	o.mu.Lock()
	o.applied += applied
	o.mu.Unlock()
}

type harness struct {
	t        *testing.T
	net      *transport.MemoryNetwork
	world    *world.World
	host     *Host
	observer *countingObserver
	timing   Timing
	peers    []*Peer
}

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		net:      transport.NewMemoryNetwork(),
		world:    world.New(step),
		observer: newCountingObserver(),
		timing:   DefaultTiming(),
	}
	host, err := NewHost(HostContext{
		Listen: func() (transport.Transport, error) {
			return h.net.Listen("host")
		},
		Simulation: h.world,
		Observer:   h.observer,
	}, capacity, h.timing)
	require.NoError(t, err)
	require.NoError(t, host.Start())
	h.world.SetReplicator(host)
	h.host = host
	return h
}

func (h *harness) newPeer(name string, class world.Class) (*Peer, *world.ShadowTable) {
	h.t.Helper()
	shadows := world.NewShadowTable(step)
	p, err := NewPeer(PeerContext{
		Dial: func() (transport.Transport, error) {
			return h.net.Dial(name, "host")
		},
		Replica: shadows,
		Input:   world.NewBot(int64(len(h.peers) + 1)),
	}, name, uint8(class), h.timing)
	require.NoError(h.t, err)
	h.peers = append(h.peers, p)
	return p, shadows
}

// run 推进 host 与全部 peer
func (h *harness) run(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		h.host.Tick(step)
		for _, p := range h.peers {
			p.Tick(step)
		}
	}
}

// runHostOnly 只推进 host，模拟 peer 静默
func (h *harness) runHostOnly(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		h.host.Tick(step)
	}
}
