package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcgq/netplay/internal/protocol"
	"github.com/mrcgq/netplay/internal/transport"
	"github.com/mrcgq/netplay/internal/world"
)

func TestHandshakeAndInitialReplication(t *testing.T) {
	h := newHarness(t, 4)
	p, shadows := h.newPeer("alice", world.Wizard)

	require.NoError(t, p.Start())
	assert.Equal(t, Connecting, p.State())

	h.run(step)
	require.Equal(t, Connected, p.State())
	assert.NotZero(t, p.NetID())
	assert.Equal(t, uint32(1), p.ConnID())

	conns := h.host.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "alice", conns[0].Name)
	assert.Equal(t, uint8(world.Wizard), conns[0].Class)
	assert.NotEmpty(t, conns[0].Token)

	h.run(300 * time.Millisecond)
	assert.True(t, shadows.HasShadow(p.NetID()), "新连接收到自身实体")
	assert.Equal(t, 1, h.observer.opened)
}

func TestRosterSentToLateJoiner(t *testing.T) {
	h := newHarness(t, 4)
	a, _ := h.newPeer("a", world.Hunter)
	require.NoError(t, a.Start())
	h.run(200 * time.Millisecond)

	b, bShadows := h.newPeer("b", world.Berserker)
	require.NoError(t, b.Start())
	h.run(300 * time.Millisecond)

	require.Equal(t, Connected, b.State())
	assert.True(t, bShadows.HasShadow(a.NetID()))
	assert.True(t, bShadows.HasShadow(b.NetID()))
}

func TestDuplicateHelloResendsWelcome(t *testing.T) {
	h := newHarness(t, 4)
	dropped := false
	h.net.SetDrop(func(from, to string, data []byte) bool {
		if from == "host" && !dropped && len(data) > 4 && data[4] == byte(protocol.ServerWelcome) {
			dropped = true
			return true
		}
		return false
	})

	p, _ := h.newPeer("alice", world.Wizard)
	require.NoError(t, p.Start())
	h.run(50 * time.Millisecond)
	require.True(t, dropped)
	assert.Equal(t, Connecting, p.State())

	h.run(200 * time.Millisecond)
	assert.Equal(t, Connected, p.State())

	stats := h.host.GetStats()
	assert.Equal(t, uint64(1), stats.Accepted)
	assert.Equal(t, 1, stats.Connected)
}

func TestFullTableRejection(t *testing.T) {
	h := newHarness(t, 1)
	a, _ := h.newPeer("a", world.Wizard)
	require.NoError(t, a.Start())
	h.run(50 * time.Millisecond)
	require.Equal(t, Connected, a.State())

	before := h.host.Connections()
	b, _ := h.newPeer("b", world.Wizard)
	require.NoError(t, b.Start())
	h.run(50 * time.Millisecond)

	assert.Equal(t, Stopped, b.State())
	assert.Equal(t, ReasonRejected, b.StopReason())
	assert.Equal(t, Connected, a.State())

	stats := h.host.GetStats()
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, 1, stats.Connected)
	assert.Zero(t, stats.Available)
	assert.Equal(t, 1, h.observer.rejected)
	assert.Equal(t, before[0].ID, h.host.Connections()[0].ID)
	assert.Equal(t, 1, h.world.Len())
}

func TestSpawnFailureRejects(t *testing.T) {
	h := newHarness(t, 2)
	p, _ := h.newPeer("odd", world.Class(42))
	require.NoError(t, p.Start())
	h.run(50 * time.Millisecond)

	assert.Equal(t, Stopped, p.State())
	assert.Equal(t, 2, h.host.GetStats().Available, "生成失败时槽位立即归还")
}

func TestSilenceTimeoutAndNextTickSlotReuse(t *testing.T) {
	h := newHarness(t, 1)
	a, _ := h.newPeer("a", world.Wizard)
	require.NoError(t, a.Start())
	h.run(50 * time.Millisecond)
	require.Equal(t, Connected, a.State())
	netID := a.NetID()

	// a 停止发送，只推进 host
	h.peers = nil
	for i := 0; i < 1000 && h.host.GetStats().Connected > 0; i++ {
		h.host.Tick(step)
	}
	require.Zero(t, h.host.GetStats().Connected)

	assert.False(t, h.world.Exists(netID), "实体已销毁")
	assert.Equal(t, 1, h.observer.closed[ReasonTimeout])
	assert.Zero(t, h.host.GetStats().Available, "同一 tick 内槽位尚未释放")

	h.host.Tick(step)
	assert.Equal(t, 1, h.host.GetStats().Available)

	b, _ := h.newPeer("b", world.Hunter)
	require.NoError(t, b.Start())
	h.run(50 * time.Millisecond)
	assert.Equal(t, Connected, b.State())
}

func TestDisconnectDespawnsDependents(t *testing.T) {
	h := newHarness(t, 2)
	a, _ := h.newPeer("a", world.Wizard)
	require.NoError(t, a.Start())
	h.run(time.Second)

	netID := a.NetID()
	require.NotEmpty(t, h.world.Dependents(netID), "机器人在一秒内开火")

	b, bShadows := h.newPeer("b", world.Hunter)
	require.NoError(t, b.Start())
	h.run(200 * time.Millisecond)
	require.True(t, bShadows.HasShadow(netID))

	require.True(t, h.host.Disconnect(a.ConnID()))
	assert.False(t, h.world.Exists(netID))
	assert.Empty(t, h.world.Dependents(netID))
	assert.False(t, h.host.Disconnect(a.ConnID()))

	// 销毁被复制到其余连接
	h.run(200 * time.Millisecond)
	assert.False(t, bShadows.HasShadow(netID))
}

func TestForeignAndMalformedPacketsDropped(t *testing.T) {
	h := newHarness(t, 2)
	mallory, err := h.net.Listen("mallory")
	require.NoError(t, err)
	hostAddr := transport.MemAddr("host")

	require.NoError(t, mallory.SendTo([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x00}, hostAddr))
	require.NoError(t, mallory.SendTo([]byte{0x4E, 0x50}, hostAddr))

	truncated := protocol.EncodeHello(protocol.Hello{Name: "mallory", Class: 0})
	require.NoError(t, mallory.SendTo(truncated[:len(truncated)-3], hostAddr))

	require.NoError(t, mallory.SendTo(protocol.EncodeClientPing(protocol.AckWindow{}), hostAddr))

	h.host.Tick(step)

	assert.Empty(t, mallory.Poll(), "不回复")
	assert.Zero(t, h.host.GetStats().Connected)
	assert.Equal(t, 2, h.observer.dropped["header"])
	assert.Equal(t, 1, h.observer.dropped["malformed"])
	assert.Equal(t, 1, h.observer.dropped["unknown"])
}

func TestUnknownKindFromKnownAddressResetsSilence(t *testing.T) {
	h := newHarness(t, 1)
	raw, err := h.net.Listen("raw")
	require.NoError(t, err)
	hostAddr := transport.MemAddr("host")

	require.NoError(t, raw.SendTo(protocol.EncodeHello(protocol.Hello{Name: "raw", Class: uint8(world.Wizard)}), hostAddr))
	h.host.Tick(step)
	require.Equal(t, 1, h.host.GetStats().Connected)

	w := protocol.NewWriter(protocol.HeaderSize)
	protocol.WriteHeader(w, 0x7F)
	unknown := w.Bytes()

	// 只发送未知类型的消息，持续两倍断开超时
	for elapsed := time.Duration(0); elapsed < 2*h.timing.DisconnectTimeout; elapsed += 100 * time.Millisecond {
		require.NoError(t, raw.SendTo(unknown, hostAddr))
		h.runHostOnly(100 * time.Millisecond)
		raw.Poll()
	}

	assert.Equal(t, 1, h.host.GetStats().Connected)
	assert.Zero(t, h.observer.closed[ReasonTimeout])
	assert.Positive(t, h.observer.dropped["kind"])
	conns := h.host.Connections()
	require.Len(t, conns, 1)
	assert.Less(t, conns[0].Silence, time.Second)
}

func TestReplicationReplayedAfterLoss(t *testing.T) {
	h := newHarness(t, 2)
	a, shadows := h.newPeer("a", world.Hunter)
	require.NoError(t, a.Start())
	h.run(200 * time.Millisecond)
	require.True(t, shadows.HasShadow(a.NetID()))

	h.net.SetDrop(func(from, to string, data []byte) bool {
		return from == "host" && len(data) > 4 && data[4] == byte(protocol.ServerReplication)
	})

	npc, err := h.world.Spawn(uint8(world.Berserker), "npc")
	require.NoError(t, err)
	h.host.NetworkCreate(npc, 0)

	h.run(1500 * time.Millisecond)
	assert.False(t, shadows.HasShadow(npc))
	assert.Greater(t, h.observer.lost, 0)
	assert.Greater(t, h.observer.replayed, 0, "丢包后命令被重新登记")

	// 第二次重新登记发生在恢复之后
	h.net.SetDrop(nil)
	h.run(1500 * time.Millisecond)
	assert.True(t, shadows.HasShadow(npc), "重新登记的 Create 最终送达")
}

func TestInputAppliedInOrder(t *testing.T) {
	h := newHarness(t, 2)
	a, _ := h.newPeer("a", world.Hunter)
	require.NoError(t, a.Start())
	h.run(step)
	spawn, ok := h.world.Get(a.NetID())
	require.True(t, ok)

	h.run(time.Second)

	conns := h.host.Connections()
	require.Len(t, conns, 1)
	assert.Greater(t, conns[0].LastInput, uint32(50))
	assert.Greater(t, h.observer.applied, 50)

	moved, _ := h.world.Get(a.NetID())
	assert.NotEqual(t, spawn.X, moved.X)

	// host 确认的输入已从环形缓冲区移除
	assert.Less(t, a.GetStats().PendingInputs, h.timing.InputBufferSize)
}

func TestNetworkDestroyAfter(t *testing.T) {
	h := newHarness(t, 1)
	h.host.timing.MaxDelayedDestroys = 1

	id, _ := h.world.Spawn(uint8(world.Hunter), "npc")
	require.NoError(t, h.host.NetworkDestroyAfter(id, 100*time.Millisecond))
	require.NoError(t, h.host.NetworkDestroyAfter(id, 50*time.Millisecond), "保留较短的延迟")

	other, _ := h.world.Spawn(uint8(world.Hunter), "other")
	err := h.host.NetworkDestroyAfter(other, time.Second)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))

	h.host.Tick(40 * time.Millisecond)
	assert.True(t, h.world.Exists(id))
	h.host.Tick(20 * time.Millisecond)
	assert.False(t, h.world.Exists(id))
	assert.Zero(t, h.host.GetStats().DelayedDestroys)

	require.NoError(t, h.host.NetworkDestroyAfter(other, time.Second))
}

func TestHostStop(t *testing.T) {
	h := newHarness(t, 2)
	a, shadows := h.newPeer("a", world.Wizard)
	require.NoError(t, a.Start())
	h.run(300 * time.Millisecond)
	require.NotZero(t, shadows.Len())

	require.NoError(t, h.host.Stop())
	assert.Equal(t, Stopped, h.host.State())
	assert.Zero(t, h.world.Len())
	assert.Equal(t, Stopped, h.host.Snapshot().Stats.State)

	// host 端点已移除，peer 的下一次发送得到连接重置
	h.run(100 * time.Millisecond)
	assert.Equal(t, Stopped, a.State())
	assert.Equal(t, ReasonReset, a.StopReason())
	assert.Zero(t, shadows.Len())

	// 可以重新启动
	require.NoError(t, h.host.Start())
	assert.ErrorIs(t, h.host.Start(), ErrAlreadyStarted)
}

func TestHostStartFailure(t *testing.T) {
	boom := errors.New("bind failed")
	host, err := NewHost(HostContext{
		Listen:     func() (transport.Transport, error) { return nil, boom },
		Simulation: world.New(step),
	}, 1, DefaultTiming())
	require.NoError(t, err)

	err = host.Start()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Stopped, host.State())

	_, err = NewHost(HostContext{Simulation: world.New(step)}, 1, DefaultTiming())
	assert.Error(t, err)
}

func TestHostSnapshot(t *testing.T) {
	h := newHarness(t, 3)
	a, _ := h.newPeer("a", world.Wizard)
	require.NoError(t, a.Start())
	h.run(50 * time.Millisecond)

	snap := h.host.Snapshot()
	assert.Equal(t, Listening, snap.Stats.State)
	assert.Equal(t, 3, snap.Stats.Capacity)
	assert.Equal(t, 1, snap.Stats.Connected)
	require.Len(t, snap.Connections, 1)
	assert.Equal(t, "a", snap.Connections[0].Name)
}
