// =============================================================================
// 文件: internal/session/host.go
// 描述: host 侧会话状态机 - 握手、心跳、复制、超时拆除
// =============================================================================

package session

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mrcgq/netplay/internal/delivery"
	"github.com/mrcgq/netplay/internal/input"
	"github.com/mrcgq/netplay/internal/protocol"
	"github.com/mrcgq/netplay/internal/transport"
)

// 断开原因
const (
	ReasonTimeout  = "timeout"
	ReasonReset    = "reset"
	ReasonStopped  = "stopped"
	ReasonRejected = "rejected"
	ReasonLocal    = "disconnect"
)

type delayedDestroy struct {
	netID     uint32
	remaining time.Duration
}

// HostStats host 统计
type HostStats struct {
	State           State
	Capacity        int
	Connected       int
	Available       int
	Accepted        uint64
	Rejected        uint64
	TimedOut        uint64
	Resets          uint64
	DelayedDestroys int
}

// Host 权威端。所有方法只能在 tick 所在协程中调用。
type Host struct {
	listen   Opener
	sim      Simulation
	logger   *zap.Logger
	observer Observer
	timing   Timing

	state     State
	tr        transport.Transport
	table     *Table
	nextID    uint32
	pingTimer time.Duration
	delayed   []delayedDestroy

	accepted uint64
	rejected uint64
	timedOut uint64
	resets   uint64

	snap atomic.Pointer[Snapshot]
}

// Snapshot 每个 tick 结束时发布的只读快照，可在其他协程读取
type Snapshot struct {
	Stats       HostStats
	Connections []ConnectionInfo
}

// NewHost 创建 host
func NewHost(ctx HostContext, capacity int, timing Timing) (*Host, error) {
	if ctx.Listen == nil {
		return nil, errors.New("未提供传输监听函数")
	}
	if ctx.Simulation == nil {
		return nil, errors.New("未提供模拟协作者")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("无效的容量: %d", capacity)
	}
	return &Host{
		listen:   ctx.Listen,
		sim:      ctx.Simulation,
		logger:   orNop(ctx.Logger).Named("host"),
		observer: orNopObserver(ctx.Observer),
		timing:   timing,
		table:    NewTable(capacity),
	}, nil
}

// Start 打开传输端点并开始接受连接
func (h *Host) Start() error {
	if h.state != Stopped {
		return ErrAlreadyStarted
	}
	tr, err := h.listen()
	if err != nil {
		return fmt.Errorf("启动 host: %w", err)
	}
	h.tr = tr
	h.state = Listening
	h.pingTimer = 0
	h.publish()
	h.logger.Info("host 已启动",
		zap.Stringer("addr", tr.LocalAddr()),
		zap.Int("capacity", h.table.Cap()))
	return nil
}

// Stop 销毁全部网络实体，拆除全部连接并关闭传输
func (h *Host) Stop() error {
	if h.state == Stopped {
		return nil
	}
	for _, c := range h.table.Connected() {
		h.teardown(c, ReasonStopped)
	}
	for _, id := range h.sim.Roster() {
		h.sim.Despawn(id)
	}
	h.table.ReleasePending()
	h.delayed = nil
	h.nextID = 0
	h.state = Stopped

	err := h.tr.Close()
	h.tr = nil
	h.publish()
	h.logger.Info("host 已停止")
	return err
}

// State 当前状态
func (h *Host) State() State { return h.state }

// LocalAddr 监听地址
func (h *Host) LocalAddr() net.Addr {
	if h.tr == nil {
		return nil
	}
	return h.tr.LocalAddr()
}

// Tick 推进一个模拟步
func (h *Host) Tick(dt time.Duration) {
	if h.state != Listening {
		return
	}

	// 上一个 tick 拆除的槽位此时才可复用
	h.table.ReleasePending()

	for _, d := range h.tr.Poll() {
		h.handleDatagram(d)
	}

	h.tickDelayedDestroys(dt)

	h.pingTimer += dt
	sendPing := h.pingTimer >= h.timing.PingInterval
	if sendPing {
		h.pingTimer = 0
	}

	for _, c := range h.table.Connected() {
		c.silence += dt
		if c.silence >= h.timing.DisconnectTimeout {
			h.timedOut++
			h.teardown(c, ReasonTimeout)
			continue
		}

		c.tracker.Tick(dt)

		if sendPing {
			h.send(c, protocol.EncodeServerPing(), protocol.ServerPing.String())
		}

		c.replicationTimer += dt
		if c.replicationTimer >= h.timing.ReplicationInterval {
			c.replicationTimer = 0
			h.flushReplication(c)
		}
	}

	h.publish()
}

// =============================================================================
// 入站处理
// =============================================================================

func (h *Host) handleDatagram(d transport.Datagram) {
	if d.Err != nil {
		if c, ok := h.lookup(d.Addr); ok && errors.Is(d.Err, transport.ErrConnectionReset) {
			h.resets++
			h.teardown(c, ReasonReset)
		}
		return
	}

	r := protocol.NewReader(d.Data)
	kind, err := protocol.ReadHeader(r)
	if err != nil {
		h.drop("header", d.Addr, err)
		return
	}

	msg := protocol.ClientMessage(kind)
	c, known := h.lookup(d.Addr)
	h.observer.PacketReceived(msg.String(), len(d.Data))
	if known {
		// 已知地址的任何消息都重置静默计时
		c.silence = 0
	}

	switch msg {
	case protocol.ClientHello:
		hello, err := protocol.DecodeHello(r)
		if err != nil {
			h.drop("malformed", d.Addr, err)
			return
		}
		if known {
			// Welcome 丢失时 peer 会重发 Hello
			h.send(c, protocol.EncodeWelcome(protocol.Welcome{ConnID: c.ID, NetID: c.NetID}), protocol.ServerWelcome.String())
			return
		}
		h.accept(d.Addr, hello)

	case protocol.ClientInput:
		if !known {
			h.drop("unknown", d.Addr, nil)
			return
		}
		batch, err := input.DecodeBatch(r)
		if err != nil {
			h.drop("malformed", d.Addr, err)
			return
		}
		res := c.consumer.Apply(batch, func(s input.Sample) {
			h.sim.ApplyInput(c.NetID, s)
		})
		h.observer.InputApplied(res.Applied, res.Discarded)

	case protocol.ClientPing:
		if !known {
			h.drop("unknown", d.Addr, nil)
			return
		}
		ack, err := protocol.DecodeClientPing(r)
		if err != nil {
			h.drop("malformed", d.Addr, err)
			return
		}
		c.tracker.OnAckWindow(ack)

	default:
		h.drop("kind", d.Addr, nil)
	}
}

func (h *Host) lookup(addr net.Addr) (*Connection, bool) {
	if addr == nil {
		return nil, false
	}
	return h.table.Lookup(addr.String())
}

func (h *Host) drop(reason string, addr net.Addr, err error) {
	h.observer.PacketDropped(reason)
	if ce := h.logger.Check(zap.DebugLevel, "丢弃数据报"); ce != nil {
		fields := []zap.Field{zap.String("reason", reason)}
		if addr != nil {
			fields = append(fields, zap.String("addr", addr.String()))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		ce.Write(fields...)
	}
}

// accept 处理未知地址的 Hello
func (h *Host) accept(addr net.Addr, hello protocol.Hello) {
	slot, ok := h.table.Allocate()
	if !ok {
		h.reject(addr, hello, "连接表已满")
		return
	}

	netID, err := h.sim.Spawn(hello.Class, hello.Name)
	if err != nil {
		h.table.Discard(slot)
		h.reject(addr, hello, err.Error())
		return
	}

	h.nextID++
	c := newConnection(h.nextID, addr, hello.Name, hello.Class, h.timing)
	c.NetID = netID
	h.table.Put(slot, c)
	h.accepted++

	h.send(c, protocol.EncodeWelcome(protocol.Welcome{ConnID: c.ID, NetID: netID}), protocol.ServerWelcome.String())

	// 新连接获得完整的实体名单，其余连接获得新实体
	for _, id := range h.sim.Roster() {
		c.log.Create(id)
	}
	h.NetworkCreate(netID, 0)

	h.observer.SessionOpened()
	h.logger.Info("连接已建立",
		zap.Uint32("conn_id", c.ID),
		zap.String("token", c.Token.String()),
		zap.String("addr", addr.String()),
		zap.String("name", c.Name),
		zap.Uint8("class", c.Class),
		zap.Uint32("net_id", netID),
		zap.Int("slot", slot))
}

func (h *Host) reject(addr net.Addr, hello protocol.Hello, reason string) {
	h.rejected++
	h.sendTo(addr, protocol.EncodeUnwelcome(), protocol.ServerUnwelcome.String())
	h.observer.SessionRejected()
	h.logger.Warn("拒绝连接",
		zap.String("addr", addr.String()),
		zap.String("name", hello.Name),
		zap.String("reason", reason))
}

// teardown 拆除连接: 销毁实体及其附属实体，清空跟踪器与日志，槽位下一个 tick 释放
func (h *Host) teardown(c *Connection, reason string) {
	if !c.connected {
		return
	}
	c.connected = false
	h.table.Release(c.Slot)

	c.tracker.Clear()
	c.log.Clear()

	ids := append([]uint32{c.NetID}, h.sim.Dependents(c.NetID)...)
	for _, id := range ids {
		h.NetworkDestroy(id)
	}

	h.observer.SessionClosed(reason)
	h.logger.Info("连接已断开",
		zap.Uint32("conn_id", c.ID),
		zap.String("token", c.Token.String()),
		zap.String("addr", c.Addr.String()),
		zap.String("reason", reason),
		zap.Duration("silence", c.silence))
}

// Disconnect 主动断开指定连接
func (h *Host) Disconnect(connID uint32) bool {
	for _, c := range h.table.Connected() {
		if c.ID == connID {
			h.teardown(c, ReasonLocal)
			return true
		}
	}
	return false
}

// =============================================================================
// 出站
// =============================================================================

func (h *Host) send(c *Connection, data []byte, kind string) {
	h.sendTo(c.Addr, data, kind)
}

func (h *Host) sendTo(addr net.Addr, data []byte, kind string) {
	if err := h.tr.SendTo(data, addr); err != nil {
		h.logger.Debug("发送失败", zap.String("addr", addr.String()), zap.String("kind", kind), zap.Error(err))
		return
	}
	h.observer.PacketSent(kind, len(data))
}

// flushReplication 发送复制包，并在检测到丢包时把命令重新放回日志
func (h *Host) flushReplication(c *Connection) {
	seq := c.nextSeq
	c.nextSeq++

	w := protocol.NewWriter(protocol.MaxDatagramSize)
	protocol.BeginReplication(w, protocol.ReplicationHeader{
		LastAppliedInput: c.consumer.LastApplied(),
		Seq:              seq,
	})
	cmds := c.log.Flush(w, h.sim.WriteState)

	err := c.tracker.Track(seq, func(seq uint32, outcome delivery.Outcome) {
		h.observer.DeliveryResolved(outcome.String())
		if outcome != delivery.Lost || !c.connected {
			return
		}
		if n := c.log.Replay(cmds, h.sim.Exists); n > 0 {
			h.observer.ReplicationReplayed(n)
			h.logger.Debug("复制包丢失，重新登记命令",
				zap.Uint32("conn_id", c.ID), zap.Uint32("seq", seq), zap.Int("commands", n))
		}
	})
	if err != nil {
		// 未决投递已满: 本轮不发送，命令留待下一轮
		c.log.Replay(cmds, h.sim.Exists)
		h.logger.Debug("跳过复制", zap.Uint32("conn_id", c.ID), zap.Error(err))
		return
	}

	h.send(c, w.Bytes(), protocol.ServerReplication.String())
	if len(cmds) > 0 {
		h.observer.ReplicationFlushed(len(cmds))
	}
}

// =============================================================================
// 网络实体
// =============================================================================

// NetworkCreate 向除 exclude 以外的全部连接登记 Create (exclude 为 0 表示不排除)
func (h *Host) NetworkCreate(netID uint32, exclude uint32) {
	h.table.Each(func(c *Connection) {
		if exclude != 0 && c.ID == exclude {
			return
		}
		c.log.Create(netID)
	})
}

// NetworkUpdate 向全部连接登记 Update
func (h *Host) NetworkUpdate(netID uint32) {
	h.table.Each(func(c *Connection) {
		c.log.Update(netID)
	})
}

// NetworkDestroy 销毁实体并向全部连接登记 Destroy
func (h *Host) NetworkDestroy(netID uint32) {
	if h.sim.Exists(netID) {
		h.sim.Despawn(netID)
	}
	h.table.Each(func(c *Connection) {
		c.log.Destroy(netID)
	})
	for i := range h.delayed {
		if h.delayed[i].netID == netID {
			h.delayed = append(h.delayed[:i], h.delayed[i+1:]...)
			break
		}
	}
}

// NetworkDestroyAfter 延迟 delay 后销毁实体。
// 重复登记保留较短的延迟；待销毁列表满时返回 ErrCapacityExceeded。
func (h *Host) NetworkDestroyAfter(netID uint32, delay time.Duration) error {
	for i := range h.delayed {
		if h.delayed[i].netID == netID {
			if delay < h.delayed[i].remaining {
				h.delayed[i].remaining = delay
			}
			return nil
		}
	}
	if h.timing.MaxDelayedDestroys > 0 && len(h.delayed) >= h.timing.MaxDelayedDestroys {
		return fmt.Errorf("%w: 延迟销毁列表 %d", ErrCapacityExceeded, h.timing.MaxDelayedDestroys)
	}
	h.delayed = append(h.delayed, delayedDestroy{netID: netID, remaining: delay})
	return nil
}

func (h *Host) tickDelayedDestroys(dt time.Duration) {
	if len(h.delayed) == 0 {
		return
	}
	var due []uint32
	kept := h.delayed[:0]
	for _, d := range h.delayed {
		d.remaining -= dt
		if d.remaining <= 0 {
			due = append(due, d.netID)
			continue
		}
		kept = append(kept, d)
	}
	h.delayed = kept
	for _, id := range due {
		h.NetworkDestroy(id)
	}
}

// =============================================================================
// 状态查询
// =============================================================================

// Connections 已连接代理快照
func (h *Host) Connections() []ConnectionInfo {
	var out []ConnectionInfo
	h.table.Each(func(c *Connection) {
		out = append(out, c.info())
	})
	return out
}

// GetStats 获取统计信息
func (h *Host) GetStats() HostStats {
	return HostStats{
		State:           h.state,
		Capacity:        h.table.Cap(),
		Connected:       len(h.table.Connected()),
		Available:       h.table.Available(),
		Accepted:        h.accepted,
		Rejected:        h.rejected,
		TimedOut:        h.timedOut,
		Resets:          h.resets,
		DelayedDestroys: len(h.delayed),
	}
}

func (h *Host) publish() {
	h.snap.Store(&Snapshot{Stats: h.GetStats(), Connections: h.Connections()})
}

// Snapshot 返回最近一次发布的快照
func (h *Host) Snapshot() Snapshot {
	if s := h.snap.Load(); s != nil {
		return *s
	}
	return Snapshot{Stats: HostStats{State: Stopped, Capacity: h.table.Cap(), Available: h.table.Cap()}}
}
