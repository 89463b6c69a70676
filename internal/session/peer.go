// =============================================================================
// 文件: internal/session/peer.go
// 描述: peer 侧会话状态机 - Stopped -> Connecting -> Connected -> Stopped
// =============================================================================

package session

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mrcgq/netplay/internal/input"
	"github.com/mrcgq/netplay/internal/protocol"
	"github.com/mrcgq/netplay/internal/replication"
	"github.com/mrcgq/netplay/internal/transport"
)

// PeerStats peer 统计
type PeerStats struct {
	State               State
	ConnID              uint32
	NetID               uint32
	LastReplication     uint32
	ReplicationsApplied uint64
	ReplicationsStale   uint64
	InputsSent          uint64
	InputsDropped       uint64
	PendingInputs       int
	LastStopReason      string
}

// Peer 连接 host 的单个会话。所有方法只能在 tick 所在协程中调用。
type Peer struct {
	dial     Opener
	replica  Replica
	source   InputSource
	logger   *zap.Logger
	observer Observer
	timing   Timing

	name  string
	class uint8

	state  State
	tr     transport.Transport
	remote net.Addr
	connID uint32
	netID  uint32

	helloTimer time.Duration
	silence    time.Duration
	pingTimer  time.Duration
	inputTimer time.Duration

	history         protocol.ReceiveHistory
	lastReplication uint32
	hasReplication  bool
	ring            *input.Ring

	stats      PeerStats
	stopReason string
	published  atomic.Pointer[PeerStats]
}

// NewPeer 创建 peer
func NewPeer(ctx PeerContext, name string, class uint8, timing Timing) (*Peer, error) {
	if ctx.Dial == nil {
		return nil, errors.New("未提供传输拨号函数")
	}
	if ctx.Replica == nil {
		return nil, errors.New("未提供影子实体表")
	}
	size := timing.InputBufferSize
	if size <= 0 {
		size = DefaultTiming().InputBufferSize
	}
	return &Peer{
		dial:     ctx.Dial,
		replica:  ctx.Replica,
		source:   ctx.Input,
		logger:   orNop(ctx.Logger).Named("peer"),
		observer: orNopObserver(ctx.Observer),
		timing:   timing,
		name:     name,
		class:    class,
		ring:     input.NewRing(size),
	}, nil
}

// Start 打开传输端点并开始握手
func (p *Peer) Start() error {
	if p.state != Stopped {
		return ErrAlreadyStarted
	}
	tr, err := p.dial()
	if err != nil {
		return fmt.Errorf("启动 peer: %w", err)
	}

	p.tr = tr
	if ra, ok := tr.(interface{ RemoteAddr() net.Addr }); ok {
		p.remote = ra.RemoteAddr()
	}
	p.reset()
	p.state = Connecting
	p.stopReason = ""
	p.sendHello()
	p.publish()

	p.logger.Info("开始连接", zap.String("name", p.name), zap.Uint8("class", p.class))
	return nil
}

func (p *Peer) reset() {
	p.connID, p.netID = 0, 0
	p.helloTimer, p.silence, p.pingTimer, p.inputTimer = 0, 0, 0, 0
	p.history.Reset()
	p.lastReplication, p.hasReplication = 0, false
	p.ring.Reset()
}

// Disconnect 主动断开
func (p *Peer) Disconnect() {
	p.stop(ReasonLocal)
}

// stop 进入 Stopped: 关闭传输并清空全部影子实体
func (p *Peer) stop(reason string) {
	if p.state == Stopped {
		return
	}
	prev := p.state
	p.state = Stopped
	p.stopReason = reason

	if err := p.tr.Close(); err != nil {
		p.logger.Debug("关闭传输失败", zap.Error(err))
	}
	p.tr = nil
	p.replica.ClearShadows()

	if prev == Connected {
		p.observer.SessionClosed(reason)
	}
	p.publish()
	p.logger.Info("会话已停止", zap.String("reason", reason), zap.Stringer("from", prev))
}

// State 当前状态
func (p *Peer) State() State { return p.state }

// NetID 受控实体的网络 id，连接前为 0
func (p *Peer) NetID() uint32 { return p.netID }

// ConnID host 分配的连接 id
func (p *Peer) ConnID() uint32 { return p.connID }

// StopReason 最近一次停止的原因
func (p *Peer) StopReason() string { return p.stopReason }

// Tick 推进一个模拟步
func (p *Peer) Tick(dt time.Duration) {
	if p.state == Stopped {
		return
	}
	defer p.publish()

	for _, d := range p.tr.Poll() {
		p.handleDatagram(d)
		if p.state == Stopped {
			return
		}
	}

	p.silence += dt
	if p.silence >= p.timing.DisconnectTimeout {
		p.stop(ReasonTimeout)
		return
	}

	switch p.state {
	case Connecting:
		p.helloTimer += dt
		if p.helloTimer >= p.timing.HelloInterval {
			p.helloTimer = 0
			p.sendHello()
		}
	case Connected:
		p.produceInput()

		p.inputTimer += dt
		if p.inputTimer >= p.timing.InputInterval {
			p.inputTimer = 0
			p.sendInput()
		}

		p.pingTimer += dt
		if p.pingTimer >= p.timing.PingInterval {
			p.pingTimer = 0
			ack, _ := p.history.Window()
			p.send(protocol.EncodeClientPing(ack), protocol.ClientPing.String())
		}
	}
}

func (p *Peer) handleDatagram(d transport.Datagram) {
	if d.Err != nil {
		if errors.Is(d.Err, transport.ErrConnectionReset) {
			p.stop(ReasonReset)
		}
		return
	}

	r := protocol.NewReader(d.Data)
	kind, err := protocol.ReadHeader(r)
	if err != nil {
		p.drop("header", err)
		return
	}

	msg := protocol.ServerMessage(kind)
	p.observer.PacketReceived(msg.String(), len(d.Data))

	switch msg {
	case protocol.ServerWelcome:
		m, err := protocol.DecodeWelcome(r)
		if err != nil {
			p.drop("malformed", err)
			return
		}
		p.silence = 0
		if p.state != Connecting {
			return
		}
		p.connID, p.netID = m.ConnID, m.NetID
		p.state = Connected
		p.observer.SessionOpened()
		p.logger.Info("已连接", zap.Uint32("conn_id", m.ConnID), zap.Uint32("net_id", m.NetID))

	case protocol.ServerUnwelcome:
		p.silence = 0
		if p.state == Connecting {
			p.observer.SessionRejected()
			p.stop(ReasonRejected)
		}

	case protocol.ServerPing:
		p.silence = 0

	case protocol.ServerReplication:
		if p.state != Connected {
			p.drop("state", nil)
			return
		}
		p.handleReplication(r)

	default:
		p.drop("kind", nil)
	}
}

// handleReplication 应用复制包。早于已处理包的复制包被丢弃且不确认，由 host 重发。
func (p *Peer) handleReplication(r *protocol.Reader) {
	h, err := protocol.ReadReplicationHeader(r)
	if err != nil {
		p.drop("malformed", err)
		return
	}
	p.silence = 0

	if p.hasReplication && !protocol.IsMoreRecent(h.Seq, p.lastReplication) {
		p.stats.ReplicationsStale++
		p.drop("stale", nil)
		return
	}

	cmds, err := replication.Decode(r)
	if err != nil {
		p.drop("malformed", err)
		return
	}

	p.history.Record(h.Seq)
	p.lastReplication, p.hasReplication = h.Seq, true
	p.stats.ReplicationsApplied++

	res := replication.Apply(cmds, p.replica)
	if res.Failed > 0 {
		p.logger.Debug("部分复制命令应用失败", zap.Int("failed", res.Failed))
	}

	// 丢弃 host 已应用的输入。只有受控实体被权威状态覆盖时才重放其余输入，
	// 否则这些输入已经体现在本地预测中。
	p.ring.AdvanceTo(h.LastAppliedInput + 1)
	if p.netID != 0 && resetsEntity(cmds, p.netID) {
		for _, s := range p.ring.Pending() {
			p.replica.Predict(p.netID, s)
		}
	}
}

// resetsEntity 命令中是否有 id 的 Create 或 Update
func resetsEntity(cmds []replication.Command, id uint32) bool {
	for _, c := range cmds {
		if c.ID == id && (c.Kind == replication.Create || c.Kind == replication.Update) {
			return true
		}
	}
	return false
}

// produceInput 采样、入队并在本地立即应用
func (p *Peer) produceInput() {
	if p.source == nil {
		return
	}
	s, ok := p.ring.Push(p.source.Sample())
	if !ok {
		p.stats.InputsDropped++
		return
	}
	p.replica.Predict(p.netID, s)
}

// sendInput 一次发送缓冲区中的全部采样
func (p *Peer) sendInput() {
	pending := p.ring.Pending()
	if len(pending) == 0 {
		return
	}
	if limit := input.MaxBatchSamples(); len(pending) > limit {
		pending = pending[len(pending)-limit:]
	}

	w := protocol.NewWriter(protocol.HeaderSize + 2 + len(pending)*input.SampleSize)
	protocol.BeginInput(w)
	input.EncodeBatch(w, pending)
	p.stats.InputsSent += uint64(len(pending))
	p.send(w.Bytes(), protocol.ClientInput.String())
}

func (p *Peer) sendHello() {
	p.send(protocol.EncodeHello(protocol.Hello{Name: p.name, Class: p.class}), protocol.ClientHello.String())
}

func (p *Peer) send(data []byte, kind string) {
	if p.tr == nil {
		return
	}
	if err := p.tr.SendTo(data, p.remote); err != nil {
		p.logger.Debug("发送失败", zap.String("kind", kind), zap.Error(err))
		if errors.Is(err, transport.ErrConnectionReset) {
			p.stop(ReasonReset)
		}
		return
	}
	p.observer.PacketSent(kind, len(data))
}

func (p *Peer) drop(reason string, err error) {
	p.observer.PacketDropped(reason)
	if err != nil {
		p.logger.Debug("丢弃数据报", zap.String("reason", reason), zap.Error(err))
	}
}

// GetStats 获取统计信息
func (p *Peer) GetStats() PeerStats {
	s := p.stats
	s.State = p.state
	s.ConnID = p.connID
	s.NetID = p.netID
	s.LastReplication = p.lastReplication
	s.PendingInputs = p.ring.Len()
	s.LastStopReason = p.stopReason
	return s
}

func (p *Peer) publish() {
	s := p.GetStats()
	p.published.Store(&s)
}

// Snapshot 最近一次发布的统计，可在其他协程读取
func (p *Peer) Snapshot() PeerStats {
	if s := p.published.Load(); s != nil {
		return *s
	}
	return PeerStats{State: Stopped}
}
