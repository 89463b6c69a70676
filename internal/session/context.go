// =============================================================================
// 文件: internal/session/context.go
// 描述: 会话依赖注入 - 协作者接口、时间参数与观测钩子
// =============================================================================

package session

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mrcgq/netplay/internal/input"
	"github.com/mrcgq/netplay/internal/replication"
	"github.com/mrcgq/netplay/internal/transport"
)

var (
	// ErrAlreadyStarted 会话已启动
	ErrAlreadyStarted = errors.New("会话已启动")
	// ErrNotStarted 会话未启动
	ErrNotStarted = errors.New("会话未启动")
	// ErrCapacityExceeded 固定容量资源已满
	ErrCapacityExceeded = errors.New("容量已满")
)

// State 会话状态
type State int32

const (
	Stopped State = iota
	Connecting
	Connected
	Listening
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Listening:
		return "listening"
	default:
		return "unknown"
	}
}

// Opener 打开传输端点。失败视为启动失败，不重试。
type Opener func() (transport.Transport, error)

// Simulation host 侧权威模拟
type Simulation interface {
	// Spawn 为新连接生成受控实体，返回其网络 id
	Spawn(class uint8, name string) (uint32, error)
	Despawn(netID uint32)
	Exists(netID uint32) bool
	// Dependents 随 netID 一起销毁的实体
	Dependents(netID uint32) []uint32
	ApplyInput(netID uint32, s input.Sample)
	// Roster 当前全部网络实体
	Roster() []uint32
	WriteState(netID uint32) []byte
}

// Replica peer 侧的影子实体表
type Replica interface {
	replication.ShadowTable
	ClearShadows()
	// Predict 在本地受控实体上立即应用输入
	Predict(netID uint32, s input.Sample)
}

// InputSource 每个 tick 产生一个输入采样
type InputSource interface {
	Sample() input.Sample
}

// Observer 会话事件钩子，用于指标统计
type Observer interface {
	SessionOpened()
	SessionClosed(reason string)
	SessionRejected()
	PacketSent(kind string, bytes int)
	PacketReceived(kind string, bytes int)
	PacketDropped(reason string)
	DeliveryResolved(outcome string)
	ReplicationFlushed(commands int)
	ReplicationReplayed(commands int)
	InputApplied(applied, discarded int)
}

// NopObserver 空实现
type NopObserver struct{}

func (NopObserver) SessionOpened() {}
func (NopObserver) SessionClosed(string) {}
func (NopObserver) SessionRejected() {}
func (NopObserver) PacketSent(string, int) {}
func (NopObserver) PacketReceived(string, int) {}
func (NopObserver) PacketDropped(string) {}
func (NopObserver) DeliveryResolved(string) {}
func (NopObserver) ReplicationFlushed(int) {}
func (NopObserver) ReplicationReplayed(int) {}
func (NopObserver) InputApplied(int, int) {}

// Timing 会话时间参数与容量限制
type Timing struct {
	PingInterval        time.Duration
	DisconnectTimeout   time.Duration
	HelloInterval       time.Duration
	ReplicationInterval time.Duration
	InputInterval       time.Duration
	DeliveryTimeout     time.Duration

	MaxOutstandingDeliveries int
	InputBufferSize          int
	MaxDelayedDestroys       int
}

// DefaultTiming 默认时间参数
func DefaultTiming() Timing {
	return Timing{
		PingInterval:             500 * time.Millisecond,
		DisconnectTimeout:        5 * time.Second,
		HelloInterval:            100 * time.Millisecond,
		ReplicationInterval:      100 * time.Millisecond,
		InputInterval:            50 * time.Millisecond,
		DeliveryTimeout:          time.Second,
		MaxOutstandingDeliveries: 64,
		InputBufferSize:          32,
		MaxDelayedDestroys:       256,
	}
}

// HostContext host 侧协作者
type HostContext struct {
	Listen     Opener
	Simulation Simulation
	Logger     *zap.Logger
	Observer   Observer
}

// PeerContext peer 侧协作者
type PeerContext struct {
	Dial     Opener
	Replica  Replica
	Input    InputSource
	Logger   *zap.Logger
	Observer Observer
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func orNopObserver(o Observer) Observer {
	if o == nil {
		return NopObserver{}
	}
	return o
}
