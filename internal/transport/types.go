// =============================================================================
// 文件: internal/transport/types.go
// 描述: 传输层统一类型定义 - 非阻塞数据报收发
// =============================================================================
package transport

import (
	"errors"
	"net"
	"sync/atomic"
)

var (
	// ErrConnectionReset 对端不可达或连接被重置
	ErrConnectionReset = errors.New("连接被重置")
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("传输已关闭")
	// ErrUnknownAddr 目标地址没有对应的会话
	ErrUnknownAddr = errors.New("会话不存在")
)

// Datagram 一个入站数据报。Err 非空时表示 Addr 的连接被重置，Data 为空。
type Datagram struct {
	Data []byte
	Addr net.Addr
	Err  error
}

// Transport 非阻塞数据报传输。
// Poll 只返回调用时已排队的数据报，不会阻塞等待。
type Transport interface {
	SendTo(data []byte, addr net.Addr) error
	Poll() []Datagram
	LocalAddr() net.Addr
	Close() error
}

// Options 传输参数
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	// QueueSize 入站队列长度，队列满时新数据报被丢弃
	QueueSize int
}

// DefaultOptions 默认传输参数
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  4 * 1024 * 1024,
		WriteBufferSize: 4 * 1024 * 1024,
		QueueSize:       1024,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = def.ReadBufferSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = def.WriteBufferSize
	}
	return o
}

// Stats 传输统计
type Stats struct {
	PacketsRecv    uint64
	PacketsSent    uint64
	BytesRecv      uint64
	BytesSent      uint64
	PacketsDropped uint64
	Resets         uint64
}

// StatsProvider 提供传输统计
type StatsProvider interface {
	GetStats() Stats
}

type counters struct {
	packetsRecv    uint64
	packetsSent    uint64
	bytesRecv      uint64
	bytesSent      uint64
	packetsDropped uint64
	resets         uint64
}

func (c *counters) recv(n int) {
	atomic.AddUint64(&c.packetsRecv, 1)
	atomic.AddUint64(&c.bytesRecv, uint64(n))
}

func (c *counters) sent(n int) {
	atomic.AddUint64(&c.packetsSent, 1)
	atomic.AddUint64(&c.bytesSent, uint64(n))
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsRecv:    atomic.LoadUint64(&c.packetsRecv),
		PacketsSent:    atomic.LoadUint64(&c.packetsSent),
		BytesRecv:      atomic.LoadUint64(&c.bytesRecv),
		BytesSent:      atomic.LoadUint64(&c.bytesSent),
		PacketsDropped: atomic.LoadUint64(&c.packetsDropped),
		Resets:         atomic.LoadUint64(&c.resets),
	}
}

// inbox 有界入站队列，由读协程写入，tick 协程通过 poll 读取
type inbox struct {
	ch chan Datagram
	c  *counters
}

func newInbox(size int, c *counters) *inbox {
	return &inbox{ch: make(chan Datagram, size), c: c}
}

// push 非阻塞入队，队列满时丢弃
func (q *inbox) push(d Datagram) bool {
	select {
	case q.ch <- d:
		return true
	default:
		atomic.AddUint64(&q.c.packetsDropped, 1)
		return false
	}
}

// poll 取出调用时已排队的数据报
func (q *inbox) poll() []Datagram {
	n := len(q.ch)
	if n == 0 {
		return nil
	}
	out := make([]Datagram, 0, n)
	for i := 0; i < n; i++ {
		select {
		case d := <-q.ch:
			out = append(out, d)
		default:
			return out
		}
	}
	return out
}
