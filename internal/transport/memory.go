// =============================================================================
// 文件: internal/transport/memory.go
// 描述: 进程内数据报网络 - 用于测试与本地演示，支持丢包注入
// =============================================================================
package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// memAddr 内存网络地址
type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// MemAddr 构造内存网络地址
func MemAddr(name string) net.Addr { return memAddr(name) }

// DropFunc 返回 true 时丢弃 from -> to 的数据报
type DropFunc func(from, to string, data []byte) bool

// MemoryNetwork 进程内数据报网络。
// 发送同步入队到目标端点；目标不存在时发送方收到连接重置通知。
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryEndpoint
	drop      DropFunc
}

// NewMemoryNetwork 创建内存网络
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{endpoints: make(map[string]*MemoryEndpoint)}
}

// SetDrop 设置丢包规则，nil 表示不丢包
func (n *MemoryNetwork) SetDrop(fn DropFunc) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

// Listen 创建名为 name 的端点
func (n *MemoryNetwork) Listen(name string) (*MemoryEndpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[name]; ok {
		return nil, fmt.Errorf("地址已被占用: %s", name)
	}
	ep := &MemoryEndpoint{net: n, addr: memAddr(name)}
	n.endpoints[name] = ep
	return ep, nil
}

// Dial 创建名为 name、默认发往 remote 的端点
func (n *MemoryNetwork) Dial(name, remote string) (*MemoryEndpoint, error) {
	ep, err := n.Listen(name)
	if err != nil {
		return nil, err
	}
	ep.remote = memAddr(remote)
	return ep, nil
}

func (n *MemoryNetwork) deliver(from *MemoryEndpoint, to string, data []byte) error {
	n.mu.Lock()
	target, ok := n.endpoints[to]
	drop := n.drop
	n.mu.Unlock()

	if !ok {
		from.enqueue(Datagram{Addr: memAddr(to), Err: ErrConnectionReset})
		atomic.AddUint64(&from.stats.resets, 1)
		return nil
	}
	from.stats.sent(len(data))
	if drop != nil && drop(from.addr.String(), to, data) {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	target.enqueue(Datagram{Data: buf, Addr: from.addr})
	target.stats.recv(len(buf))
	return nil
}

func (n *MemoryNetwork) remove(name string) {
	n.mu.Lock()
	delete(n.endpoints, name)
	n.mu.Unlock()
}

// MemoryEndpoint 内存网络上的一个端点
type MemoryEndpoint struct {
	net    *MemoryNetwork
	addr   memAddr
	remote memAddr

	mu     sync.Mutex
	queue  []Datagram
	closed bool
	stats  counters
}

func (e *MemoryEndpoint) enqueue(d Datagram) {
	e.mu.Lock()
	if !e.closed {
		e.queue = append(e.queue, d)
	}
	e.mu.Unlock()
}

// SendTo 发送数据报；Dial 创建的端点在 addr 为 nil 时发往默认远端
func (e *MemoryEndpoint) SendTo(data []byte, addr net.Addr) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	to := string(e.remote)
	if addr != nil {
		to = addr.String()
	}
	return e.net.deliver(e, to, data)
}

// Poll 返回调用时已排队的数据报
func (e *MemoryEndpoint) Poll() []Datagram {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.queue
	e.queue = nil
	return out
}

// LocalAddr 本地地址
func (e *MemoryEndpoint) LocalAddr() net.Addr { return e.addr }

// RemoteAddr 默认远端
func (e *MemoryEndpoint) RemoteAddr() net.Addr { return e.remote }

// GetStats 获取统计信息
func (e *MemoryEndpoint) GetStats() Stats { return e.stats.snapshot() }

// Close 从网络中移除端点
func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.queue = nil
	e.mu.Unlock()

	e.net.remove(e.addr.String())
	return nil
}
