// =============================================================================
// 文件: internal/transport/udp.go
// 描述: UDP 数据报传输 - 读协程 + 有界队列，tick 协程非阻塞轮询
// =============================================================================
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	maxDatagramRead = 65535
	readPollTimeout = time.Second
)

// UDPTransport UDP 传输。
// 监听模式服务多个远端；拨号模式使用已连接 socket，以便收到 ICMP 端口不可达时得到连接重置通知。
type UDPTransport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr // 拨号模式下的远端
	opts   Options
	logger *zap.Logger

	inbox *inbox
	stats counters

	running int32
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ListenUDP 在 addr 上监听 (host 侧)
func ListenUDP(addr string, opts Options, logger *zap.Logger) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("解析地址: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}
	return newUDPTransport(conn, nil, opts, logger), nil
}

// DialUDP 连接到 remote (peer 侧)
func DialUDP(remote string, opts Options, logger *zap.Logger) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("解析远端地址: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("创建 socket 失败: %w", err)
	}
	return newUDPTransport(conn, raddr, opts, logger), nil
}

func newUDPTransport(conn *net.UDPConn, remote *net.UDPAddr, opts Options, logger *zap.Logger) *UDPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.normalized()

	t := &UDPTransport{
		conn:   conn,
		remote: remote,
		opts:   opts,
		logger: logger.Named("udp"),
		stopCh: make(chan struct{}),
	}
	t.inbox = newInbox(opts.QueueSize, &t.stats)
	t.setupBuffers()

	atomic.StoreInt32(&t.running, 1)
	t.wg.Add(1)
	go t.readLoop()

	t.logger.Info("UDP 传输已启动",
		zap.String("local", conn.LocalAddr().String()),
		zap.Bool("dialed", remote != nil))
	return t
}

// setupBuffers 设置系统缓冲区，失败时逐级减半
func (t *UDPTransport) setupBuffers() {
	for size := t.opts.ReadBufferSize; size >= 64*1024; size /= 2 {
		if err := t.conn.SetReadBuffer(size); err == nil {
			break
		}
	}
	for size := t.opts.WriteBufferSize; size >= 64*1024; size /= 2 {
		if err := t.conn.SetWriteBuffer(size); err == nil {
			break
		}
	}
}

// readLoop 读取循环
func (t *UDPTransport) readLoop() {
	defer t.wg.Done()

	buf := make([]byte, maxDatagramRead)
	for atomic.LoadInt32(&t.running) == 1 {
		_ = t.conn.SetReadDeadline(time.Now().Add(readPollTimeout))

		var (
			n    int
			addr net.Addr
			err  error
		)
		if t.remote != nil {
			n, err = t.conn.Read(buf)
			addr = t.remote
		} else {
			var from *net.UDPAddr
			n, from, err = t.conn.ReadFromUDP(buf)
			if from != nil {
				addr = from
			}
		}

		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-t.stopCh:
				return
			default:
			}
			if isConnectionReset(err) {
				atomic.AddUint64(&t.stats.resets, 1)
				resetAddr := addr
				if resetAddr == nil && t.remote != nil {
					resetAddr = t.remote
				}
				t.logger.Debug("连接被重置", zap.Error(err))
				t.inbox.push(Datagram{Addr: resetAddr, Err: ErrConnectionReset})
				continue
			}
			t.logger.Debug("读取错误", zap.Error(err))
			continue
		}

		if n == 0 {
			continue
		}

		t.stats.recv(n)
		data := make([]byte, n)
		copy(data, buf[:n])

		if !t.inbox.push(Datagram{Data: data, Addr: addr}) {
			t.logger.Debug("入站队列已满，丢弃数据报", zap.Stringer("from", addr))
		}
	}
}

// isConnectionReset ICMP 端口不可达在已连接 socket 上表现为 ECONNREFUSED
func isConnectionReset(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// SendTo 发送数据报。拨号模式下忽略 addr。
func (t *UDPTransport) SendTo(data []byte, addr net.Addr) error {
	if atomic.LoadInt32(&t.running) == 0 {
		return ErrClosed
	}

	var err error
	if t.remote != nil {
		_, err = t.conn.Write(data)
	} else {
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			udpAddr, err = net.ResolveUDPAddr("udp", addr.String())
			if err != nil {
				return fmt.Errorf("解析目标地址: %w", err)
			}
		}
		_, err = t.conn.WriteToUDP(data, udpAddr)
	}
	if err != nil {
		if isConnectionReset(err) {
			return fmt.Errorf("%w: %v", ErrConnectionReset, err)
		}
		return fmt.Errorf("发送失败: %w", err)
	}

	t.stats.sent(len(data))
	return nil
}

// Poll 返回已排队的数据报
func (t *UDPTransport) Poll() []Datagram {
	return t.inbox.poll()
}

// LocalAddr 本地地址
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// RemoteAddr 拨号模式下的远端地址，监听模式为 nil
func (t *UDPTransport) RemoteAddr() net.Addr {
	if t.remote == nil {
		return nil
	}
	return t.remote
}

// Close 关闭传输并等待读协程退出
func (t *UDPTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.running, 1, 0) {
		return nil
	}
	close(t.stopCh)
	err := t.conn.Close()
	t.wg.Wait()

	s := t.stats.snapshot()
	t.logger.Info("UDP 传输已关闭",
		zap.Uint64("recv", s.PacketsRecv),
		zap.Uint64("sent", s.PacketsSent),
		zap.Uint64("dropped", s.PacketsDropped))
	return err
}

// GetStats 获取统计信息
func (t *UDPTransport) GetStats() Stats {
	return t.stats.snapshot()
}
