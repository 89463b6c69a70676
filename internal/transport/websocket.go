// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 数据报传输 - 每条二进制消息对应一个数据报
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsIdleTimeout  = 2 * time.Minute
)

// wsAddr WebSocket 远端地址
type wsAddr string

func (a wsAddr) Network() string { return "ws" }
func (a wsAddr) String() string  { return string(a) }

// wsSession 单个 WebSocket 连接
type wsSession struct {
	conn *websocket.Conn
	addr wsAddr
	mu   sync.Mutex // 串行化写
}

func (s *wsSession) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// readWebSocket 读取二进制消息直到连接关闭，关闭时投递一个重置通知
func readWebSocket(sess *wsSession, q *inbox, stats *counters, logger *zap.Logger, stopCh <-chan struct{}) {
	for {
		_ = sess.conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		messageType, data, err := sess.conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			if err != io.EOF && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket 读取错误", zap.String("addr", sess.addr.String()), zap.Error(err))
			}
			atomic.AddUint64(&stats.resets, 1)
			q.push(Datagram{Addr: sess.addr, Err: ErrConnectionReset})
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		stats.recv(len(data))
		q.push(Datagram{Data: data, Addr: sess.addr})
	}
}

// =============================================================================
// 监听端 (host)
// =============================================================================

// WebSocketListener 在 HTTP 路径上接受 WebSocket 连接的数据报传输
type WebSocketListener struct {
	path   string
	logger *zap.Logger

	listener   net.Listener
	httpServer *http.Server
	upgrader   websocket.Upgrader

	sessions sync.Map // string -> *wsSession
	inbox    *inbox
	stats    counters

	activeConns int64
	running     int32
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// ListenWebSocket 监听 addr 并在 path 上升级 WebSocket。
// 端口绑定失败立即返回错误。
func ListenWebSocket(addr, path string, opts Options, logger *zap.Logger) (*WebSocketListener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.normalized()
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}

	l := &WebSocketListener{
		path:     path,
		logger:   logger.Named("websocket"),
		listener: ln,
		stopCh:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	l.inbox = newInbox(opts.QueueSize, &l.stats)

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleWebSocket)
	l.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	atomic.StoreInt32(&l.running, 1)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("HTTP 服务器错误", zap.Error(err))
		}
	}()

	l.logger.Info("WebSocket 传输已启动", zap.String("addr", ln.Addr().String()), zap.String("path", path))
	return l, nil
}

// handleWebSocket 处理 WebSocket 连接
func (l *WebSocketListener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("WebSocket 升级失败", zap.Error(err))
		return
	}

	atomic.AddInt64(&l.activeConns, 1)
	defer atomic.AddInt64(&l.activeConns, -1)

	sess := &wsSession{conn: conn, addr: wsAddr(r.RemoteAddr)}
	l.sessions.Store(sess.addr.String(), sess)
	defer func() {
		l.sessions.Delete(sess.addr.String())
		conn.Close()
	}()

	l.logger.Debug("WebSocket 连接", zap.String("addr", r.RemoteAddr))
	readWebSocket(sess, l.inbox, &l.stats, l.logger, l.stopCh)
}

// SendTo 发送到指定会话
func (l *WebSocketListener) SendTo(data []byte, addr net.Addr) error {
	if atomic.LoadInt32(&l.running) == 0 {
		return ErrClosed
	}
	v, ok := l.sessions.Load(addr.String())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAddr, addr.String())
	}
	if err := v.(*wsSession).write(data); err != nil {
		return fmt.Errorf("WebSocket 写入错误: %w", err)
	}
	l.stats.sent(len(data))
	return nil
}

// Poll 返回已排队的数据报
func (l *WebSocketListener) Poll() []Datagram {
	return l.inbox.poll()
}

// LocalAddr 监听地址
func (l *WebSocketListener) LocalAddr() net.Addr {
	return l.listener.Addr()
}

// ActiveConns 活跃连接数
func (l *WebSocketListener) ActiveConns() int64 {
	return atomic.LoadInt64(&l.activeConns)
}

// GetStats 获取统计信息
func (l *WebSocketListener) GetStats() Stats {
	return l.stats.snapshot()
}

// Close 关闭全部连接与 HTTP 服务器
func (l *WebSocketListener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.running, 1, 0) {
		return nil
	}
	close(l.stopCh)

	l.sessions.Range(func(key, value interface{}) bool {
		sess := value.(*wsSession)
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		sess.conn.Close()
		return true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.httpServer.Shutdown(ctx)
	l.wg.Wait()
	return err
}

// =============================================================================
// 拨号端 (peer)
// =============================================================================

// WebSocketConn 到 host 的单个 WebSocket 数据报连接
type WebSocketConn struct {
	sess   *wsSession
	logger *zap.Logger

	inbox *inbox
	stats counters

	running int32
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// DialWebSocket 连接 ws://host:port/path
func DialWebSocket(ctx context.Context, rawURL string, opts Options, logger *zap.Logger) (*WebSocketConn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.normalized()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("解析 URL: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   32 * 1024,
		WriteBufferSize:  32 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 连接失败: %w", err)
	}

	c := &WebSocketConn{
		sess:   &wsSession{conn: conn, addr: wsAddr(u.Host)},
		logger: logger.Named("websocket"),
		stopCh: make(chan struct{}),
	}
	c.inbox = newInbox(opts.QueueSize, &c.stats)

	atomic.StoreInt32(&c.running, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		readWebSocket(c.sess, c.inbox, &c.stats, c.logger, c.stopCh)
	}()

	c.logger.Info("WebSocket 已连接", zap.String("url", u.String()))
	return c, nil
}

// SendTo 发送到 host，忽略 addr
func (c *WebSocketConn) SendTo(data []byte, _ net.Addr) error {
	if atomic.LoadInt32(&c.running) == 0 {
		return ErrClosed
	}
	if err := c.sess.write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionReset, err)
	}
	c.stats.sent(len(data))
	return nil
}

// Poll 返回已排队的数据报
func (c *WebSocketConn) Poll() []Datagram {
	return c.inbox.poll()
}

// LocalAddr 本地地址
func (c *WebSocketConn) LocalAddr() net.Addr {
	return c.sess.conn.LocalAddr()
}

// RemoteAddr host 地址
func (c *WebSocketConn) RemoteAddr() net.Addr {
	return c.sess.addr
}

// GetStats 获取统计信息
func (c *WebSocketConn) GetStats() Stats {
	return c.stats.snapshot()
}

// Close 关闭连接
func (c *WebSocketConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return nil
	}
	close(c.stopCh)
	_ = c.sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.sess.conn.Close()
	c.wg.Wait()
	return err
}
