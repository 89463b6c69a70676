// =============================================================================
// 文件: internal/metrics/metrics.go
// 描述: 会话事件记录与健康状态 - 为 /health 端点提供运行状态
// =============================================================================
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/mrcgq/netplay/internal/session"
)

const maxHistory = 100

// SessionEvent 会话事件记录
type SessionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Reason    string    `json:"reason,omitempty"`
}

// History 保留最近的会话事件，可被 tick 协程写入、HTTP 协程读取
type History struct {
	session.NopObserver

	events []SessionEvent
	mu     sync.RWMutex
}

// NewHistory 创建事件记录
func NewHistory() *History {
	return &History{events: make([]SessionEvent, 0, maxHistory)}
}

func (h *History) record(event, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 保留最近100条记录
	if len(h.events) >= maxHistory {
		h.events = h.events[1:]
	}
	h.events = append(h.events, SessionEvent{Timestamp: time.Now(), Event: event, Reason: reason})
}

// SessionOpened 记录会话建立
func (h *History) SessionOpened() { h.record("opened", "") }

// SessionClosed 记录会话结束
func (h *History) SessionClosed(reason string) { h.record("closed", reason) }

// SessionRejected 记录拒绝
func (h *History) SessionRejected() { h.record("rejected", "") }

// Recent 返回最近的记录（倒序）
func (h *History) Recent(limit int) []SessionEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.events) {
		limit = len(h.events)
	}

	result := make([]SessionEvent, limit)
	for i := 0; i < limit; i++ {
		result[i] = h.events[len(h.events)-1-i]
	}
	return result
}

// =============================================================================
// 观察者组合
// =============================================================================

type multiObserver []session.Observer

// Multi 将事件分发给多个观察者
func Multi(observers ...session.Observer) session.Observer {
	return multiObserver(observers)
}

func (m multiObserver) SessionOpened() {
	for _, o := range m {
		o.SessionOpened()
	}
}

func (m multiObserver) SessionClosed(reason string) {
	for _, o := range m {
		o.SessionClosed(reason)
	}
}

func (m multiObserver) SessionRejected() {
	for _, o := range m {
		o.SessionRejected()
	}
}

func (m multiObserver) PacketSent(kind string, bytes int) {
	for _, o := range m {
		o.PacketSent(kind, bytes)
	}
}

func (m multiObserver) PacketReceived(kind string, bytes int) {
	for _, o := range m {
		o.PacketReceived(kind, bytes)
	}
}

func (m multiObserver) PacketDropped(reason string) {
	for _, o := range m {
		o.PacketDropped(reason)
	}
}

func (m multiObserver) DeliveryResolved(outcome string) {
	for _, o := range m {
		o.DeliveryResolved(outcome)
	}
}

func (m multiObserver) ReplicationFlushed(commands int) {
	for _, o := range m {
		o.ReplicationFlushed(commands)
	}
}

func (m multiObserver) ReplicationReplayed(commands int) {
	for _, o := range m {
		o.ReplicationReplayed(commands)
	}
}

func (m multiObserver) InputApplied(applied, discarded int) {
	for _, o := range m {
		o.InputApplied(applied, discarded)
	}
}

// =============================================================================
// 健康状态
// =============================================================================

// HostHealth host 健康检查：监听中为 healthy，满员为 degraded，其余为 unhealthy
func HostHealth(source HostSnapshotter, version string, started time.Time) func() HealthStatus {
	return func() HealthStatus {
		snap := source.Snapshot()
		stats := snap.Stats

		comp := ComponentHealth{
			Status:  "healthy",
			Message: fmt.Sprintf("%d/%d 连接", stats.Connected, stats.Capacity),
		}
		switch {
		case stats.State != session.Listening:
			comp.Status = "unhealthy"
			comp.Message = "未监听"
		case stats.Available == 0:
			comp.Status = "degraded"
		}

		return HealthStatus{
			Status:     comp.Status,
			Timestamp:  time.Now(),
			Version:    version,
			Uptime:     time.Since(started),
			Components: map[string]ComponentHealth{"session": comp},
		}
	}
}

// PeerHealth peer 健康检查：已连接为 healthy，握手中为 degraded
func PeerHealth(source PeerSnapshotter, version string, started time.Time) func() HealthStatus {
	return func() HealthStatus {
		stats := source.Snapshot()

		comp := ComponentHealth{Status: "healthy", Message: stats.State.String()}
		switch stats.State {
		case session.Connected:
		case session.Connecting:
			comp.Status = "degraded"
		default:
			comp.Status = "unhealthy"
			if stats.LastStopReason != "" {
				comp.Message = stats.LastStopReason
			}
		}

		return HealthStatus{
			Status:     comp.Status,
			Timestamp:  time.Now(),
			Version:    version,
			Uptime:     time.Since(started),
			Components: map[string]ComponentHealth{"session": comp},
		}
	}
}
