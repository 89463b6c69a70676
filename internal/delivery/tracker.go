// =============================================================================
// 文件: internal/delivery/tracker.go
// 描述: 投递跟踪器 - 记录已发送未确认的包，确认或超时后回调一次
// =============================================================================

package delivery

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrcgq/netplay/internal/protocol"
)

var (
	// ErrCapacityExceeded 未决投递数达到上限
	ErrCapacityExceeded = errors.New("未决投递数已达上限")
	// ErrDuplicateSequence 序列号已在跟踪中
	ErrDuplicateSequence = errors.New("序列号重复")
)

// Outcome 投递结果
type Outcome uint8

const (
	Delivered Outcome = iota + 1
	Lost
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// OutcomeFunc 投递结果回调
type OutcomeFunc func(seq uint32, outcome Outcome)

type entry struct {
	seq       uint32
	sentAt    time.Duration
	onOutcome OutcomeFunc
	resolved  bool
}

// Stats 跟踪器统计
type Stats struct {
	Tracked     uint64
	Delivered   uint64
	Lost        uint64
	Cleared     uint64
	Outstanding int
	Latency     Latency
}

// Tracker 单连接的投递跟踪器，只允许在 tick 所在协程中使用
type Tracker struct {
	timeout  time.Duration
	capacity int

	now     time.Duration
	pending map[uint32]*entry
	order   []*entry // 按发送时间排列，已解决的条目惰性移除

	stats Stats
}

// New 创建跟踪器。capacity <= 0 表示不限制。
func New(timeout time.Duration, capacity int) *Tracker {
	return &Tracker{
		timeout:  timeout,
		capacity: capacity,
		pending:  make(map[uint32]*entry),
	}
}

// Track 登记一个未决投递
func (t *Tracker) Track(seq uint32, onOutcome OutcomeFunc) error {
	if _, ok := t.pending[seq]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateSequence, seq)
	}
	if t.capacity > 0 && len(t.pending) >= t.capacity {
		return fmt.Errorf("%w: %d", ErrCapacityExceeded, t.capacity)
	}

	e := &entry{seq: seq, sentAt: t.now, onOutcome: onOutcome}
	t.pending[seq] = e
	t.order = append(t.order, e)
	t.stats.Tracked++
	return nil
}

// OnAckWindow 处理确认窗口，返回本次确认的投递数。
// 未知或已解决的序列号被忽略。
func (t *Tracker) OnAckWindow(w protocol.AckWindow) int {
	n := 0
	for _, seq := range protocol.DecodeAckWindow(w) {
		e, ok := t.pending[seq]
		if !ok {
			continue
		}
		t.resolve(e, Delivered)
		n++
	}
	t.compact()
	return n
}

// Tick 推进时钟，超时的投递以 Lost 回调，返回本次超时的数量
func (t *Tracker) Tick(elapsed time.Duration) int {
	t.now += elapsed

	n := 0
	for len(t.order) > 0 {
		e := t.order[0]
		if e.resolved {
			t.order = t.order[1:]
			continue
		}
		if t.now-e.sentAt < t.timeout {
			break
		}
		t.order = t.order[1:]
		t.resolve(e, Lost)
		n++
	}
	return n
}

func (t *Tracker) resolve(e *entry, outcome Outcome) {
	e.resolved = true
	delete(t.pending, e.seq)
	switch outcome {
	case Delivered:
		t.stats.Delivered++
		t.stats.Latency.observe(t.now - e.sentAt)
	case Lost:
		t.stats.Lost++
	}
	if e.onOutcome != nil {
		e.onOutcome(e.seq, outcome)
	}
}

// compact 移除队首已解决的条目，防止 order 无限增长
func (t *Tracker) compact() {
	for len(t.order) > 0 && t.order[0].resolved {
		t.order = t.order[1:]
	}
	if len(t.order) == 0 {
		t.order = nil
	}
}

// Clear 丢弃全部未决投递，不触发回调
func (t *Tracker) Clear() {
	for _, e := range t.order {
		if !e.resolved {
			e.resolved = true
			t.stats.Cleared++
		}
	}
	t.pending = make(map[uint32]*entry)
	t.order = nil
}

// Len 未决投递数
func (t *Tracker) Len() int {
	return len(t.pending)
}

// Outstanding 序列号是否仍未决
func (t *Tracker) Outstanding(seq uint32) bool {
	_, ok := t.pending[seq]
	return ok
}

// GetStats 获取统计信息
func (t *Tracker) GetStats() Stats {
	s := t.stats
	s.Outstanding = len(t.pending)
	return s
}
