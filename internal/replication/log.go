// =============================================================================
// 文件: internal/replication/log.go
// 描述: 复制日志 - 单连接的 Create/Update/Destroy 折叠记录
// =============================================================================

package replication

import (
	"fmt"
	"sort"

	"github.com/mrcgq/netplay/internal/protocol"
)

// Kind 复制命令类型
type Kind uint8

const (
	Create  Kind = 0x01
	Update  Kind = 0x02
	Destroy Kind = 0x03
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Destroy:
		return "destroy"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) valid() bool {
	return k >= Create && k <= Destroy
}

// carriesState Create/Update 携带实体状态
func (k Kind) carriesState() bool {
	return k == Create || k == Update
}

// Command 复制命令
type Command struct {
	ID    uint32
	Kind  Kind
	State []byte
}

// StateFunc 在 flush 时提供实体的序列化状态
type StateFunc func(id uint32) []byte

// Option 日志选项
type Option func(*Log)

// WithLegacyDestroy Destroy 无条件覆盖，包括尚未发送的 Create。
// 默认行为是 Create 未发送时 Destroy 直接抵消该条目。
func WithLegacyDestroy() Option {
	return func(l *Log) { l.legacyDestroy = true }
}

// Log 复制日志。同一 id 最多一条未决命令。
type Log struct {
	pending map[uint32]Kind
	// 由 Replay 重新登记的 Create，对端可能已经收到过
	replayed      map[uint32]struct{}
	legacyDestroy bool
}

// NewLog 创建复制日志
func NewLog(opts ...Option) *Log {
	l := &Log{
		pending:  make(map[uint32]Kind),
		replayed: make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create 登记 Create，覆盖该 id 已有的命令
func (l *Log) Create(id uint32) {
	l.pending[id] = Create
}

// Update 仅在该 id 没有未决命令时登记 Update
func (l *Log) Update(id uint32) {
	if _, ok := l.pending[id]; ok {
		return
	}
	l.pending[id] = Update
}

// Destroy 登记 Destroy。
// 从未发送过的 Create 被直接抵消，对端从未得知该对象。
// 重放的 Create 可能只是丢了确认，仍需发送 Destroy。
func (l *Log) Destroy(id uint32) {
	_, replayed := l.replayed[id]
	delete(l.replayed, id)
	if !l.legacyDestroy && !replayed && l.pending[id] == Create {
		delete(l.pending, id)
		return
	}
	l.pending[id] = Destroy
}

// Pending 返回 id 的未决命令
func (l *Log) Pending(id uint32) (Kind, bool) {
	k, ok := l.pending[id]
	return k, ok
}

// Len 未决命令数
func (l *Log) Len() int {
	return len(l.pending)
}

// Clear 清空日志
func (l *Log) Clear() {
	l.pending = make(map[uint32]Kind)
	l.replayed = make(map[uint32]struct{})
}

// Commands 按 id 升序返回未决命令，不清空日志
func (l *Log) Commands() []Command {
	ids := make([]uint32, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	cmds := make([]Command, len(ids))
	for i, id := range ids {
		cmds[i] = Command{ID: id, Kind: l.pending[id]}
	}
	return cmds
}

// Flush 按 id 升序序列化全部未决命令并清空日志，返回已写出的命令。
// 格式: count(2) + [id(4) + kind(1) + (stateLen(2) + state)]*
func (l *Log) Flush(w *protocol.Writer, state StateFunc) []Command {
	cmds := l.Commands()
	w.WriteUint16(uint16(len(cmds)))
	for i := range cmds {
		c := &cmds[i]
		w.WriteUint32(c.ID)
		w.WriteUint8(uint8(c.Kind))
		if c.Kind.carriesState() {
			if state != nil {
				c.State = state(c.ID)
			}
			w.WriteBytes16(c.State)
		}
	}
	l.Clear()
	return cmds
}

// Replay 将丢失包中的命令重新登记，返回重新登记的数量。
// exists 报告实体当前是否仍存在；较新的未决命令不会被旧命令覆盖。
func (l *Log) Replay(cmds []Command, exists func(id uint32) bool) int {
	n := 0
	for _, c := range cmds {
		pending, hasPending := l.pending[c.ID]
		alive := exists != nil && exists(c.ID)

		switch c.Kind {
		case Create:
			// 对端可能从未得知该对象，Create 优先于未决的 Update
			if alive && (!hasPending || pending == Update) {
				l.pending[c.ID] = Create
				l.replayed[c.ID] = struct{}{}
				n++
			}
		case Update:
			if alive && !hasPending {
				l.pending[c.ID] = Update
				n++
			}
		case Destroy:
			if !alive && !hasPending {
				l.pending[c.ID] = Destroy
				n++
			}
		}
	}
	return n
}

// Decode 解码复制命令列表
func Decode(r *protocol.Reader) ([]Command, error) {
	count := int(r.ReadUint16())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("解析命令数: %w", err)
	}
	// 每条命令至少 5 字节
	if count*5 > r.Remaining() {
		return nil, fmt.Errorf("命令数 %d 超出剩余数据 %d: %w", count, r.Remaining(), protocol.ErrShortBuffer)
	}

	cmds := make([]Command, 0, count)
	for i := 0; i < count; i++ {
		c := Command{ID: r.ReadUint32(), Kind: Kind(r.ReadUint8())}
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("解析第 %d 条命令: %w", i, err)
		}
		if !c.Kind.valid() {
			return nil, fmt.Errorf("无效的命令类型: %d", uint8(c.Kind))
		}
		if c.Kind.carriesState() {
			c.State = r.ReadBytes16()
			if err := r.Err(); err != nil {
				return nil, fmt.Errorf("解析第 %d 条命令状态: %w", i, err)
			}
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}
