// =============================================================================
// 文件: internal/input/ring.go
// 描述: 固定容量输入环形缓冲区
// =============================================================================

package input

import "github.com/mrcgq/netplay/internal/protocol"

// FirstSequence 第一个采样的序列号，0 保留表示 "尚未应用任何输入"
const FirstSequence uint32 = 1

// Ring 固定容量的采样环形缓冲区，按序列号连续存放。
// front 是最旧采样的序列号，back 是下一个要分配的序列号。
type Ring struct {
	buf   []Sample
	head  int
	front uint32
	back  uint32
}

// NewRing 创建环形缓冲区
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf:   make([]Sample, capacity),
		front: FirstSequence,
		back:  FirstSequence,
	}
}

// Push 分配下一个序列号并写入采样。缓冲区已满时返回 false。
func (r *Ring) Push(s Sample) (Sample, bool) {
	n := r.Len()
	if n == len(r.buf) {
		return Sample{}, false
	}
	s.Seq = r.back
	r.buf[(r.head+n)%len(r.buf)] = s
	r.back++
	return s, true
}

// Pending 按序列号升序返回缓冲区中的全部采样
func (r *Ring) Pending() []Sample {
	n := r.Len()
	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// AdvanceTo 丢弃序列号小于 next 的采样。
// next 超过 back 时按 back 处理，早于 front 时不做任何事。
func (r *Ring) AdvanceTo(next uint32) int {
	if !protocol.IsMoreRecent(next, r.front) {
		return 0
	}
	if protocol.IsMoreRecent(next, r.back) {
		next = r.back
	}
	k := int(next - r.front)
	r.head = (r.head + k) % len(r.buf)
	r.front = next
	return k
}

// Front 最旧采样的序列号
func (r *Ring) Front() uint32 { return r.front }

// Back 下一个要分配的序列号
func (r *Ring) Back() uint32 { return r.back }

// Len 当前采样数
func (r *Ring) Len() int { return int(r.back - r.front) }

// Cap 容量
func (r *Ring) Cap() int { return len(r.buf) }

// Full 缓冲区是否已满
func (r *Ring) Full() bool { return r.Len() == len(r.buf) }

// Reset 清空并重新从 FirstSequence 开始编号
func (r *Ring) Reset() {
	r.head = 0
	r.front = FirstSequence
	r.back = FirstSequence
}
