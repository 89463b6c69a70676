// =============================================================================
// 文件: internal/input/consumer.go
// 描述: 输入消费端 - 排序、去重、按序应用
// =============================================================================

package input

import "sort"

// ApplyResult 一次批量应用的结果
type ApplyResult struct {
	Applied   int
	Discarded int
}

// Consumer 按序应用输入采样，丢弃重复和已应用的序列号
type Consumer struct {
	next uint32
}

// NewConsumer 创建消费者，first 为第一个接受的序列号
func NewConsumer(first uint32) *Consumer {
	return &Consumer{next: first}
}

// Next 下一个期望的序列号
func (c *Consumer) Next() uint32 { return c.next }

// LastApplied 最后应用的序列号，尚未应用时为 first-1
func (c *Consumer) LastApplied() uint32 { return c.next - 1 }

// Reset 重置期望序列号
func (c *Consumer) Reset(first uint32) { c.next = first }

// Apply 对批次排序去重后按升序逐个调用 fn，并更新期望序列号
func (c *Consumer) Apply(batch []Sample, fn func(Sample)) ApplyResult {
	var res ApplyResult

	accepted := make([]Sample, 0, len(batch))
	for _, s := range batch {
		if int32(s.Seq-c.next) < 0 {
			res.Discarded++
			continue
		}
		accepted = append(accepted, s)
	}

	base := c.next
	sort.SliceStable(accepted, func(i, j int) bool {
		return int32(accepted[i].Seq-base) < int32(accepted[j].Seq-base)
	})

	for i, s := range accepted {
		if i > 0 && s.Seq == accepted[i-1].Seq {
			res.Discarded++
			continue
		}
		if fn != nil {
			fn(s)
		}
		res.Applied++
		c.next = s.Seq + 1
	}
	return res
}
