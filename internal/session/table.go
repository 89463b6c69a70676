// =============================================================================
// 文件: internal/session/table.go
// 描述: 固定容量连接表 - 空闲栈 O(1) 分配/释放，位图记录占用
// =============================================================================

package session

import (
	"github.com/bits-and-blooms/bitset"
)

// Table 固定容量的连接代理表。
// 释放的槽位先进入待释放列表，下一个 tick 开始时才回到空闲栈。
type Table struct {
	slots    []*Connection
	free     []int
	occupied *bitset.BitSet
	byAddr   map[string]int
	release  []int
}

// NewTable 创建容量为 capacity 的连接表
func NewTable(capacity int) *Table {
	t := &Table{
		slots:    make([]*Connection, capacity),
		free:     make([]int, 0, capacity),
		occupied: bitset.New(uint(capacity)),
		byAddr:   make(map[string]int, capacity),
	}
	// 低编号槽位先分配
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

// Allocate 取出一个空闲槽位
func (t *Table) Allocate() (int, bool) {
	n := len(t.free)
	if n == 0 {
		return -1, false
	}
	idx := t.free[n-1]
	t.free = t.free[:n-1]
	t.occupied.Set(uint(idx))
	return idx, true
}

// Put 将连接放入已分配的槽位并按地址索引
func (t *Table) Put(idx int, c *Connection) {
	c.Slot = idx
	t.slots[idx] = c
	t.byAddr[c.Addr.String()] = idx
}

// Lookup 按地址查找仍处于连接状态的代理
func (t *Table) Lookup(addr string) (*Connection, bool) {
	idx, ok := t.byAddr[addr]
	if !ok {
		return nil, false
	}
	return t.slots[idx], true
}

// Release 解除地址索引，槽位在下一次 ReleasePending 时才可复用
func (t *Table) Release(idx int) {
	if c := t.slots[idx]; c != nil {
		if cur, ok := t.byAddr[c.Addr.String()]; ok && cur == idx {
			delete(t.byAddr, c.Addr.String())
		}
	}
	t.release = append(t.release, idx)
}

// Discard 立即归还一个尚未放入连接的槽位
func (t *Table) Discard(idx int) {
	t.slots[idx] = nil
	t.occupied.Clear(uint(idx))
	t.free = append(t.free, idx)
}

// ReleasePending 将待释放槽位归还空闲栈，返回归还数量
func (t *Table) ReleasePending() int {
	n := len(t.release)
	for _, idx := range t.release {
		t.Discard(idx)
	}
	t.release = t.release[:0]
	return n
}

// Get 返回槽位上的连接
func (t *Table) Get(idx int) *Connection {
	if idx < 0 || idx >= len(t.slots) {
		return nil
	}
	return t.slots[idx]
}

// Each 按槽位顺序遍历已连接的代理
func (t *Table) Each(fn func(c *Connection)) {
	for i, e := t.occupied.NextSet(0); e; i, e = t.occupied.NextSet(i + 1) {
		if c := t.slots[i]; c != nil && c.connected {
			fn(c)
		}
	}
}

// Connected 已连接代理列表 (快照，遍历时可安全修改表)
func (t *Table) Connected() []*Connection {
	var out []*Connection
	t.Each(func(c *Connection) { out = append(out, c) })
	return out
}

// Occupied 已占用槽位数 (含待释放)
func (t *Table) Occupied() int {
	return int(t.occupied.Count())
}

// Available 空闲槽位数
func (t *Table) Available() int {
	return len(t.free)
}

// Cap 容量
func (t *Table) Cap() int {
	return len(t.slots)
}
