// =============================================================================
// 文件: internal/world/shadow.go
// 描述: peer 侧影子实体表与本地预测
// =============================================================================

package world

import (
	"sort"
	"time"

	"github.com/mrcgq/netplay/internal/input"
)

// ShadowTable peer 侧的影子实体表
type ShadowTable struct {
	step     time.Duration
	entities map[uint32]*Entity
}

// NewShadowTable 创建影子实体表，step 与 host 的 World 保持一致
func NewShadowTable(step time.Duration) *ShadowTable {
	return &ShadowTable{step: step, entities: make(map[uint32]*Entity)}
}

func (t *ShadowTable) HasShadow(id uint32) bool {
	_, ok := t.entities[id]
	return ok
}

func (t *ShadowTable) CreateShadow(id uint32, state []byte) error {
	e := &Entity{ID: id}
	if err := DecodeState(state, e); err != nil {
		return err
	}
	t.entities[id] = e
	return nil
}

func (t *ShadowTable) UpdateShadow(id uint32, state []byte) error {
	e, ok := t.entities[id]
	if !ok {
		return nil
	}
	return DecodeState(state, e)
}

func (t *ShadowTable) DestroyShadow(id uint32) bool {
	if _, ok := t.entities[id]; !ok {
		return false
	}
	delete(t.entities, id)
	return true
}

// ClearShadows 清空全部影子实体
func (t *ShadowTable) ClearShadows() {
	t.entities = make(map[uint32]*Entity)
}

// Predict 在本地受控角色上立即应用输入
func (t *ShadowTable) Predict(id uint32, s input.Sample) {
	e, ok := t.entities[id]
	if !ok || e.Kind != KindAvatar {
		return
	}
	Move(e, s, t.step)
}

// Get 返回影子实体副本
func (t *ShadowTable) Get(id uint32) (Entity, bool) {
	e, ok := t.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// IDs 全部影子实体 id (升序)
func (t *ShadowTable) IDs() []uint32 {
	ids := make([]uint32, 0, len(t.entities))
	for id := range t.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len 影子实体数
func (t *ShadowTable) Len() int {
	return len(t.entities)
}
