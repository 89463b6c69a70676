// =============================================================================
// 文件: internal/world/world.go
// 描述: 演示用权威模拟 - 角色移动与投射物
// =============================================================================

package world

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mrcgq/netplay/internal/input"
)

// 场地尺寸
const (
	ArenaWidth  float32 = 1024
	ArenaHeight float32 = 768
)

// Replicator 把实体变更登记到各连接的复制日志
type Replicator interface {
	NetworkCreate(netID uint32, exclude uint32)
	NetworkUpdate(netID uint32)
	NetworkDestroyAfter(netID uint32, delay time.Duration) error
}

// World 权威模拟。只能在 tick 所在协程中使用。
type World struct {
	step     time.Duration
	entities map[uint32]*Entity
	cooldown map[uint32]time.Duration
	nextID   uint32
	repl     Replicator
	logger   *zap.Logger
	misfires uint64
}

// New 创建模拟，step 为每个输入采样代表的时间
func New(step time.Duration) *World {
	return &World{
		step:     step,
		entities: make(map[uint32]*Entity),
		cooldown: make(map[uint32]time.Duration),
		logger:   zap.NewNop(),
	}
}

// SetLogger 设置日志
func (w *World) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	w.logger = l.Named("world")
}

// Misfires 因延迟销毁列表已满而未生成的投射物数
func (w *World) Misfires() uint64 {
	return w.misfires
}

// SetReplicator 设置复制登记目标
func (w *World) SetReplicator(r Replicator) {
	w.repl = r
}

// Spawn 生成角色
func (w *World) Spawn(class uint8, name string) (uint32, error) {
	c := Class(class)
	spec, ok := Classes[c]
	if !ok {
		return 0, fmt.Errorf("未知职业: %d", class)
	}

	w.nextID++
	id := w.nextID
	slot := float32(id % 8)
	w.entities[id] = &Entity{
		ID:     id,
		Kind:   KindAvatar,
		Class:  c,
		Name:   name,
		X:      ArenaWidth/8*slot + ArenaWidth/16,
		Y:      ArenaHeight / 2,
		Health: spec.Health,
	}
	return id, nil
}

// Despawn 移除实体
func (w *World) Despawn(id uint32) {
	delete(w.entities, id)
	delete(w.cooldown, id)
}

// Exists 实体是否存在
func (w *World) Exists(id uint32) bool {
	_, ok := w.entities[id]
	return ok
}

// Dependents 返回 id 发射的投射物
func (w *World) Dependents(id uint32) []uint32 {
	var out []uint32
	for _, e := range w.entities {
		if e.Kind == KindProjectile && e.Owner == id {
			out = append(out, e.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ApplyInput 在角色上应用输入，按下开火时生成投射物
func (w *World) ApplyInput(id uint32, s input.Sample) {
	e, ok := w.entities[id]
	if !ok || e.Kind != KindAvatar {
		return
	}
	Move(e, s, w.step)
	if w.repl != nil {
		w.repl.NetworkUpdate(id)
	}

	if s.Pressed(input.ButtonFire) && w.cooldown[id] <= 0 {
		w.fire(e)
	}
}

func (w *World) fire(owner *Entity) {
	spec := owner.Class.Spec()
	w.cooldown[owner.ID] = spec.FireCooldown

	id := w.nextID + 1
	if w.repl != nil {
		// 先登记寿命，无法保证销毁的投射物不生成
		if err := w.repl.NetworkDestroyAfter(id, spec.ProjectileLife); err != nil {
			w.misfires++
			w.logger.Warn("投射物未生成", zap.Uint32("owner", owner.ID), zap.Error(err))
			return
		}
	}
	w.nextID = id
	sin, cos := math.Sincos(float64(owner.Angle))
	w.entities[id] = &Entity{
		ID:    id,
		Kind:  KindProjectile,
		Class: owner.Class,
		Owner: owner.ID,
		X:     owner.X,
		Y:     owner.Y,
		VX:    float32(cos) * spec.ProjectileSpeed,
		VY:    float32(sin) * spec.ProjectileSpeed,
		Angle: owner.Angle,
	}
	if w.repl != nil {
		w.repl.NetworkCreate(id, 0)
	}
}

// Step 推进投射物与冷却
func (w *World) Step(dt time.Duration) {
	for id, cd := range w.cooldown {
		w.cooldown[id] = cd - dt
	}
	secs := float32(dt.Seconds())
	for _, e := range w.entities {
		if e.Kind != KindProjectile {
			continue
		}
		e.X += e.VX * secs
		e.Y += e.VY * secs
		if w.repl != nil {
			w.repl.NetworkUpdate(e.ID)
		}
	}
}

// Roster 全部实体 id (升序)
func (w *World) Roster() []uint32 {
	ids := make([]uint32, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WriteState 序列化实体状态
func (w *World) WriteState(id uint32) []byte {
	e, ok := w.entities[id]
	if !ok {
		return nil
	}
	return EncodeState(e)
}

// Get 返回实体副本
func (w *World) Get(id uint32) (Entity, bool) {
	e, ok := w.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Len 实体数
func (w *World) Len() int {
	return len(w.entities)
}

// Move 按输入移动角色并朝向指针，host 与 peer 预测共用
func Move(e *Entity, s input.Sample, step time.Duration) {
	speed := e.Class.Spec().Speed
	secs := float32(step.Seconds())

	h, v := clampAxis(s.Horizontal), clampAxis(s.Vertical)
	e.X = clamp(e.X+h*speed*secs, 0, ArenaWidth)
	e.Y = clamp(e.Y+v*speed*secs, 0, ArenaHeight)

	dx, dy := s.PointerX-e.X, s.PointerY-e.Y
	if dx != 0 || dy != 0 {
		e.Angle = float32(math.Atan2(float64(dy), float64(dx)))
	}
}

func clampAxis(v float32) float32 {
	return clamp(v, -1, 1)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
