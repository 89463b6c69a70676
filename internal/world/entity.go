package world

import (
	"fmt"

	"github.com/mrcgq/netplay/internal/protocol"
)

// Kind 实体类型
type Kind uint8

const (
	KindAvatar Kind = iota + 1
	KindProjectile
)

// Entity 网络实体的可复制状态
type Entity struct {
	ID     uint32
	Kind   Kind
	Class  Class
	Name   string
	Owner  uint32 // 投射物的发射者
	X, Y   float32
	VX, VY float32
	Angle  float32
	Health uint16
}

// EncodeState 序列化实体状态
func EncodeState(e *Entity) []byte {
	w := protocol.NewWriter(40 + len(e.Name))
	w.WriteUint8(uint8(e.Kind))
	w.WriteUint8(uint8(e.Class))
	w.WriteString8(e.Name)
	w.WriteUint32(e.Owner)
	w.WriteFloat32(e.X)
	w.WriteFloat32(e.Y)
	w.WriteFloat32(e.VX)
	w.WriteFloat32(e.VY)
	w.WriteFloat32(e.Angle)
	w.WriteUint16(e.Health)
	return w.Bytes()
}

// DecodeState 反序列化实体状态到 e (保留 e.ID)
func DecodeState(data []byte, e *Entity) error {
	r := protocol.NewReader(data)
	kind := Kind(r.ReadUint8())
	class := Class(r.ReadUint8())
	name := r.ReadString8()
	owner := r.ReadUint32()
	x, y := r.ReadFloat32(), r.ReadFloat32()
	vx, vy := r.ReadFloat32(), r.ReadFloat32()
	angle := r.ReadFloat32()
	health := r.ReadUint16()
	if err := r.Err(); err != nil {
		return fmt.Errorf("解析实体状态: %w", err)
	}
	if kind != KindAvatar && kind != KindProjectile {
		return fmt.Errorf("无效的实体类型: %d", uint8(kind))
	}
	e.Kind, e.Class, e.Name, e.Owner = kind, class, name, owner
	e.X, e.Y, e.VX, e.VY, e.Angle, e.Health = x, y, vx, vy, angle, health
	return nil
}
