// =============================================================================
// 文件: internal/world/class.go
// 描述: 角色职业表
// =============================================================================

package world

import (
	"fmt"
	"strings"
	"time"
)

// Class 职业
type Class uint8

const (
	Berserker Class = iota
	Wizard
	Hunter
)

// ClassSpec 职业参数
type ClassSpec struct {
	Name            string
	Speed           float32 // 单位/秒
	Health          uint16
	ProjectileSpeed float32
	ProjectileLife  time.Duration
	FireCooldown    time.Duration
}

// Classes 按职业索引的参数表
var Classes = map[Class]ClassSpec{
	Berserker: {Name: "berserker", Speed: 220, Health: 200, ProjectileSpeed: 500, ProjectileLife: 300 * time.Millisecond, FireCooldown: 400 * time.Millisecond},
	Wizard:    {Name: "wizard", Speed: 180, Health: 100, ProjectileSpeed: 350, ProjectileLife: 2 * time.Second, FireCooldown: 800 * time.Millisecond},
	Hunter:    {Name: "hunter", Speed: 260, Health: 120, ProjectileSpeed: 800, ProjectileLife: time.Second, FireCooldown: 250 * time.Millisecond},
}

// Spec 返回职业参数，未知职业回退为 Berserker
func (c Class) Spec() ClassSpec {
	if s, ok := Classes[c]; ok {
		return s
	}
	return Classes[Berserker]
}

func (c Class) String() string {
	if s, ok := Classes[c]; ok {
		return s.Name
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ParseClass 按名称解析职业
func ParseClass(name string) (Class, error) {
	for c, s := range Classes {
		if strings.EqualFold(s.Name, name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("未知职业: %s", name)
}
