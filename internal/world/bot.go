package world

import (
	"math"
	"math/rand"

	"github.com/mrcgq/netplay/internal/input"
)

// Bot 自动生成输入的演示输入源
type Bot struct {
	rng   *rand.Rand
	tick  int
	phase float64
}

// NewBot 创建输入源，相同 seed 产生相同序列
func NewBot(seed int64) *Bot {
	rng := rand.New(rand.NewSource(seed))
	return &Bot{rng: rng, phase: rng.Float64() * 2 * math.Pi}
}

// Sample 产生下一个采样 (Seq 由环形缓冲区分配)
func (b *Bot) Sample() input.Sample {
	b.tick++
	t := float64(b.tick)/60 + b.phase

	s := input.Sample{
		Horizontal: float32(math.Cos(t)),
		Vertical:   float32(math.Sin(t * 0.7)),
		PointerX:   b.rng.Float32() * ArenaWidth,
		PointerY:   b.rng.Float32() * ArenaHeight,
	}
	if b.tick%45 == 0 {
		s.Buttons |= input.ButtonFire
		s.PointerButtons = 1
	}
	return s
}
