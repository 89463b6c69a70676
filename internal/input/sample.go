// =============================================================================
// 文件: internal/input/sample.go
// 描述: 输入采样与批量编解码
// =============================================================================

package input

import (
	"fmt"

	"github.com/mrcgq/netplay/internal/protocol"
)

// SampleSize 单个采样编码长度
// Seq(4) + Horizontal(4) + Vertical(4) + Buttons(2) + PointerX(4) + PointerY(4) + PointerButtons(1)
const SampleSize = 23

// 按钮位
const (
	ButtonFire uint16 = 1 << iota
	ButtonAltFire
	ButtonJump
	ButtonUse
)

// Sample 一次输入采样
type Sample struct {
	Seq            uint32
	Horizontal     float32
	Vertical       float32
	Buttons        uint16
	PointerX       float32
	PointerY       float32
	PointerButtons uint8
}

// Pressed 按钮是否按下
func (s Sample) Pressed(button uint16) bool {
	return s.Buttons&button != 0
}

// WriteSample 编码单个采样
func WriteSample(w *protocol.Writer, s Sample) {
	w.WriteUint32(s.Seq)
	w.WriteFloat32(s.Horizontal)
	w.WriteFloat32(s.Vertical)
	w.WriteUint16(s.Buttons)
	w.WriteFloat32(s.PointerX)
	w.WriteFloat32(s.PointerY)
	w.WriteUint8(s.PointerButtons)
}

// ReadSample 解码单个采样
func ReadSample(r *protocol.Reader) Sample {
	return Sample{
		Seq:            r.ReadUint32(),
		Horizontal:     r.ReadFloat32(),
		Vertical:       r.ReadFloat32(),
		Buttons:        r.ReadUint16(),
		PointerX:       r.ReadFloat32(),
		PointerY:       r.ReadFloat32(),
		PointerButtons: r.ReadUint8(),
	}
}

// EncodeBatch 编码采样批次: count(2) + sample*
func EncodeBatch(w *protocol.Writer, samples []Sample) {
	w.WriteUint16(uint16(len(samples)))
	for _, s := range samples {
		WriteSample(w, s)
	}
}

// DecodeBatch 解码采样批次
func DecodeBatch(r *protocol.Reader) ([]Sample, error) {
	count := int(r.ReadUint16())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("解析采样数: %w", err)
	}
	if count*SampleSize > r.Remaining() {
		return nil, fmt.Errorf("采样数 %d 超出剩余数据 %d: %w", count, r.Remaining(), protocol.ErrShortBuffer)
	}

	samples := make([]Sample, count)
	for i := range samples {
		samples[i] = ReadSample(r)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("解析采样: %w", err)
	}
	return samples, nil
}

// MaxBatchSamples 单个数据报可容纳的最大采样数
func MaxBatchSamples() int {
	return (protocol.MaxDatagramSize - protocol.HeaderSize - 2) / SampleSize
}
