// =============================================================================
// 文件: internal/protocol/ack.go
// 描述: 确认窗口 - 参考序列号 + 32 位掩码
// =============================================================================

package protocol

// AckWindowSize 编码后长度: Ref(4) + Flags(1) + Mask(4)
const AckWindowSize = 9

// AckWindowSpan 窗口可表示的偏移数 (0..32)
const AckWindowSpan = 33

const ackFlagRef = 0x01

// AckWindow 确认窗口。
// RefAcked 表示 Ref 本身已收到；Mask 第 i 位表示 Ref-1-i 已收到。
type AckWindow struct {
	Ref      uint32
	RefAcked bool
	Mask     uint32
}

// EncodeAckWindow 根据已收到的序列号构建窗口，超出窗口的序列号被忽略
func EncodeAckWindow(ref uint32, received []uint32) AckWindow {
	w := AckWindow{Ref: ref}
	for _, seq := range received {
		w.set(ref - seq)
	}
	return w
}

// EncodeAckOffsets 根据相对 ref 的偏移集合构建窗口
func EncodeAckOffsets(ref uint32, offsets []uint32) AckWindow {
	w := AckWindow{Ref: ref}
	for _, off := range offsets {
		w.set(off)
	}
	return w
}

func (w *AckWindow) set(offset uint32) {
	switch {
	case offset == 0:
		w.RefAcked = true
	case offset < AckWindowSpan:
		w.Mask |= 1 << (offset - 1)
	}
}

// Offsets 返回已确认的偏移，按偏移升序
func (w AckWindow) Offsets() []uint32 {
	var out []uint32
	if w.RefAcked {
		out = append(out, 0)
	}
	for i := uint32(0); i < 32; i++ {
		if w.Mask&(1<<i) != 0 {
			out = append(out, i+1)
		}
	}
	return out
}

// DecodeAckWindow 返回窗口确认的全部序列号
func DecodeAckWindow(w AckWindow) []uint32 {
	offsets := w.Offsets()
	seqs := make([]uint32, len(offsets))
	for i, off := range offsets {
		seqs[i] = w.Ref - off
	}
	return seqs
}

// Empty 窗口未确认任何序列号
func (w AckWindow) Empty() bool {
	return !w.RefAcked && w.Mask == 0
}

// WriteAckWindow 编码确认窗口
func WriteAckWindow(wr *Writer, w AckWindow) {
	wr.WriteUint32(w.Ref)
	var flags uint8
	if w.RefAcked {
		flags |= ackFlagRef
	}
	wr.WriteUint8(flags)
	wr.WriteUint32(w.Mask)
}

// ReadAckWindow 解码确认窗口
func ReadAckWindow(r *Reader) AckWindow {
	ref := r.ReadUint32()
	flags := r.ReadUint8()
	mask := r.ReadUint32()
	return AckWindow{Ref: ref, RefAcked: flags&ackFlagRef != 0, Mask: mask}
}

// =============================================================================
// 接收历史
// =============================================================================

// ReceiveHistory 记录接收方最近 33 个序列号
type ReceiveHistory struct {
	latest uint32
	mask   uint32
	has    bool
}

// Record 记录一个收到的序列号。
// 重复或早于窗口的序列号返回 false。
func (h *ReceiveHistory) Record(seq uint32) bool {
	if !h.has {
		h.latest, h.mask, h.has = seq, 0, true
		return true
	}
	if IsMoreRecent(seq, h.latest) {
		shift := seq - h.latest
		if shift >= AckWindowSpan {
			h.mask = 0
		} else {
			h.mask = h.mask<<shift | 1<<(shift-1)
		}
		h.latest = seq
		return true
	}
	offset := h.latest - seq
	if offset == 0 || offset >= AckWindowSpan {
		return false
	}
	bit := uint32(1) << (offset - 1)
	if h.mask&bit != 0 {
		return false
	}
	h.mask |= bit
	return true
}

// Window 返回当前确认窗口；尚未收到任何序列号时 ok 为 false
func (h *ReceiveHistory) Window() (w AckWindow, ok bool) {
	if !h.has {
		return AckWindow{}, false
	}
	return AckWindow{Ref: h.latest, RefAcked: true, Mask: h.mask}, true
}

// Latest 最新收到的序列号
func (h *ReceiveHistory) Latest() (uint32, bool) {
	return h.latest, h.has
}

// Reset 清空历史
func (h *ReceiveHistory) Reset() {
	*h = ReceiveHistory{}
}
