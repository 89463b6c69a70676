// =============================================================================
// 文件: internal/protocol/codec.go
// 描述: 大端序读写器
// =============================================================================

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer 大端序追加写入器
type Writer struct {
	buf []byte
}

// NewWriter 创建写入器，sizeHint 为预分配容量
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WriteBytes16 写入 u16 长度前缀的字节串，超长部分截断
func (w *Writer) WriteBytes16(b []byte) {
	if len(b) > math.MaxUint16 {
		b = b[:math.MaxUint16]
	}
	w.WriteUint16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString8 写入 u8 长度前缀的字符串，超过 255 字节截断
func (w *Writer) WriteString8(s string) {
	if len(s) > math.MaxUint8 {
		s = s[:math.MaxUint8]
	}
	w.WriteUint8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

// Bytes 返回已写入的数据
func (w *Writer) Bytes() []byte { return w.buf }

// Len 已写入字节数
func (w *Writer) Len() int { return len(w.buf) }

// Reader 大端序读取器。
// 第一次越界后记录错误，之后的读取全部返回零值，由调用方在末尾检查 Err。
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader 创建读取器
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.data)-r.off < n {
		r.err = fmt.Errorf("%w: 偏移 %d 需要 %d 字节, 剩余 %d", ErrShortBuffer, r.off, n, len(r.data)-r.off)
		return false
	}
	return true
}

func (r *Reader) ReadUint8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *Reader) ReadUint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *Reader) ReadUint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

// ReadBytes16 读取 u16 长度前缀的字节串 (返回副本)
func (r *Reader) ReadBytes16() []byte {
	n := int(r.ReadUint16())
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// ReadString8 读取 u8 长度前缀的字符串
func (r *Reader) ReadString8() string {
	n := int(r.ReadUint8())
	if !r.need(n) {
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

// Remaining 剩余未读字节数
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Err 返回第一次读取错误
func (r *Reader) Err() error { return r.err }
