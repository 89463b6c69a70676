// =============================================================================
// 文件: internal/protocol/message.go
// 描述: 会话消息编解码
// =============================================================================

package protocol

import "fmt"

// Hello peer 握手请求
type Hello struct {
	Name  string
	Class uint8
}

// Welcome host 接受握手
type Welcome struct {
	ConnID uint32
	NetID  uint32
}

// ReplicationHeader 复制包头部，命令列表紧随其后
type ReplicationHeader struct {
	LastAppliedInput uint32
	Seq              uint32
}

// ReplicationHeaderSize LastAppliedInput(4) + Seq(4)
const ReplicationHeaderSize = 8

// EncodeHello 编码 Hello
func EncodeHello(h Hello) []byte {
	w := NewWriter(HeaderSize + 2 + len(h.Name))
	WriteHeader(w, uint8(ClientHello))
	w.WriteString8(h.Name)
	w.WriteUint8(h.Class)
	return w.Bytes()
}

// DecodeHello 解码 Hello 负载
func DecodeHello(r *Reader) (Hello, error) {
	h := Hello{Name: r.ReadString8(), Class: r.ReadUint8()}
	if err := r.Err(); err != nil {
		return Hello{}, fmt.Errorf("解析 Hello: %w", err)
	}
	return h, nil
}

// EncodeWelcome 编码 Welcome
func EncodeWelcome(m Welcome) []byte {
	w := NewWriter(HeaderSize + 8)
	WriteHeader(w, uint8(ServerWelcome))
	w.WriteUint32(m.ConnID)
	w.WriteUint32(m.NetID)
	return w.Bytes()
}

// DecodeWelcome 解码 Welcome 负载
func DecodeWelcome(r *Reader) (Welcome, error) {
	m := Welcome{ConnID: r.ReadUint32(), NetID: r.ReadUint32()}
	if err := r.Err(); err != nil {
		return Welcome{}, fmt.Errorf("解析 Welcome: %w", err)
	}
	return m, nil
}

// EncodeUnwelcome 编码 Unwelcome (无负载)
func EncodeUnwelcome() []byte {
	w := NewWriter(HeaderSize)
	WriteHeader(w, uint8(ServerUnwelcome))
	return w.Bytes()
}

// EncodeServerPing 编码 host 心跳 (无负载)
func EncodeServerPing() []byte {
	w := NewWriter(HeaderSize)
	WriteHeader(w, uint8(ServerPing))
	return w.Bytes()
}

// EncodeClientPing 编码 peer 心跳，携带确认窗口
func EncodeClientPing(ack AckWindow) []byte {
	w := NewWriter(HeaderSize + AckWindowSize)
	WriteHeader(w, uint8(ClientPing))
	WriteAckWindow(w, ack)
	return w.Bytes()
}

// DecodeClientPing 解码 peer 心跳负载
func DecodeClientPing(r *Reader) (AckWindow, error) {
	ack := ReadAckWindow(r)
	if err := r.Err(); err != nil {
		return AckWindow{}, fmt.Errorf("解析 Ping: %w", err)
	}
	return ack, nil
}

// BeginInput 写入 Input 消息头，输入批次由调用方追加
func BeginInput(w *Writer) {
	WriteHeader(w, uint8(ClientInput))
}

// BeginReplication 写入 Replication 消息头，命令列表由调用方追加
func BeginReplication(w *Writer, h ReplicationHeader) {
	WriteHeader(w, uint8(ServerReplication))
	w.WriteUint32(h.LastAppliedInput)
	w.WriteUint32(h.Seq)
}

// ReadReplicationHeader 解码 Replication 头部
func ReadReplicationHeader(r *Reader) (ReplicationHeader, error) {
	h := ReplicationHeader{LastAppliedInput: r.ReadUint32(), Seq: r.ReadUint32()}
	if err := r.Err(); err != nil {
		return ReplicationHeader{}, fmt.Errorf("解析 Replication 头部: %w", err)
	}
	return h, nil
}
