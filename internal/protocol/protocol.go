// =============================================================================
// 文件: internal/protocol/protocol.go
// 描述: 会话协议 - 协议标识、消息类型与公共常量
// =============================================================================

package protocol

import (
	"errors"
	"fmt"
)

// ProtocolID 每个数据报开头的协议标识 ("NPLY")
const ProtocolID uint32 = 0x4E504C59

// HeaderSize 协议标识(4) + 消息类型(1)
const HeaderSize = 5

// MaxDatagramSize 单个数据报的安全上限
const MaxDatagramSize = 1280

// ClientMessage peer -> host 消息类型
type ClientMessage uint8

const (
	ClientHello ClientMessage = 0x01
	ClientInput ClientMessage = 0x02
	ClientPing  ClientMessage = 0x03
)

// ServerMessage host -> peer 消息类型
type ServerMessage uint8

const (
	ServerWelcome     ServerMessage = 0x01
	ServerUnwelcome   ServerMessage = 0x02
	ServerReplication ServerMessage = 0x03
	ServerPing        ServerMessage = 0x04
)

var (
	// ErrShortBuffer 数据不足以解码
	ErrShortBuffer = errors.New("数据太短")
	// ErrForeignProtocol 协议标识不匹配
	ErrForeignProtocol = errors.New("协议标识不匹配")
)

func (m ClientMessage) String() string {
	switch m {
	case ClientHello:
		return "Hello"
	case ClientInput:
		return "Input"
	case ClientPing:
		return "Ping"
	default:
		return fmt.Sprintf("ClientMessage(%d)", uint8(m))
	}
}

func (m ServerMessage) String() string {
	switch m {
	case ServerWelcome:
		return "Welcome"
	case ServerUnwelcome:
		return "Unwelcome"
	case ServerReplication:
		return "Replication"
	case ServerPing:
		return "Ping"
	default:
		return fmt.Sprintf("ServerMessage(%d)", uint8(m))
	}
}

// ReadHeader 校验协议标识并返回消息类型字节。
// 标识不匹配时返回 ErrForeignProtocol，调用方应静默丢弃。
func ReadHeader(r *Reader) (uint8, error) {
	id := r.ReadUint32()
	kind := r.ReadUint8()
	if err := r.Err(); err != nil {
		return 0, err
	}
	if id != ProtocolID {
		return 0, fmt.Errorf("%w: 0x%08X", ErrForeignProtocol, id)
	}
	return kind, nil
}

// WriteHeader 写入协议标识与消息类型
func WriteHeader(w *Writer, kind uint8) {
	w.WriteUint32(ProtocolID)
	w.WriteUint8(kind)
}
