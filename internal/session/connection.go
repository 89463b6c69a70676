// =============================================================================
// 文件: internal/session/connection.go
// 描述: host 侧单连接状态
// =============================================================================

package session

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/mrcgq/netplay/internal/delivery"
	"github.com/mrcgq/netplay/internal/input"
	"github.com/mrcgq/netplay/internal/replication"
)

// Connection host 侧的连接代理
type Connection struct {
	Slot  int
	ID    uint32
	Token uuid.UUID // 仅用于日志关联
	Addr  net.Addr
	Name  string
	Class uint8
	NetID uint32

	silence          time.Duration
	replicationTimer time.Duration
	nextSeq          uint32
	connected        bool

	consumer *input.Consumer
	tracker  *delivery.Tracker
	log      *replication.Log
}

func newConnection(id uint32, addr net.Addr, name string, class uint8, timing Timing) *Connection {
	return &Connection{
		ID:        id,
		Token:     uuid.New(),
		Addr:      addr,
		Name:      name,
		Class:     class,
		connected: true,
		consumer:  input.NewConsumer(input.FirstSequence),
		tracker:   delivery.New(timing.DeliveryTimeout, timing.MaxOutstandingDeliveries),
		log:       replication.NewLog(),
	}
}

// ConnectionInfo 连接快照
type ConnectionInfo struct {
	ID          uint32
	Token       string
	Addr        string
	Name        string
	Class       uint8
	NetID       uint32
	Silence     time.Duration
	LastInput   uint32
	Outstanding int
	PendingLog  int
	Delivery    delivery.Stats
}

func (c *Connection) info() ConnectionInfo {
	return ConnectionInfo{
		ID:          c.ID,
		Token:       c.Token.String(),
		Addr:        c.Addr.String(),
		Name:        c.Name,
		Class:       c.Class,
		NetID:       c.NetID,
		Silence:     c.silence,
		LastInput:   c.consumer.LastApplied(),
		Outstanding: c.tracker.Len(),
		PendingLog:  c.log.Len(),
		Delivery:    c.tracker.GetStats(),
	}
}
