// =============================================================================
// 文件: internal/transport/transport_test.go
// 描述: 数据报传输测试
// =============================================================================
package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, tr Transport, want int) []Datagram {
	t.Helper()
	var got []Datagram
	require.Eventually(t, func() bool {
		got = append(got, tr.Poll()...)
		return len(got) >= want
	}, 3*time.Second, 5*time.Millisecond)
	return got
}

func TestMemoryNetworkDelivery(t *testing.T) {
	n := NewMemoryNetwork()
	host, err := n.Listen("host")
	require.NoError(t, err)
	peer, err := n.Dial("peer", "host")
	require.NoError(t, err)

	require.NoError(t, peer.SendTo([]byte("hello"), nil))
	require.NoError(t, peer.SendTo([]byte("again"), nil))

	got := host.Poll()
	require.Len(t, got, 2)
	assert.Equal(t, "hello", string(got[0].Data))
	assert.Equal(t, "peer", got[0].Addr.String())
	assert.Empty(t, host.Poll(), "Poll 只返回已排队的数据报")

	require.NoError(t, host.SendTo([]byte("welcome"), got[0].Addr))
	back := peer.Poll()
	require.Len(t, back, 1)
	assert.Equal(t, "welcome", string(back[0].Data))

	_, err = n.Listen("host")
	assert.Error(t, err)
}

func TestMemoryNetworkDropAndReset(t *testing.T) {
	n := NewMemoryNetwork()
	host, _ := n.Listen("host")
	peer, _ := n.Dial("peer", "host")

	n.SetDrop(func(from, to string, data []byte) bool { return data[0] == 'x' })
	require.NoError(t, peer.SendTo([]byte("x1"), nil))
	require.NoError(t, peer.SendTo([]byte("ok"), nil))
	got := host.Poll()
	require.Len(t, got, 1)
	assert.Equal(t, "ok", string(got[0].Data))

	require.NoError(t, host.Close())
	require.NoError(t, peer.SendTo([]byte("lost"), nil))
	reset := peer.Poll()
	require.Len(t, reset, 1)
	assert.True(t, errors.Is(reset[0].Err, ErrConnectionReset))
	assert.Equal(t, uint64(1), peer.GetStats().Resets)

	assert.ErrorIs(t, host.SendTo([]byte("x"), MemAddr("peer")), ErrClosed)
}

func TestUDPTransportLoopback(t *testing.T) {
	host, err := ListenUDP("127.0.0.1:0", DefaultOptions(), nil)
	require.NoError(t, err)
	defer host.Close()

	peer, err := DialUDP(host.LocalAddr().String(), DefaultOptions(), nil)
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, peer.SendTo([]byte("ping"), nil))
	got := collect(t, host, 1)
	assert.Equal(t, "ping", string(got[0].Data))
	assert.Equal(t, peer.LocalAddr().String(), got[0].Addr.String())

	require.NoError(t, host.SendTo([]byte("pong"), got[0].Addr))
	back := collect(t, peer, 1)
	assert.Equal(t, "pong", string(back[0].Data))

	assert.Equal(t, uint64(1), host.GetStats().PacketsRecv)
	assert.Equal(t, uint64(1), host.GetStats().PacketsSent)
}

func TestUDPDialRefused(t *testing.T) {
	// 占用一个端口后立即释放，确保没有监听者
	probe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	addr := probe.LocalAddr().String()
	probe.Close()

	peer, err := DialUDP(addr, DefaultOptions(), nil)
	require.NoError(t, err)
	defer peer.Close()

	var reset bool
	require.Eventually(t, func() bool {
		if err := peer.SendTo([]byte("hello"), nil); errors.Is(err, ErrConnectionReset) {
			reset = true
		}
		for _, d := range peer.Poll() {
			if errors.Is(d.Err, ErrConnectionReset) {
				reset = true
			}
		}
		return reset
	}, 3*time.Second, 20*time.Millisecond)
}

func TestUDPCloseIdempotent(t *testing.T) {
	tr, err := ListenUDP("127.0.0.1:0", DefaultOptions(), nil)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.SendTo([]byte("x"), tr.LocalAddr()), ErrClosed)
}

func TestListenUDPBadAddress(t *testing.T) {
	_, err := ListenUDP("not-an-address", DefaultOptions(), nil)
	assert.Error(t, err)
}

func TestWebSocketLoopback(t *testing.T) {
	host, err := ListenWebSocket("127.0.0.1:0", "/netplay", DefaultOptions(), nil)
	require.NoError(t, err)
	defer host.Close()

	url := "ws://" + host.LocalAddr().String() + "/netplay"
	peer, err := DialWebSocket(context.Background(), url, DefaultOptions(), nil)
	require.NoError(t, err)

	require.NoError(t, peer.SendTo([]byte("hello"), nil))
	got := collect(t, host, 1)
	assert.Equal(t, "hello", string(got[0].Data))
	assert.Equal(t, "ws", got[0].Addr.Network())

	require.NoError(t, host.SendTo([]byte("welcome"), got[0].Addr))
	back := collect(t, peer, 1)
	assert.Equal(t, "welcome", string(back[0].Data))
	assert.True(t, strings.HasPrefix(peer.RemoteAddr().String(), "127.0.0.1:"))

	// peer 关闭后 host 收到重置通知
	require.NoError(t, peer.Close())
	resets := collect(t, host, 1)
	assert.True(t, errors.Is(resets[0].Err, ErrConnectionReset))

	assert.Eventually(t, func() bool { return host.ActiveConns() == 0 }, 3*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, host.SendTo([]byte("x"), got[0].Addr), ErrUnknownAddr)
}

func TestInboxDropsWhenFull(t *testing.T) {
	var c counters
	q := newInbox(2, &c)
	assert.True(t, q.push(Datagram{}))
	assert.True(t, q.push(Datagram{}))
	assert.False(t, q.push(Datagram{}))
	assert.Len(t, q.poll(), 2)
	assert.Nil(t, q.poll())
	assert.Equal(t, uint64(1), c.snapshot().PacketsDropped)
}
