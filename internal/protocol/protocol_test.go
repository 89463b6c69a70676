// =============================================================================
// 文件: internal/protocol/protocol_test.go
// =============================================================================

package protocol

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMoreRecentWraparound(t *testing.T) {
	assert.True(t, IsMoreRecent(1, 0))
	assert.False(t, IsMoreRecent(0, 1))
	assert.False(t, IsMoreRecent(7, 7))

	// 跨越 2^32 回绕
	assert.True(t, IsMoreRecent(2, 0xFFFFFFFE))
	assert.False(t, IsMoreRecent(0xFFFFFFFE, 2))

	// 跨越中点
	mid := uint32(1 << 31)
	assert.True(t, IsMoreRecent(mid+5, mid-5))
	assert.False(t, IsMoreRecent(mid-5, mid+5))
}

func TestIsMoreRecentTransitiveWithinHalfSpace(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		base := rng.Uint32()
		// 三个点落在宽度小于半个数值空间的窗口内
		a := base + uint32(rng.Int31n(1<<29))
		b := a + uint32(rng.Int31n(1<<29)) + 1
		c := b + uint32(rng.Int31n(1<<29)) + 1

		require.True(t, IsMoreRecent(b, a), "b > a base=%d", base)
		require.True(t, IsMoreRecent(c, b), "c > b base=%d", base)
		require.True(t, IsMoreRecent(c, a), "传递性 base=%d", base)
		require.False(t, IsMoreRecent(a, c))
	}
}

func TestAckWindowRoundTripBoundarySets(t *testing.T) {
	all := make([]uint32, AckWindowSpan)
	for i := range all {
		all[i] = uint32(i)
	}
	cases := map[string][]uint32{
		"empty":    nil,
		"ref only": {0},
		"oldest":   {32},
		"all":      all,
		"edges":    {0, 1, 31, 32},
		"odd":      {1, 3, 5, 7, 9, 31},
	}
	for name, offsets := range cases {
		t.Run(name, func(t *testing.T) {
			for _, ref := range []uint32{0, 10, 1 << 31, 0xFFFFFFFF} {
				w := EncodeAckOffsets(ref, offsets)
				got := w.Offsets()
				if len(offsets) == 0 {
					assert.Empty(t, got)
					continue
				}
				assert.Equal(t, offsets, got, "ref=%d", ref)
			}
		})
	}
}

func TestAckWindowRoundTripRandomSubsets(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		// 每次随机选择 {0..32} 的一个子集
		bits := rng.Uint64() & (1<<AckWindowSpan - 1)
		var offsets []uint32
		for off := uint32(0); off < AckWindowSpan; off++ {
			if bits&(1<<off) != 0 {
				offsets = append(offsets, off)
			}
		}
		ref := rng.Uint32()

		received := make([]uint32, len(offsets))
		for j, off := range offsets {
			received[j] = ref - off
		}

		w := EncodeAckWindow(ref, received)
		wr := NewWriter(AckWindowSize)
		WriteAckWindow(wr, w)
		require.Equal(t, AckWindowSize, wr.Len())

		decoded := ReadAckWindow(NewReader(wr.Bytes()))
		require.Equal(t, w, decoded)

		got := DecodeAckWindow(decoded)
		sort.Slice(got, func(a, b int) bool { return IsMoreRecent(got[a], got[b]) })
		if len(received) == 0 {
			require.Empty(t, got)
			continue
		}
		require.Equal(t, received, got)
	}
}

func TestEncodeAckWindowIgnoresOutOfRange(t *testing.T) {
	// 68 是窗口内最旧的序列号（偏移 32），67 和 66 超出窗口
	w := EncodeAckWindow(100, []uint32{100, 68, 67, 66, 101})
	assert.Equal(t, []uint32{100, 68}, DecodeAckWindow(w))
}

func TestReceiveHistory(t *testing.T) {
	var h ReceiveHistory

	_, ok := h.Window()
	assert.False(t, ok)

	assert.True(t, h.Record(10))
	assert.True(t, h.Record(12))
	assert.True(t, h.Record(11))
	assert.False(t, h.Record(11), "重复")
	assert.False(t, h.Record(12), "重复 ref")

	w, ok := h.Window()
	require.True(t, ok)
	assert.Equal(t, uint32(12), w.Ref)
	assert.ElementsMatch(t, []uint32{12, 11, 10}, DecodeAckWindow(w))

	// 大跳跃清空旧掩码，只保留前一个 latest 若仍在窗口内
	assert.True(t, h.Record(12+32))
	w, _ = h.Window()
	assert.ElementsMatch(t, []uint32{44, 12}, DecodeAckWindow(w))

	assert.True(t, h.Record(200))
	w, _ = h.Window()
	assert.Equal(t, []uint32{200}, DecodeAckWindow(w))

	assert.False(t, h.Record(200-33), "早于窗口")
	assert.True(t, h.Record(200-32))

	h.Reset()
	_, ok = h.Window()
	assert.False(t, ok)
}

func TestReceiveHistoryWraparound(t *testing.T) {
	var h ReceiveHistory
	h.Record(0xFFFFFFFF)
	h.Record(1)
	w, ok := h.Window()
	require.True(t, ok)
	assert.Equal(t, uint32(1), w.Ref)
	assert.ElementsMatch(t, []uint32{1, 0xFFFFFFFF}, DecodeAckWindow(w))
}

func TestHeaderRejectsForeignProtocol(t *testing.T) {
	w := NewWriter(HeaderSize)
	w.WriteUint32(0xDEADBEEF)
	w.WriteUint8(uint8(ClientHello))

	_, err := ReadHeader(NewReader(w.Bytes()))
	assert.True(t, errors.Is(err, ErrForeignProtocol))

	_, err = ReadHeader(NewReader([]byte{0x4E, 0x50}))
	assert.True(t, errors.Is(err, ErrShortBuffer))
}

func TestHelloEncodeDecode(t *testing.T) {
	data := EncodeHello(Hello{Name: "player-1", Class: 2})

	r := NewReader(data)
	kind, err := ReadHeader(r)
	require.NoError(t, err)
	assert.Equal(t, uint8(ClientHello), kind)

	h, err := DecodeHello(r)
	require.NoError(t, err)
	assert.Equal(t, "player-1", h.Name)
	assert.Equal(t, uint8(2), h.Class)
	assert.Zero(t, r.Remaining())
}

func TestWelcomeAndPing(t *testing.T) {
	r := NewReader(EncodeWelcome(Welcome{ConnID: 3, NetID: 0x10002}))
	kind, err := ReadHeader(r)
	require.NoError(t, err)
	assert.Equal(t, uint8(ServerWelcome), kind)
	m, err := DecodeWelcome(r)
	require.NoError(t, err)
	assert.Equal(t, Welcome{ConnID: 3, NetID: 0x10002}, m)

	ack := EncodeAckOffsets(99, []uint32{0, 4})
	r = NewReader(EncodeClientPing(ack))
	kind, err = ReadHeader(r)
	require.NoError(t, err)
	assert.Equal(t, uint8(ClientPing), kind)
	got, err := DecodeClientPing(r)
	require.NoError(t, err)
	assert.Equal(t, ack, got)

	assert.Len(t, EncodeUnwelcome(), HeaderSize)
	assert.Len(t, EncodeServerPing(), HeaderSize)
}

func TestTruncatedMessages(t *testing.T) {
	data := EncodeWelcome(Welcome{ConnID: 1, NetID: 2})
	r := NewReader(data[:len(data)-1])
	_, err := ReadHeader(r)
	require.NoError(t, err)
	_, err = DecodeWelcome(r)
	assert.ErrorIs(t, err, ErrShortBuffer)

	r = NewReader([]byte{5, 'a'})
	_, err = DecodeHello(r)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestReplicationHeader(t *testing.T) {
	w := NewWriter(64)
	BeginReplication(w, ReplicationHeader{LastAppliedInput: 41, Seq: 9})
	w.WriteUint16(0)

	r := NewReader(w.Bytes())
	kind, err := ReadHeader(r)
	require.NoError(t, err)
	assert.Equal(t, uint8(ServerReplication), kind)
	h, err := ReadReplicationHeader(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(41), h.LastAppliedInput)
	assert.Equal(t, uint32(9), h.Seq)
	assert.Equal(t, 2, r.Remaining())
}

func TestWriterTruncatesLongStrings(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	w := NewWriter(0)
	w.WriteString8(string(long))
	r := NewReader(w.Bytes())
	assert.Len(t, r.ReadString8(), 255)
	require.NoError(t, r.Err())
}

func BenchmarkAckWindowEncode(b *testing.B) {
	received := []uint32{1000, 999, 997, 990, 980, 968}
	w := NewWriter(AckWindowSize)
	for i := 0; i < b.N; i++ {
		w.buf = w.buf[:0]
		WriteAckWindow(w, EncodeAckWindow(1000, received))
	}
}
