package adapter

import (
	"testing"

	"github.com/obdsim/canproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSLCan(t *testing.T) {
	tests := []struct {
		name  string
		frame *canproxy.CANFrame
		want  string
	}{
		{"standard", canproxy.NewFrame(0x7DF, []byte{0x02, 0x01, 0x0C}), "t7DF302010C\r"},
		{"short id", canproxy.NewFrame(0x12, nil), "t0120\r"},
		{"extended", canproxy.NewFrame(0x18DAF110, []byte{0xAB}), "T18DAF1101AB\r"},
		{"extended low id", canproxy.NewExtendedFrame(0x1, nil), "T000000010\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeSLCan(tt.frame)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	_, err := encodeSLCan(canproxy.NewFrame(0x7DF, make([]byte, 9)))
	assert.ErrorIs(t, err, canproxy.ErrInvalidLength)
}

func TestDecodeSLCan(t *testing.T) {
	f, err := decodeSLCan([]byte("t7E8302410C"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7E8), f.Identifier)
	assert.False(t, f.Extended)
	assert.Equal(t, []byte{0x02, 0x41, 0x0C}, f.Data)

	f, err = decodeSLCan([]byte("T18DAF1102AABB"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x18DAF110), f.Identifier)
	assert.True(t, f.Extended)
	assert.Equal(t, []byte{0xAA, 0xBB}, f.Data)

	for _, bad := range []string{"", "t7E", "t7E89", "t7E83AABB", "tXYZ0", "t7E81GG"} {
		_, err := decodeSLCan([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestSLCanRoundTrip(t *testing.T) {
	for _, f := range []*canproxy.CANFrame{
		canproxy.NewFrame(0x7E0, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		canproxy.NewFrame(0x1FFFFFFF, []byte{0xFF}),
	} {
		b, err := encodeSLCan(f)
		require.NoError(t, err)
		got, err := decodeSLCan(b[:len(b)-1])
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestSLCanParse(t *testing.T) {
	var msgs []string
	a, err := NewSLCan(&canproxy.AdapterConfig{
		Channel:   "/dev/null",
		OnMessage: func(s string) { msgs = append(msgs, s) },
	})
	require.NoError(t, err)
	sl := a.(*SLCan)

	sl.parse([]byte("z\rt7E80"))
	assert.Empty(t, sl.queue)
	sl.parse([]byte("\rT18DAF1101FF\r\a"))
	require.Len(t, sl.queue, 2)
	assert.Equal(t, uint32(0x7E8), sl.queue[0].Identifier)
	assert.Equal(t, []byte{0xFF}, sl.queue[1].Data)
	assert.Len(t, msgs, 1, "bell is reported")

	_, err = NewSLCan(&canproxy.AdapterConfig{})
	assert.Error(t, err)
}
