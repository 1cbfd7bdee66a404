package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/obdsim/canproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtual(t *testing.T) {
	ctx := context.Background()
	v, err := NewVirtual(&canproxy.AdapterConfig{RecvTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, v.Open(ctx))

	f, err := v.Recv(ctx)
	assert.NoError(t, err)
	assert.Nil(t, f, "quiet bus times out with a nil frame")

	sent := canproxy.NewFrame(0x7E8, []byte{0x02, 0x01, 0x0C})
	require.NoError(t, v.Send(ctx, sent))
	sent.Data[0] = 0xFF

	f, err = v.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x0C}, f.Data)

	assert.ErrorIs(t, v.Send(ctx, &canproxy.CANFrame{Identifier: 0x800}), canproxy.ErrInvalidID)

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	_, err = v.Recv(ctx)
	assert.ErrorIs(t, err, canproxy.ErrAdapterClosed)
	assert.ErrorIs(t, v.Send(ctx, sent), canproxy.ErrAdapterClosed)
}

func TestVirtual_ContextDone(t *testing.T) {
	v, err := NewVirtual(&canproxy.AdapterConfig{RecvTimeout: time.Minute})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = v.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
