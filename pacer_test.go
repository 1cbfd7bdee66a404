package canproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer(t *testing.T) {
	var p *pacer
	assert.Nil(t, newPacer(0))
	assert.Nil(t, newPacer(-1))
	assert.NoError(t, p.wait(context.Background()))

	p = newPacer(1)
	require.NotNil(t, p)
	require.NoError(t, p.wait(context.Background()), "bucket starts full")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.wait(ctx), context.Canceled)
}
