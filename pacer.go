package canproxy

import (
	"context"
	"time"

	"github.com/juju/ratelimit"
)

// pacer spaces out frames sent to the bus. A nil pacer never waits.
type pacer struct {
	bucket *ratelimit.Bucket
}

// newPacer returns nil when framesPerSec is not positive.
func newPacer(framesPerSec float64) *pacer {
	if framesPerSec <= 0 {
		return nil
	}
	capacity := int64(framesPerSec)
	if capacity < 1 {
		capacity = 1
	}
	return &pacer{bucket: ratelimit.NewBucketWithRate(framesPerSec, capacity)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	d := p.bucket.Take(1)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
