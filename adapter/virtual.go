package adapter

import (
	"context"
	"time"

	"github.com/obdsim/canproxy"
)

func init() {
	register(&canproxy.AdapterInfo{
		Name:        VirtualName,
		Description: "In-memory loopback, every frame sent is received back",
		New:         NewVirtual,
	})
}

// Virtual is a loopback adapter used for dry runs and tests.
type Virtual struct {
	*canproxy.BaseAdapter
	frames chan *canproxy.CANFrame
}

func NewVirtual(cfg *canproxy.AdapterConfig) (canproxy.Adapter, error) {
	return &Virtual{
		BaseAdapter: canproxy.NewBaseAdapter(VirtualName, cfg),
		frames:      make(chan *canproxy.CANFrame, 1024),
	}, nil
}

func (v *Virtual) Open(ctx context.Context) error {
	v.Debug("virtual bus opened")
	return nil
}

func (v *Virtual) Close() error {
	v.MarkClosed()
	return nil
}

func (v *Virtual) Send(ctx context.Context, frame *canproxy.CANFrame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if v.Closed() {
		return canproxy.ErrAdapterClosed
	}
	select {
	case v.frames <- copyFrame(frame):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-v.Done():
		return canproxy.ErrAdapterClosed
	}
}

func (v *Virtual) Recv(ctx context.Context) (*canproxy.CANFrame, error) {
	t := time.NewTimer(v.RecvTimeout())
	defer t.Stop()
	select {
	case frame := <-v.frames:
		return frame, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-v.Done():
		return nil, canproxy.ErrAdapterClosed
	}
}
