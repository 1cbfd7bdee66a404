//go:build linux

package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/obdsim/canproxy"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	register(&canproxy.AdapterInfo{
		Name:        SocketCANName,
		Description: "Linux SocketCAN interface (can0, vcan0, ...)",
		New:         NewSocketCAN,
	})
}

type SocketCAN struct {
	*canproxy.BaseAdapter
	d    *candevice.Device
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

func NewSocketCAN(cfg *canproxy.AdapterConfig) (canproxy.Adapter, error) {
	if cfg.Channel == "" {
		return nil, errors.New("socketcan: interface name is required")
	}
	return &SocketCAN{
		BaseAdapter: canproxy.NewBaseAdapter(SocketCANName, cfg),
	}, nil
}

// Open dials the interface. With a CAN rate configured the interface is
// first reconfigured and brought up, which needs CAP_NET_ADMIN.
func (a *SocketCAN) Open(ctx context.Context) error {
	cfg := a.Config()
	if cfg.CANRate > 0 {
		d, err := candevice.New(cfg.Channel)
		if err != nil {
			return fmt.Errorf("socketcan: %w", err)
		}
		if err := d.SetBitrate(uint32(cfg.CANRate * 1000)); err != nil {
			return fmt.Errorf("socketcan: set bitrate: %w", err)
		}
		if err := d.SetUp(); err != nil {
			return fmt.Errorf("socketcan: set up: %w", err)
		}
		a.d = d
	}

	conn, err := socketcan.DialContext(ctx, "can", cfg.Channel)
	if err != nil {
		return fmt.Errorf("socketcan: dial %s: %w", cfg.Channel, err)
	}
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.rx = socketcan.NewReceiver(conn)
	a.Debug("socketcan opened " + cfg.Channel)
	return nil
}

func (a *SocketCAN) Close() error {
	if !a.MarkClosed() {
		return nil
	}
	var err error
	if a.conn != nil {
		err = a.conn.Close()
	}
	if a.d != nil {
		if derr := a.d.SetDown(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

func (a *SocketCAN) Send(ctx context.Context, frame *canproxy.CANFrame) error {
	if a.tx == nil || a.Closed() {
		return canproxy.ErrAdapterClosed
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	f := can.Frame{
		ID:         frame.Identifier,
		Length:     uint8(frame.DLC()),
		IsExtended: frame.Extended,
	}
	copy(f.Data[:], frame.Data)
	return a.tx.TransmitFrame(ctx, f)
}

// Recv uses a read deadline so a quiet bus still returns within RecvTimeout.
func (a *SocketCAN) Recv(ctx context.Context) (*canproxy.CANFrame, error) {
	if a.rx == nil || a.Closed() {
		return nil, canproxy.ErrAdapterClosed
	}
	deadline := time.Now().Add(a.RecvTimeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := a.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("socketcan: set read deadline: %w", err)
	}

	if !a.rx.Receive() {
		err := a.rx.Err()
		var ne net.Error
		switch {
		case a.Closed():
			return nil, canproxy.ErrAdapterClosed
		case errors.As(err, &ne) && ne.Timeout():
			// the receiver keeps its error, start over with a fresh one
			a.rx = socketcan.NewReceiver(a.conn)
			return nil, ctx.Err()
		case err == nil:
			return nil, io.EOF
		}
		return nil, err
	}
	if a.rx.HasErrorFrame() {
		a.Debug("socketcan error frame received")
		return nil, nil
	}
	f := a.rx.Frame()
	data := make([]byte, f.Length)
	copy(data, f.Data[:f.Length])
	return &canproxy.CANFrame{
		Identifier: f.ID,
		Extended:   f.IsExtended,
		Data:       data,
	}, nil
}
