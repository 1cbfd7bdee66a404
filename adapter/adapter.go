// Package adapter holds the CAN interface bindings. Importing it registers
// every adapter available on the platform with canproxy.RegisterAdapter.
package adapter

import (
	"github.com/obdsim/canproxy"
)

const (
	SocketCANName = "SocketCAN"
	SLCanName     = "SLCan"
	VirtualName   = "Virtual"
)

func register(info *canproxy.AdapterInfo) {
	if err := canproxy.RegisterAdapter(info); err != nil {
		panic(err)
	}
}

// copyFrame returns a frame that shares no memory with f.
func copyFrame(f *canproxy.CANFrame) *canproxy.CANFrame {
	d := make([]byte, len(f.Data))
	copy(d, f.Data)
	return &canproxy.CANFrame{
		Identifier: f.Identifier,
		Extended:   f.Extended,
		Data:       d,
	}
}
