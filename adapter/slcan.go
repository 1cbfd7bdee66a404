package adapter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/obdsim/canproxy"
	"go.bug.st/serial"
)

const (
	slcanDefaultBaudrate = 115200
	slcanDefaultRate     = 500.0
	slcanReadTimeout     = 10 * time.Millisecond
)

var slcanRates = map[float64]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	800:  "S7",
	1000: "S8",
}

func init() {
	register(&canproxy.AdapterInfo{
		Name:               SLCanName,
		Description:        "Lawicel / CANable serial line CAN adapter",
		RequiresSerialPort: true,
		New:                NewSLCan,
	})
}

type SLCan struct {
	*canproxy.BaseAdapter
	port serial.Port

	mu      sync.Mutex // guards writes to port
	buf     []byte     // partial message between reads
	readBuf []byte
	queue   []*canproxy.CANFrame
}

func NewSLCan(cfg *canproxy.AdapterConfig) (canproxy.Adapter, error) {
	if cfg.Channel == "" {
		return nil, errors.New("slcan: serial port is required")
	}
	return &SLCan{
		BaseAdapter: canproxy.NewBaseAdapter(SLCanName, cfg),
		buf:         make([]byte, 0, 64),
		readBuf:     make([]byte, 64),
	}, nil
}

func (sl *SLCan) Open(ctx context.Context) error {
	cfg := sl.Config()
	rate := cfg.CANRate
	if rate == 0 {
		rate = slcanDefaultRate
	}
	rateCmd, ok := slcanRates[rate]
	if !ok {
		return fmt.Errorf("slcan: unsupported CAN rate %g kbit/s", rate)
	}
	baud := cfg.PortBaudrate
	if baud == 0 {
		baud = slcanDefaultBaudrate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Channel, mode)
	if err != nil {
		return fmt.Errorf("failed to open com port %q : %v", cfg.Channel, err)
	}
	if err := p.SetReadTimeout(slcanReadTimeout); err != nil {
		p.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()
	sl.port = p

	for _, cmd := range []string{"C", rateCmd, "O"} {
		if err := sl.command(cmd); err != nil {
			p.Close()
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	sl.Debug(fmt.Sprintf("slcan opened %s @ %g kbit/s", cfg.Channel, rate))
	return nil
}

func (sl *SLCan) command(cmd string) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if _, err := sl.port.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("failed to write to com port: %w", err)
	}
	return nil
}

func (sl *SLCan) Close() error {
	if !sl.MarkClosed() || sl.port == nil {
		return nil
	}
	sl.command("C")
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

func (sl *SLCan) Send(ctx context.Context, frame *canproxy.CANFrame) error {
	if sl.Closed() || sl.port == nil {
		return canproxy.ErrAdapterClosed
	}
	out, err := encodeSLCan(frame)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if _, err := sl.port.Write(out); err != nil {
		return fmt.Errorf("failed to write to com port: %w", err)
	}
	sl.Debug(">> " + string(out[:len(out)-1]))
	return nil
}

func (sl *SLCan) Recv(ctx context.Context) (*canproxy.CANFrame, error) {
	if sl.port == nil {
		return nil, canproxy.ErrAdapterClosed
	}
	deadline := time.Now().Add(sl.RecvTimeout())
	for {
		if len(sl.queue) > 0 {
			f := sl.queue[0]
			sl.queue = sl.queue[1:]
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		n, err := sl.port.Read(sl.readBuf)
		if err != nil {
			if sl.Closed() {
				return nil, canproxy.ErrAdapterClosed
			}
			return nil, fmt.Errorf("failed to read com port: %w", err)
		}
		sl.parse(sl.readBuf[:n])
	}
}

// parse splits the input on carriage returns and queues decoded frames.
func (sl *SLCan) parse(data []byte) {
	for _, b := range data {
		switch b {
		case '\r':
			if len(sl.buf) == 0 {
				continue
			}
			switch sl.buf[0] {
			case 't', 'T':
				f, err := decodeSLCan(sl.buf)
				if err != nil {
					sl.Config().OnMessage(fmt.Sprintf("%v: %q", err, sl.buf))
					break
				}
				sl.Debug("<< " + string(sl.buf))
				sl.queue = append(sl.queue, f)
			case 'z', 'Z':
				// transmit acknowledge
			default:
				sl.Debug("unknown << " + string(sl.buf))
			}
			sl.buf = sl.buf[:0]
		case 0x07:
			sl.Config().OnMessage("slcan: adapter reported an error")
			sl.buf = sl.buf[:0]
		default:
			sl.buf = append(sl.buf, b)
		}
	}
}

// helper converts a 0..15 value to its ASCII hex nibble
func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// encodeSLCan renders t<iii><l><data>\r for standard and T<iiiiiiii><l><data>\r
// for extended identifiers.
func encodeSLCan(frame *canproxy.CANFrame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 1+8+1+len(frame.Data)*2+1)
	digits := 3
	if frame.Extended {
		buf = append(buf, 'T')
		digits = 8
	} else {
		buf = append(buf, 't')
	}
	for i := digits - 1; i >= 0; i-- {
		buf = append(buf, nybbleToHex(byte(frame.Identifier>>(uint(i)*4))&0xF))
	}
	buf = append(buf, nybbleToHex(byte(frame.DLC())))
	for _, b := range frame.Data {
		buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b&0xF))
	}
	return append(buf, '\r'), nil
}

func decodeSLCan(buf []byte) (*canproxy.CANFrame, error) {
	if len(buf) == 0 {
		return nil, errors.New("empty message")
	}
	idLen := 3
	extended := buf[0] == 'T'
	if extended {
		idLen = 8
	}
	if len(buf) < 1+idLen+1 {
		return nil, fmt.Errorf("message too short: %d", len(buf))
	}
	id, err := strconv.ParseUint(string(buf[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	dataLen, err := strconv.ParseUint(string(buf[1+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dataLen > canproxy.MaxDataLength {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	start := 1 + idLen + 1
	end := start + int(dataLen)*2
	if len(buf) < end {
		return nil, fmt.Errorf("message truncated: want %d bytes, got %d", end, len(buf))
	}
	data, err := hex.DecodeString(string(buf[start:end]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	f := &canproxy.CANFrame{
		Identifier: uint32(id),
		Extended:   extended,
		Data:       data,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
