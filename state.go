package canproxy

type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateRejected
	StateRelaying
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateRejected:
		return "REJECTED"
	case StateRelaying:
		return "RELAYING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Direction tells which way a frame was forwarded.
type Direction int

const (
	BusToStream Direction = iota
	StreamToBus
)

func (d Direction) String() string {
	switch d {
	case BusToStream:
		return "bus->stream"
	case StreamToBus:
		return "stream->bus"
	default:
		return "unknown"
	}
}

// Prefix is the short marker used in frame traces.
func (d Direction) Prefix() string {
	switch d {
	case BusToStream:
		return "<b>"
	case StreamToBus:
		return "<s>"
	default:
		return "<?>"
	}
}
