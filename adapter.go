package canproxy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Adapter is a local CAN interface.
//
// Recv blocks until a frame arrives, the context is done or the configured
// receive timeout elapses. On timeout it returns a nil frame and a nil error
// so callers get a chance to notice shutdown.
type Adapter interface {
	Name() string
	Open(context.Context) error
	Close() error
	Send(context.Context, *CANFrame) error
	Recv(context.Context) (*CANFrame, error)
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v", a.Name, a.Description, a.RequiresSerialPort)
}

// DefaultRecvTimeout bounds a single Recv call when AdapterConfig.RecvTimeout is unset.
const DefaultRecvTimeout = time.Second

type AdapterConfig struct {
	Debug        bool
	Channel      string        // interface name or serial port
	PortBaudrate int           // serial speed, only used by serial adapters
	CANRate      float64       // kbit/s, 0 keeps the interface setting
	RecvTimeout  time.Duration // upper bound for a single Recv
	OnMessage    func(string)
}

func (cfg *AdapterConfig) recvTimeout() time.Duration {
	if cfg.RecvTimeout <= 0 {
		return DefaultRecvTimeout
	}
	return cfg.RecvTimeout
}

var (
	adapterMu  sync.RWMutex
	adapterMap = make(map[string]*AdapterInfo)
)

// NewAdapter looks up a registered adapter by name (case insensitive) and creates it.
func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(string) {}
	}
	adapterMu.RLock()
	adapter, found := adapterMap[strings.ToLower(adapterName)]
	adapterMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownAdapter, adapterName)
	}
	return adapter.New(cfg)
}

func RegisterAdapter(adapter *AdapterInfo) error {
	key := strings.ToLower(adapter.Name)
	adapterMu.Lock()
	defer adapterMu.Unlock()
	if _, found := adapterMap[key]; found {
		return fmt.Errorf("adapter %s already registered", adapter.Name)
	}
	adapterMap[key] = adapter
	return nil
}

func ListAdapterNames() []string {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	var out []string
	for _, adapter := range adapterMap {
		out = append(out, adapter.Name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	var out []AdapterInfo
	for _, adapter := range adapterMap {
		out = append(out, *adapter)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}
