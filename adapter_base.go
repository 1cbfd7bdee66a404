package canproxy

import (
	"sync"
	"time"
)

// BaseAdapter carries what every adapter needs: its name, config and a close signal.
// Adapters embed it.
type BaseAdapter struct {
	name string
	cfg  *AdapterConfig

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(string) {}
	}
	return &BaseAdapter{
		name:      name,
		cfg:       cfg,
		closeChan: make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

// Config returns the adapter config.
func (base *BaseAdapter) Config() *AdapterConfig {
	return base.cfg
}

// RecvTimeout returns the configured upper bound for one Recv call.
func (base *BaseAdapter) RecvTimeout() time.Duration {
	return base.cfg.recvTimeout()
}

// Done is closed once MarkClosed has been called.
func (base *BaseAdapter) Done() <-chan struct{} {
	return base.closeChan
}

// Closed reports whether MarkClosed has been called.
func (base *BaseAdapter) Closed() bool {
	select {
	case <-base.closeChan:
		return true
	default:
		return false
	}
}

// MarkClosed marks the adapter closed. It reports false if it was already closed.
func (base *BaseAdapter) MarkClosed() bool {
	closed := false
	base.closeOnce.Do(func() {
		close(base.closeChan)
		closed = true
	})
	return closed
}

// Debug forwards msg to OnMessage when debug is enabled.
func (base *BaseAdapter) Debug(msg string) {
	if base.cfg.Debug {
		base.cfg.OnMessage(msg)
	}
}
