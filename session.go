package canproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPort        = 1337
	DefaultDialTimeout = 10 * time.Second

	streamReadSize = 1024
)

type SessionConfig struct {
	ConfigName       string        // announced to the server in the handshake
	Host             string        // server host
	Port             int           // server port, DefaultPort if zero
	DialTimeout      time.Duration // per connect attempt
	ConnectAttempts  uint          // 0 or 1 means a single attempt
	HandshakeTimeout time.Duration // how long to wait for a rejection
	TXRate           float64       // max frames/s sent to the bus, 0 is unlimited

	// OnFrame is called for every frame forwarded, from the loop that forwarded it.
	OnFrame func(Direction, *CANFrame)
	// OnStateChange is called on every lifecycle transition.
	OnStateChange func(State)
}

// Address returns host:port of the server.
func (cfg *SessionConfig) Address() string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// Session relays frames between one bus adapter and one server connection.
type Session struct {
	id    string
	cfg   *SessionConfig
	bus   Adapter
	log   *slog.Logger
	pacer *pacer
	state atomic.Int32

	conn    net.Conn
	pending []byte // non-rejection bytes read during the handshake

	closeOnce sync.Once
	closeErr  error
}

func NewSession(cfg *SessionConfig, bus Adapter, logger *slog.Logger) (*Session, error) {
	if bus == nil {
		return nil, ErrNilAdapter
	}
	if cfg.ConfigName == "" {
		return nil, errors.New("config name is required")
	}
	if cfg.Host == "" {
		return nil, errors.New("server host is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	id := uuid.NewString()
	return &Session{
		id:    id,
		cfg:   cfg,
		bus:   bus,
		log:   logger.With("session", id),
		pacer: newPacer(cfg.TXRate),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug("session state", "state", st.String())
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

// Run connects, negotiates and relays until ctx is done or both loops have
// ended. It returns nil on a graceful end or an interrupt, ErrConfigRejected
// if the server refused the config and a wrapped error if the transports
// could not be set up.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()
	if err := s.Connect(ctx); err != nil {
		return s.startupErr(ctx, err)
	}
	if err := s.Handshake(ctx); err != nil {
		return s.startupErr(ctx, err)
	}
	s.Relay(ctx)
	return nil
}

func (s *Session) startupErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, ErrConfigRejected) {
		s.log.Info("interrupted during startup", "state", s.State().String())
		return nil
	}
	return err
}

// Connect dials the server and opens the bus adapter.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	addr := s.cfg.Address()
	attempts := s.cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	timeout := s.cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}

	err := retry.Do(func() error {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		s.conn = conn
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("connect attempt failed", "attempt", n+1, "server", addr, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	s.log.Info("connected", "server", addr)

	if err := s.bus.Open(ctx); err != nil {
		return fmt.Errorf("open %s: %w", s.bus.Name(), err)
	}
	s.log.Info("bus opened", "adapter", s.bus.Name())
	return nil
}

// Handshake announces the config name and checks for a rejection.
func (s *Session) Handshake(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("not connected")
	}
	s.setState(StateHandshaking)
	pending, err := Handshake(ctx, s.conn, s.cfg.ConfigName, s.cfg.HandshakeTimeout)
	if err != nil {
		if errors.Is(err, ErrConfigRejected) {
			s.setState(StateRejected)
			s.log.Error("server rejected config", "config", s.cfg.ConfigName)
		}
		return err
	}
	s.pending = pending
	return nil
}

// Relay runs both forwarding loops and blocks until ctx is done or both
// loops have ended, then closes the session. A failing loop never stops
// the other one. The bus->stream loop only notices a closed server
// connection when it writes, so after a disconnect on a quiet bus the
// session stays in StateRelaying until ctx is done.
func (s *Session) Relay(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(StateRelaying)
	s.log.Info("started proxy", "config", s.cfg.ConfigName)

	var g errgroup.Group
	g.Go(func() error { return s.busToStream(ctx) })
	g.Go(func() error { return s.streamToBus(ctx) })

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		s.log.Info("shutting down proxy")
		cancel()
		s.Close()
		err = <-done
	case err = <-done:
		s.log.Info("relay loops ended")
	}
	if err != nil {
		s.log.Debug("relay ended with error", "error", err)
	}
	s.Close()
}

// Close closes the server connection and the bus adapter. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.closeErr = err
			}
		}
		if err := s.bus.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		if s.State() != StateRejected {
			s.setState(StateStopped)
		}
	})
	return s.closeErr
}

func (s *Session) onFrame(dir Direction, frame *CANFrame) {
	if s.cfg.OnFrame != nil {
		s.cfg.OnFrame(dir, frame)
	}
}

func (s *Session) busToStream(ctx context.Context) error {
	log := s.log.With("direction", BusToStream.String())
	for ctx.Err() == nil {
		frame, err := s.bus.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("bus receive failed", "error", err)
			return err
		}
		if frame == nil {
			continue
		}
		if _, err := s.conn.Write(EncodeLine(frame)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("stream send failed", "error", err)
			return err
		}
		s.onFrame(BusToStream, frame)
	}
	return nil
}

func (s *Session) streamToBus(ctx context.Context) error {
	log := s.log.With("direction", StreamToBus.String())
	var lb LineBuffer
	if len(s.pending) > 0 {
		if err := s.feed(ctx, &lb, s.pending, log); err != nil {
			return err
		}
	}
	buf := make([]byte, streamReadSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if ferr := s.feed(ctx, &lb, buf[:n], log); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Info("server disconnected")
				return nil
			case ctx.Err() != nil:
				return nil
			}
			log.Error("stream receive failed", "error", err)
			return err
		}
		if n == 0 {
			log.Info("server disconnected")
			return nil
		}
	}
}

// feed appends p to the line buffer and forwards every complete line.
func (s *Session) feed(ctx context.Context, lb *LineBuffer, p []byte, log *slog.Logger) error {
	if _, err := lb.Write(p); err != nil {
		log.Error("stream receive failed", "error", err, "buffered", lb.Len())
		return err
	}
	for {
		line, ok := lb.Next()
		if !ok {
			return nil
		}
		err := s.forwardLine(ctx, line)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoSeparator):
		case IsRecoverable(err):
			log.Warn("dropping malformed line", "line", line, "error", err)
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrMalformedLine):
			log.Error("stream decode failed", "line", line, "error", err)
			return err
		default:
			log.Error("bus send failed", "error", err)
			return err
		}
	}
}

// forwardLine decodes and sends one line. Missing separators and odd
// payload lengths only cost the line, every other failure ends the loop.
func (s *Session) forwardLine(ctx context.Context, line string) error {
	frame, err := DecodeLine(line)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoSeparator), errors.Is(err, ErrOddLength):
		return err
	default:
		return Unrecoverable(err)
	}
	if err := s.pacer.wait(ctx); err != nil {
		return Unrecoverable(err)
	}
	if err := s.bus.Send(ctx, frame); err != nil {
		return Unrecoverable(err)
	}
	s.onFrame(StreamToBus, frame)
	return nil
}
