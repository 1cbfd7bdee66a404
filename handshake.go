package canproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

const (
	// DefaultHandshakeTimeout is how long we wait for a rejection after sending the request.
	DefaultHandshakeTimeout = 2 * time.Second

	// RejectMarker in the server's first response means the config name is unknown.
	RejectMarker = "config_not_found"

	handshakeReadSize = 128
)

type handshakeRequest struct {
	Config string `json:"config"`
}

// EncodeHandshake returns the request line announcing configName.
func EncodeHandshake(configName string) ([]byte, error) {
	b, err := json.Marshal(handshakeRequest{Config: configName})
	if err != nil {
		return nil, err
	}
	return append(b, lineTerminator), nil
}

// Handshake sends the config request and waits up to timeout for a
// rejection. Only the first read is inspected: silence, EOF or anything
// not containing RejectMarker counts as accepted. Bytes read that were not
// a rejection are returned so the caller can feed them to the line parser.
// When ctx is done the wait is cut short and ctx.Err() is returned.
func Handshake(ctx context.Context, conn net.Conn, configName string, timeout time.Duration) ([]byte, error) {
	req, err := EncodeHandshake(configName)
	if err != nil {
		return nil, fmt.Errorf("encode handshake: %w", err)
	}
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, handshakeReadSize)
	n, err := conn.Read(buf)
	if n > 0 && bytes.Contains(buf[:n], []byte(RejectMarker)) {
		return nil, ErrConfigRejected
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	return buf[:n], nil
}
