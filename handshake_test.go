package canproxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen accepts a single connection and hands it to handle.
func listen(t *testing.T, handle func(conn net.Conn, r *bufio.Reader)) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, bufio.NewReader(conn))
	}()
	return ln.Addr().(*net.TCPAddr)
}

func expectRequest(t *testing.T, r *bufio.Reader, configName string) bool {
	line, err := r.ReadString('\n')
	if !assert.NoError(t, err) {
		return false
	}
	return assert.JSONEq(t, `{"config":"`+configName+`"}`, line)
}

func dial(t *testing.T, addr *net.TCPAddr) net.Conn {
	t.Helper()
	conn, err := net.DialTCP("tcp", nil, addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEncodeHandshake(t *testing.T) {
	b, err := EncodeHandshake("golf7-gti")
	require.NoError(t, err)
	assert.Equal(t, "{\"config\":\"golf7-gti\"}\n", string(b))
}

func TestHandshake_Rejected(t *testing.T) {
	addr := listen(t, func(conn net.Conn, r *bufio.Reader) {
		if expectRequest(t, r, "unknown") {
			conn.Write([]byte(`{"error": "config_not_found"}` + "\n"))
		}
		io.Copy(io.Discard, r)
	})
	_, err := Handshake(context.Background(), dial(t, addr), "unknown", time.Second)
	assert.ErrorIs(t, err, ErrConfigRejected)
}

func TestHandshake_SilenceIsAcceptance(t *testing.T) {
	addr := listen(t, func(conn net.Conn, r *bufio.Reader) {
		expectRequest(t, r, "golf7-gti")
		io.Copy(io.Discard, r)
	})
	conn := dial(t, addr)

	start := time.Now()
	leftover, err := Handshake(context.Background(), conn, "golf7-gti", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, leftover)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// the deadline must be cleared again
	_, err = conn.Write([]byte("7E8#01\n"))
	assert.NoError(t, err)
}

func TestHandshake_Leftover(t *testing.T) {
	addr := listen(t, func(conn net.Conn, r *bufio.Reader) {
		if expectRequest(t, r, "golf7-gti") {
			conn.Write([]byte("7E8#02010C\n"))
		}
		io.Copy(io.Discard, r)
	})
	leftover, err := Handshake(context.Background(), dial(t, addr), "golf7-gti", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "7E8#02010C\n", string(leftover))
}

func TestHandshake_EOFIsAcceptance(t *testing.T) {
	addr := listen(t, func(conn net.Conn, r *bufio.Reader) {
		expectRequest(t, r, "golf7-gti")
	})
	leftover, err := Handshake(context.Background(), dial(t, addr), "golf7-gti", time.Second)
	require.NoError(t, err)
	assert.Empty(t, leftover)
}

func TestHandshake_ContextDone(t *testing.T) {
	addr := listen(t, func(conn net.Conn, r *bufio.Reader) {
		expectRequest(t, r, "golf7-gti")
		io.Copy(io.Discard, r)
	})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := Handshake(ctx, dial(t, addr), "golf7-gti", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}
