package oap

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rustyonions/ron-core/internal/bus"
)

func startTestServer(t *testing.T, s *Server) (net.Addr, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx, ln)

	return ln.Addr(), func() {
		cancel()
		ln.Close()
	}
}

func TestServerHappyPathEndToEnd(t *testing.T) {
	b := bus.New(64)
	recv := b.Subscribe()
	s := NewServer(b, zerolog.Nop())
	s.AckWindowBytes = 16

	addr, stop := startTestServer(t, s)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	helloPayload, _ := json.Marshal(map[string]string{"v": "1"})
	require.NoError(t, WriteFrame(conn, Frame{Type: FrameHello, Payload: helloPayload}))

	startPayload, _ := json.Marshal(map[string]string{"topic": "test-topic"})
	require.NoError(t, WriteFrame(conn, Frame{Type: FrameStart, Payload: startPayload}))

	dataPayload, err := EncodeDataPayload([]byte("0123456789abcdef"))
	require.NoError(t, err)
	require.NoError(t, WriteFrame(conn, Frame{Type: FrameData, Payload: dataPayload}))

	r := bufio.NewReader(conn)
	ack, err := ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, FrameAck, ack.Type)

	require.NoError(t, WriteFrame(conn, Frame{Type: FrameEnd, Payload: []byte{0}}))

	deadline := time.Now().Add(time.Second)
	sawStart, sawEnd := false, false
	for time.Now().Before(deadline) && !(sawStart && sawEnd) {
		ev, _, ok := recv.TryRecv()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if ev.Service == "oap-start:test-topic" && ev.OK {
			sawStart = true
		}
		if ev.Service == "oap-start:test-topic" && !ev.OK {
			sawEnd = true
		}
	}
	require.True(t, sawStart)
	require.True(t, sawEnd)
}

func TestServerRejectsOutOfOrderFrameWithProtoError(t *testing.T) {
	s := NewServer(nil, zerolog.Nop())
	addr, stop := startTestServer(t, s)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	startPayload, _ := json.Marshal(map[string]string{"topic": "x"})
	require.NoError(t, WriteFrame(conn, Frame{Type: FrameStart, Payload: startPayload}))

	r := bufio.NewReader(conn)
	fr, err := ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, FrameError, fr.Type)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(fr.Payload, &body))
	require.Equal(t, "proto", body.Code)
}

func TestServerRejectsConnectionsOverConcurrencyLimit(t *testing.T) {
	s := NewServer(nil, zerolog.Nop())
	s.ConcurrencyLimit = 1
	addr, stop := startTestServer(t, s)
	defer stop()

	holder, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer holder.Close()
	// Occupy the single slot without completing the handshake.
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	fr, err := ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, FrameError, fr.Type)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(fr.Payload, &body))
	require.Equal(t, "busy", body.Code)
}
