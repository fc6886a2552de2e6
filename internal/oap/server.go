package oap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyonions/ron-core/internal/bus"
	"github.com/rustyonions/ron-core/internal/busevent"
	"github.com/rustyonions/ron-core/internal/obslog"
)

// Server is the OAP/1 listener, grounded on the handle_conn accept loop in
// original_source/crates/gateway/src/oap.rs, re-expressed with a Go
// net.Listener accept loop and a buffered semaphore in place of tokio's
// Semaphore.
type Server struct {
	Bus              *bus.Bus
	Logger           zerolog.Logger
	AckWindowBytes   uint64
	ConcurrencyLimit int
	HandshakeTimeout time.Duration

	slots chan struct{}
}

// NewServer constructs a Server with spec.md defaults: a 64KiB ack window
// and a 1024-connection concurrency limit, 5s handshake timeout.
func NewServer(b *bus.Bus, logger zerolog.Logger) *Server {
	return &Server{
		Bus:              b,
		Logger:           logger,
		AckWindowBytes:   64 * 1024,
		ConcurrencyLimit: 1024,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.slots = make(chan struct{}, s.ConcurrencyLimit)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("oap: accept: %w", err)
			}
		}

		select {
		case s.slots <- struct{}{}:
			go s.handleConn(ctx, conn)
		default:
			// Admission precondition: connection count > concurrency_limit.
			s.rejectBusy(conn)
		}
	}
}

func (s *Server) rejectBusy(conn net.Conn) {
	defer conn.Close()
	payload, _ := json.Marshal(map[string]string{"code": "busy", "msg": "server at capacity"})
	_ = WriteFrame(conn, NewErrorFrame(payload))
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { <-s.slots }()
	defer conn.Close()
	defer obslog.RecoverPanic(s.Logger, "oap.conn", nil)

	peer := conn.RemoteAddr().String()
	topic, err := s.runConn(ctx, conn)
	if err != nil {
		s.Logger.Warn().Str("peer", peer).Str("topic", topic).Err(err).Msg("oap connection closed with error")
		if s.Bus != nil {
			s.Bus.Publish(busevent.ServiceCrashed("oap-gateway", fmt.Sprintf("peer=%s error=%v", peer, err)))
		}
	}
}

func (s *Server) runConn(ctx context.Context, conn net.Conn) (topic string, retErr error) {
	r := bufio.NewReader(conn)
	m := &machine{}

	if s.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.HandshakeTimeout))
	}

	hello, err := ReadFrame(r)
	if err != nil {
		return "", s.handleReadErr(conn, err, "HELLO")
	}
	if _, err := m.next(hello.Type); err != nil {
		return "", s.protoErr(conn, err)
	}

	start, err := ReadFrame(r)
	if err != nil {
		return "", s.handleReadErr(conn, err, "START")
	}
	if _, err := m.next(start.Type); err != nil {
		return "", s.protoErr(conn, err)
	}

	var startMsg struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(start.Payload, &startMsg); err != nil {
		return "", s.protoErr(conn, fmt.Errorf("decode START payload: %w", err))
	}
	topic = startMsg.Topic
	if topic == "" {
		topic = "<none>"
	}

	// Handshake complete: lift the timeout for the streaming phase.
	_ = conn.SetReadDeadline(time.Time{})

	if s.Bus != nil {
		s.Bus.Publish(busevent.Health("oap-start:"+topic, true))
		defer s.Bus.Publish(busevent.Health("oap-start:"+topic, false))
	}

	var credited, consumedSinceAck uint64
	credited = s.AckWindowBytes

	for {
		fr, err := ReadFrame(r)
		if err != nil {
			return topic, s.handleReadErr(conn, err, "DATA/END")
		}
		st, err := m.next(fr.Type)
		if err != nil {
			return topic, s.protoErr(conn, err)
		}

		switch fr.Type {
		case FrameData:
			_, body, err := DecodeDataPayload(fr.Payload)
			if err != nil {
				return topic, s.protoErr(conn, err)
			}
			consumedSinceAck += uint64(len(body))
			if consumedSinceAck >= s.AckWindowBytes/2 {
				credited += s.AckWindowBytes
				if err := WriteFrame(conn, NewAckFrame(credited)); err != nil {
					return topic, err
				}
				consumedSinceAck = 0
			}
		case FrameEnd:
			if st != StateClosed {
				return topic, fmt.Errorf("oap: END did not close connection")
			}
			return topic, nil
		}
	}
}

// handleReadErr classifies a ReadFrame failure and, for the too-large case,
// writes the ERROR frame named in spec.md §4.5 before returning.
func (s *Server) handleReadErr(conn net.Conn, err error, phase string) error {
	var tooLarge *ErrPayloadTooLarge
	if errors.As(err, &tooLarge) {
		payload, _ := json.Marshal(map[string]string{"code": "too_large", "msg": "frame exceeds max_frame"})
		_ = WriteFrame(conn, NewErrorFrame(payload))
		return fmt.Errorf("too_large during %s: %w", phase, err)
	}
	return fmt.Errorf("read frame during %s: %w", phase, err)
}

func (s *Server) protoErr(conn net.Conn, cause error) error {
	payload, _ := json.Marshal(map[string]string{"code": "proto", "msg": cause.Error()})
	_ = WriteFrame(conn, NewErrorFrame(payload))
	return cause
}
