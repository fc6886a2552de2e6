package bus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/rustyonions/ron-core/internal/busevent"
)

// Subjects used to fan ServiceCrashed/ConfigUpdated events out to external
// ops tooling. Forwarding is best-effort and never affects in-process bus
// delivery semantics.
const (
	SubjectCrashed = "ron.events.crashed"
	SubjectConfig  = "ron.events.config"
)

// NATSForwarder republishes select lifecycle events to a NATS subject,
// mirroring the reconnect/jitter posture of go-server's pkg/nats client.
type NATSForwarder struct {
	conn   *nats.Conn
	logger zerolog.Logger
	done   chan struct{}
}

// NewNATSForwarder connects to url and starts forwarding from b. A failed
// initial connection is returned as an error and nothing is started; once
// connected, disconnects and reconnects are logged and the client keeps
// reconnecting without limit.
func NewNATSForwarder(b *Bus, url string, logger zerolog.Logger) (*NATSForwarder, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, e error) {
			if e != nil {
				logger.Warn().Err(e).Msg("nats forwarder disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats forwarder reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	f := &NATSForwarder{conn: conn, logger: logger, done: make(chan struct{})}
	recv := b.Subscribe()
	go recv.RunDrainLoop(f.done, f.forward)
	return f, nil
}

func (f *NATSForwarder) forward(ev *busevent.Event, lag error) {
	if ev == nil {
		return
	}
	switch ev.Kind {
	case busevent.KindServiceCrashed:
		f.publish(SubjectCrashed, ev)
	case busevent.KindConfigUpdated:
		f.publish(SubjectConfig, ev)
	}
}

func (f *NATSForwarder) publish(subject string, ev *busevent.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Warn().Err(err).Msg("nats forwarder marshal failed")
		return
	}
	if err := f.conn.Publish(subject, payload); err != nil {
		f.logger.Warn().Err(err).Str("subject", subject).Msg("nats forwarder publish failed")
	}
}

// Close stops forwarding and drains the NATS connection.
func (f *NATSForwarder) Close() {
	close(f.done)
	f.conn.Drain()
}
