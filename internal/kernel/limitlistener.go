package kernel

import (
	"net"
	"sync"
)

// limitListener caps concurrently-accepted connections at n, the same
// buffered-channel-as-semaphore idiom internal/oap.Server uses for its own
// connection slots. Used to enforce spec.md §6's max_conns knob on the
// content-fetch and admin HTTP listeners (the OAP gateway enforces its own
// limit via Server.ConcurrencyLimit instead).
type limitListener struct {
	net.Listener
	slots chan struct{}
}

func newLimitListener(ln net.Listener, n int) net.Listener {
	if n <= 0 {
		return ln
	}
	return &limitListener{Listener: ln, slots: make(chan struct{}, n)}
}

func (l *limitListener) Accept() (net.Conn, error) {
	l.slots <- struct{}{}
	conn, err := l.Listener.Accept()
	if err != nil {
		<-l.slots
		return nil, err
	}
	return &limitedConn{Conn: conn, release: func() { <-l.slots }}, nil
}

// limitedConn releases its semaphore slot exactly once, on first Close.
type limitedConn struct {
	net.Conn
	release  func()
	closeOnce sync.Once
}

func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(c.release)
	return err
}
