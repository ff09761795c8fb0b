package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DefaultDialTimeout bounds a single dial attempt.
const DefaultDialTimeout = 10 * time.Second

// Dial connects to addr and returns a started StreamLink.
func Dial(ctx context.Context, addr string, cfg StreamConfig) (*StreamLink, error) {
	d := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	setNoDelay(conn)
	l := NewStreamLink(conn, cfg)
	l.Start()
	return l, nil
}

// Listener accepts StreamLinks.
type Listener struct {
	ln  net.Listener
	cfg StreamConfig
}

// Listen opens a TCP listener on addr.
func Listen(addr string, cfg StreamConfig) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, cfg: cfg}, nil
}

// Addr returns the listen address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for the next connection and returns a started StreamLink.
// cfgFn, if non-nil, may adjust the configuration per connection.
func (l *Listener) Accept(cfgFn func(*StreamConfig)) (*StreamLink, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	setNoDelay(conn)
	cfg := l.cfg
	if cfgFn != nil {
		cfgFn(&cfg)
	}
	link := NewStreamLink(conn, cfg)
	link.Start()
	return link, nil
}

// Close stops accepting.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// setNoDelay disables Nagle so small sync frames go out immediately.
func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
