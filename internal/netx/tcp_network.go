package netx

import (
	"net"
	"sync"
	"time"
)

type tcpNetwork struct {
	mu       sync.Mutex
	dialTO   time.Duration
	listener net.Listener
}

// NewTCPNetwork returns the default TCP carrier. Mesh links are long-lived,
// so connections get keep-alives and small writes go out immediately.
func NewTCPNetwork() Network {
	return &tcpNetwork{dialTO: 10 * time.Second}
}

func (t *tcpNetwork) Listen(bindAddr string) (Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return "", err
	}
	t.listener = l
	return Addr(l.Addr().String()), nil
}

func (t *tcpNetwork) Accept() (Conn, error) {
	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()

	if l == nil {
		return nil, net.ErrClosed
	}
	c, err := l.Accept()
	if err != nil {
		return nil, err
	}
	return newTCPConn(c), nil
}

func (t *tcpNetwork) Dial(addr Addr) (Conn, error) {
	c, err := net.DialTimeout("tcp", string(addr), t.dialTO)
	if err != nil {
		return nil, err
	}
	return newTCPConn(c), nil
}

func (t *tcpNetwork) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		err := t.listener.Close()
		t.listener = nil
		return err
	}
	return nil
}

type tcpConn struct {
	net.Conn
}

func newTCPConn(c net.Conn) *tcpConn {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
		_ = tc.SetNoDelay(true)
	}
	return &tcpConn{Conn: c}
}

func (c *tcpConn) RemoteAddr() Addr {
	return Addr(c.Conn.RemoteAddr().String())
}
