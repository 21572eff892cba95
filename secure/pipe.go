package secure

import (
	"io"
	"net"
	"time"
)

type pipeAddr struct{}

func (pipeAddr) Network() string {
	return "pipe"
}

func (pipeAddr) String() string {
	return "pipe"
}

// memoryConn is the net.Conn the record layer runs on. Reads block the
// record layer goroutine until the loop side feeds ciphertext; writes only
// append to the outbound queue and never block.
type memoryConn struct {
	session *tlsSession
}

func (c *memoryConn) Read(p []byte) (int, error) {
	s := c.session
	s.access.Lock()
	defer s.access.Unlock()
	for s.inbound.IsEmpty() && !s.inboundEOF && !s.closed {
		s.starving = true
		s.cond.Broadcast()
		s.cond.Wait()
	}
	s.starving = false
	if s.closed {
		return 0, net.ErrClosed
	}
	if s.inbound.IsEmpty() {
		return 0, io.EOF
	}
	return s.inbound.Read(p)
}

func (c *memoryConn) Write(p []byte) (int, error) {
	s := c.session
	s.access.Lock()
	defer s.access.Unlock()
	if s.closed {
		return 0, net.ErrClosed
	}
	s.outbound = append(s.outbound, p...)
	s.cond.Broadcast()
	return len(p), nil
}

func (c *memoryConn) Close() error {
	return nil
}

func (c *memoryConn) LocalAddr() net.Addr {
	return pipeAddr{}
}

func (c *memoryConn) RemoteAddr() net.Addr {
	return pipeAddr{}
}

func (c *memoryConn) SetDeadline(t time.Time) error {
	return nil
}

func (c *memoryConn) SetReadDeadline(t time.Time) error {
	return nil
}

func (c *memoryConn) SetWriteDeadline(t time.Time) error {
	return nil
}
