package secure

import (
	"io"
	"net"
	"sync"

	"github.com/sagernet/oi/common/buf"

	"github.com/smallnest/ringbuffer"
)

const (
	inboundBufferSize = 64 * 1024
	fillChunkSize     = 16 * 1024
	plainChunkSize    = 16 * 1024
	maxPlainWrite     = 64 * 1024
)

// recordConn is the part of crypto/tls.Conn and utls.UConn the engine uses.
type recordConn interface {
	net.Conn
	Handshake() error
	CloseWrite() error
}

// tlsSession runs a blocking record layer implementation in helper
// goroutines over a memoryConn. The loop side moves ciphertext between the
// transport and the memoryConn and waits only while a helper goroutine is
// computing, never while it waits for network input.
type tlsSession struct {
	conn      recordConn
	transport Transport

	access     sync.Mutex
	cond       *sync.Cond
	inbound    *ringbuffer.RingBuffer
	inboundEOF bool
	outbound   []byte
	starving   bool
	closed     bool

	handshakeStarted bool
	handshakeDone    bool
	handshakeErr     error

	readerStarted bool
	plain         []byte
	readErr       error

	shutdownSent bool
}

func newTLSSession(newConn func(conn net.Conn) recordConn) *tlsSession {
	session := &tlsSession{
		inbound: ringbuffer.New(inboundBufferSize),
	}
	session.cond = sync.NewCond(&session.access)
	session.conn = newConn(&memoryConn{session})
	return session
}

func (s *tlsSession) Attach(transport Transport) {
	s.transport = transport
}

func (s *tlsSession) Handshake() error {
	s.access.Lock()
	if !s.handshakeStarted {
		s.handshakeStarted = true
		go s.runHandshake()
	}
	s.access.Unlock()
	err := s.pump(func() bool {
		return s.handshakeDone
	})
	if err != nil {
		return err
	}
	s.access.Lock()
	defer s.access.Unlock()
	return s.handshakeErr
}

func (s *tlsSession) runHandshake() {
	err := s.conn.Handshake()
	s.access.Lock()
	s.handshakeDone = true
	s.handshakeErr = err
	s.cond.Broadcast()
	s.access.Unlock()
}

func (s *tlsSession) established() bool {
	s.access.Lock()
	defer s.access.Unlock()
	return s.handshakeDone && s.handshakeErr == nil
}

func (s *tlsSession) Read(p []byte) (int, error) {
	if !s.established() {
		return 0, ErrHandshakeIncomplete
	}
	s.access.Lock()
	if !s.readerStarted {
		s.readerStarted = true
		go s.runReader()
	}
	s.access.Unlock()
	err := s.pump(func() bool {
		return len(s.plain) > 0 || s.readErr != nil
	})
	if err != nil {
		return 0, err
	}
	s.access.Lock()
	defer s.access.Unlock()
	if len(s.plain) > 0 {
		n := copy(p, s.plain)
		s.plain = s.plain[n:]
		if len(s.plain) == 0 {
			s.cond.Broadcast()
		}
		return n, nil
	}
	return 0, s.readErr
}

func (s *tlsSession) runReader() {
	buffer := make([]byte, plainChunkSize)
	for {
		n, err := s.conn.Read(buffer)
		s.access.Lock()
		if n > 0 {
			s.plain = buffer[:n]
		}
		if err != nil {
			s.readErr = err
		}
		s.cond.Broadcast()
		for len(s.plain) > 0 && !s.closed {
			s.cond.Wait()
		}
		exit := s.readErr != nil || s.closed
		s.access.Unlock()
		if exit {
			return
		}
	}
}

func (s *tlsSession) Write(p []byte) (int, error) {
	if !s.established() {
		return 0, ErrHandshakeIncomplete
	}
	err := s.flush()
	if err != nil {
		return 0, err
	}
	if len(p) > maxPlainWrite {
		p = p[:maxPlainWrite]
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return n, err
	}
	err = s.flush()
	if err != nil && err != ErrWantWrite {
		return n, err
	}
	return n, nil
}

func (s *tlsSession) Flush() error {
	return s.flush()
}

func (s *tlsSession) Shutdown() error {
	if !s.shutdownSent {
		s.shutdownSent = true
		if s.established() {
			err := s.conn.CloseWrite()
			if err != nil {
				return err
			}
		}
	}
	return s.flush()
}

func (s *tlsSession) Close() error {
	s.access.Lock()
	if s.closed {
		s.access.Unlock()
		return nil
	}
	s.closed = true
	s.outbound = nil
	s.cond.Broadcast()
	s.access.Unlock()
	// the close alert cannot be delivered any more, Shutdown is the
	// graceful path
	_ = s.conn.Close()
	return nil
}

// pump moves ciphertext until ready reports true (evaluated with the lock
// held), the transport would block, or an error occurs.
func (s *tlsSession) pump(ready func() bool) error {
	for {
		err := s.flush()
		if err != nil {
			return err
		}
		s.access.Lock()
		for !ready() && !s.starving && !s.closed {
			s.cond.Wait()
		}
		isReady := ready()
		closed := s.closed
		pending := len(s.outbound) > 0
		s.access.Unlock()
		if pending {
			continue
		}
		if isReady {
			return nil
		}
		if closed {
			return net.ErrClosed
		}
		err = s.fill()
		if err != nil {
			return err
		}
	}
}

func (s *tlsSession) flush() error {
	if s.transport == nil {
		return ErrWantWrite
	}
	for {
		s.access.Lock()
		pending := s.outbound
		s.access.Unlock()
		if len(pending) == 0 {
			return nil
		}
		n, err := s.transport.Write(pending)
		s.access.Lock()
		if n > 0 {
			s.outbound = s.outbound[n:]
			if len(s.outbound) == 0 {
				s.outbound = nil
			}
		}
		s.access.Unlock()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrWantWrite
		}
	}
}

func (s *tlsSession) fill() error {
	if s.transport == nil {
		return ErrWantRead
	}
	s.access.Lock()
	free := s.inbound.Free()
	s.access.Unlock()
	if free > fillChunkSize {
		free = fillChunkSize
	}
	if free == 0 {
		return nil
	}
	buffer := buf.Get(free)
	defer buf.Put(buffer)
	n, err := s.transport.Read(buffer)
	if n > 0 {
		s.access.Lock()
		s.inbound.Write(buffer[:n])
		s.starving = false
		s.cond.Broadcast()
		s.access.Unlock()
		if IsRetry(err) {
			return nil
		}
	}
	if err != nil {
		if err == io.EOF {
			s.access.Lock()
			s.inboundEOF = true
			s.starving = false
			s.cond.Broadcast()
			s.access.Unlock()
			return nil
		}
		return err
	}
	if n == 0 {
		return ErrWantRead
	}
	return nil
}
