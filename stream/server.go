package stream

import (
	"net"
	"net/netip"
	"os"

	E "github.com/sagernet/oi/common/exceptions"
	"github.com/sagernet/oi/common/log"
	"github.com/sagernet/oi/reactor"

	"github.com/sirupsen/logrus"
)

// Server accepts stream connections and hands each of them to a Socket
// supplied by its handler.
type Server struct {
	handler        ServerHandler
	logger         logrus.FieldLogger
	maxConnections int
	acceptBatch    int
	context        any

	accept func(fd int) (int, sockaddr, error)

	fd        int
	listening bool
	closed    bool
	addr      net.Addr
	loop      *reactor.Loop
	watcher   *reactor.IOWatcher
}

// NewServer creates a server. maxConnections is recorded but not enforced.
func NewServer(handler ServerHandler, maxConnections int, options ...ServerOption) *Server {
	if handler == nil {
		handler = ServerHandlerFuncs{}
	}
	server := &Server{
		handler:        handler,
		maxConnections: maxConnections,
		acceptBatch:    DefaultAcceptBatch,
		accept:         acceptSocket,
		fd:             -1,
	}
	for _, option := range options {
		option(server)
	}
	if server.logger == nil {
		server.logger = log.NewLogger("server")
	}
	return server
}

func (s *Server) MaxConnections() int {
	return s.maxConnections
}

func (s *Server) Listening() bool {
	return s.listening
}

// Addr returns the bound address, with the kernel chosen port for TCP.
func (s *Server) Addr() net.Addr {
	return s.addr
}

func (s *Server) FD() int {
	return s.fd
}

func (s *Server) Loop() *reactor.Loop {
	return s.loop
}

func (s *Server) Context() any {
	return s.context
}

func (s *Server) SetContext(context any) {
	s.context = context
}

func (s *Server) ListenTCP(addr netip.AddrPort) error {
	if s.closed {
		return ErrServerClosed
	}
	if s.listening {
		return ErrAlreadyListening
	}
	family, sa, err := tcpSockaddr(addr)
	if err != nil {
		return err
	}
	fd, err := listenSocket(family, sa, true)
	if err != nil {
		return E.Cause(err, "listen tcp ", addr)
	}
	return s.start(fd)
}

// ListenUnix listens on path, replacing a stale socket file. A non-zero
// mode is applied to the socket file.
func (s *Server) ListenUnix(path string, mode os.FileMode) error {
	if s.closed {
		return ErrServerClosed
	}
	if s.listening {
		return ErrAlreadyListening
	}
	family, sa, err := unixSockaddr(path)
	if err != nil {
		return err
	}
	if info, statErr := os.Lstat(path); statErr == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return E.New("listen unix ", path, ": file exists")
		}
		err = os.Remove(path)
		if err != nil {
			return E.Cause(err, "remove stale socket ", path)
		}
	}
	fd, err := listenSocket(family, sa, false)
	if err != nil {
		return E.Cause(err, "listen unix ", path)
	}
	if mode != 0 {
		err = os.Chmod(path, mode)
		if err != nil {
			closeSocket(fd)
			return E.Cause(err, "chmod ", path)
		}
	}
	return s.start(fd)
}

func (s *Server) start(fd int) error {
	s.fd = fd
	s.addr = localAddr(fd)
	s.listening = true
	s.watcher = reactor.NewIO(fd, reactor.EventRead, s.handleAccept)
	s.logger.Debug("listening on ", s.addr)
	if s.loop != nil {
		err := s.watcher.Start(s.loop)
		if err != nil {
			s.Close()
			return err
		}
	}
	return nil
}

// Attach registers the accept watch with loop. Attaching to the current loop
// is a no-op.
func (s *Server) Attach(loop *reactor.Loop) error {
	if s.closed {
		return ErrServerClosed
	}
	if s.loop == loop {
		return nil
	}
	if s.loop != nil {
		return ErrNotDetached
	}
	s.loop = loop
	if !s.listening {
		return nil
	}
	return s.watcher.Start(loop)
}

func (s *Server) Detach() {
	if s.loop == nil {
		return
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.loop = nil
}

// Close stops accepting and closes the listening descriptor. Accepted
// sockets are not affected. A closed server cannot listen or attach again.
func (s *Server) Close() error {
	s.closed = true
	if !s.listening {
		return nil
	}
	s.listening = false
	s.watcher.Stop()
	err := closeSocket(s.fd)
	s.logger.Debug("closed ", s.addr)
	return err
}

func (s *Server) handleAccept(events reactor.Events) {
	for i := 0; i < s.acceptBatch && s.listening; i++ {
		fd, sa, err := s.accept(s.fd)
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			s.report(newError(ErrorDomainAccept, err))
			if !transientAcceptError(err) && s.listening {
				s.Close()
			}
			return
		}
		s.dispatch(fd, sockaddrToAddr(sa))
	}
}

func (s *Server) dispatch(fd int, remote net.Addr) {
	if remote == nil {
		remote = remoteAddr(fd)
	}
	socket := s.handler.NewConnection(s, remote)
	if socket == nil {
		s.logger.Debug("rejected ", remote)
		closeSocket(fd)
		return
	}
	err := socket.accepted(s, fd, remote)
	if err != nil {
		closeSocket(fd)
		s.report(newError(ErrorDomainAccept, err))
		return
	}
	if socket.loop == nil && s.loop != nil {
		// a failed attach is reported through the socket handler
		_ = socket.Attach(s.loop)
		return
	}
	// attached by the handler already
	socket.timeout.reset()
	socket.rearm()
}

func (s *Server) report(err *Error) {
	s.logger.Debug(err)
	s.handler.HandleError(s, err)
}
