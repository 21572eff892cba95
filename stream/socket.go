package stream

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/sagernet/oi/common/buf"
	"github.com/sagernet/oi/common/chain"
	"github.com/sagernet/oi/common/log"
	"github.com/sagernet/oi/reactor"
	"github.com/sagernet/oi/secure"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpened
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpened:
		return "opened"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

type Socket struct {
	id            uuid.UUID
	handler       Handler
	logger        logrus.FieldLogger
	readChunkSize int
	context       any

	fd     int
	used   bool
	state  State
	server *Server
	remote net.Addr
	local  net.Addr

	loop           *reactor.Loop
	readWatcher    *reactor.IOWatcher
	writeWatcher   *reactor.IOWatcher
	timeout        idleTimer
	timeoutHandled bool

	requests *chain.Chain
	written  uint64
	reading  bool

	session        secure.Session
	sessionWant    reactor.Events
	established    bool
	flushPending   bool
	readWantsWrite bool
	byeStarted     bool
	byeDone        bool
}

// NewSocket creates an unopened socket. A zero timeout disables the idle
// timer.
func NewSocket(handler Handler, timeout time.Duration, options ...SocketOption) *Socket {
	if handler == nil {
		handler = HandlerFuncs{}
	}
	socket := &Socket{
		id:            uuid.New(),
		handler:       handler,
		readChunkSize: DefaultReadChunkSize,
		fd:            -1,
		requests:      chain.New(),
		reading:       true,
	}
	socket.timeout = newIdleTimer(timeout, socket.handleTimeout)
	for _, option := range options {
		option(socket)
	}
	if socket.logger == nil {
		socket.logger = log.NewLogger("stream")
	}
	socket.logger = socket.logger.WithField("socket", socket.id.String())
	return socket
}

func (s *Socket) ID() uuid.UUID {
	return s.id
}

// FD returns the descriptor, or -1 before the socket was opened.
func (s *Socket) FD() int {
	return s.fd
}

func (s *Socket) State() State {
	return s.state
}

func (s *Socket) RemoteAddr() net.Addr {
	return s.remote
}

func (s *Socket) LocalAddr() net.Addr {
	return s.local
}

// Server returns the server that accepted the socket, nil for client sockets.
func (s *Socket) Server() *Server {
	return s.server
}

func (s *Socket) Loop() *reactor.Loop {
	return s.loop
}

func (s *Socket) Context() any {
	return s.context
}

func (s *Socket) SetContext(context any) {
	s.context = context
}

// Written returns the number of bytes handed to the transport or secure
// session so far.
func (s *Socket) Written() uint64 {
	return s.written
}

// Buffered returns the number of queued bytes not written yet.
func (s *Socket) Buffered() int {
	return s.requests.Buffered()
}

func (s *Socket) Secure() bool {
	return s.session != nil
}

func (s *Socket) Session() secure.Session {
	return s.session
}

// SetSecureSession makes the socket encrypt its traffic with session. It
// must be called before the socket is opened or returned from
// ServerHandler.NewConnection.
func (s *Socket) SetSecureSession(session secure.Session) error {
	if s.used {
		return ErrSessionLocked
	}
	s.session = session
	return nil
}

func (s *Socket) OpenTCP(addr netip.AddrPort) error {
	family, sa, err := tcpSockaddr(addr)
	if err != nil {
		return err
	}
	return s.open(family, func(fd int) error {
		return startConnect(fd, sa)
	}, net.TCPAddrFromAddrPort(addr))
}

func (s *Socket) OpenUnix(path string) error {
	family, sa, err := unixSockaddr(path)
	if err != nil {
		return err
	}
	return s.open(family, func(fd int) error {
		return startConnect(fd, sa)
	}, &net.UnixAddr{Name: path, Net: "unix"})
}

func (s *Socket) open(family int, connect func(fd int) error, remote net.Addr) error {
	if s.used {
		return ErrSocketReused
	}
	s.used = true
	s.remote = remote
	fd, err := newStreamSocket(family)
	if err != nil {
		socketErr := newError(ErrorDomainNonBlocking, err)
		s.handler.OnError(s, socketErr)
		return socketErr
	}
	s.bind(fd)
	s.state = StateOpening
	err = connect(fd)
	if err != nil {
		socketErr := newError(ErrorDomainConnect, err)
		s.report(socketErr)
		s.closeNow()
		return socketErr
	}
	s.local = localAddr(fd)
	s.logger.Debug("connecting to ", remote)
	s.timeout.reset()
	s.rearm()
	return nil
}

func (s *Socket) accepted(server *Server, fd int, remote net.Addr) error {
	if s.used {
		return ErrSocketReused
	}
	s.used = true
	s.bind(fd)
	s.server = server
	s.remote = remote
	s.local = localAddr(fd)
	s.state = StateOpened
	return nil
}

func (s *Socket) bind(fd int) {
	s.fd = fd
	s.readWatcher = reactor.NewIO(fd, reactor.EventRead, s.handleRead)
	s.writeWatcher = reactor.NewIO(fd, reactor.EventWrite, s.handleWrite)
	if s.session != nil {
		s.session.Attach(socketTransport{s})
		s.sessionWant = reactor.EventWrite
	}
}

// Attach binds the socket to loop and arms the watches its state needs.
// Attaching to the current loop is a no-op.
func (s *Socket) Attach(loop *reactor.Loop) error {
	if s.loop == loop {
		return nil
	}
	if s.loop != nil {
		return ErrNotDetached
	}
	s.loop = loop
	s.timeout.attach(loop)
	if s.state == StateClosed {
		return nil
	}
	s.timeout.reset()
	err := s.updateWatches()
	if err != nil {
		s.fail(ErrorDomainLoop, err)
		return err
	}
	return nil
}

// Detach disarms every watch and the idle timer. The socket keeps its state
// and can be attached again.
func (s *Socket) Detach() {
	if s.loop == nil {
		return
	}
	if s.readWatcher != nil {
		s.readWatcher.Stop()
		s.writeWatcher.Stop()
	}
	s.timeout.detach()
	s.loop = nil
}

func (s *Socket) ReadStart() {
	if s.reading {
		return
	}
	s.reading = true
	if s.session != nil && s.established && s.state == StateOpened {
		// the session may hold decrypted data the descriptor no longer
		// signals
		s.readWantsWrite = true
	}
	s.rearm()
}

func (s *Socket) ReadStop() {
	if !s.reading {
		return
	}
	s.reading = false
	s.rearm()
}

// Write queues request. It returns false and leaves the request untouched
// when the socket is not Opened or the request is already queued. A request
// whose release was called may be written again.
func (s *Socket) Write(request *chain.Request) bool {
	if s.state != StateOpened {
		return false
	}
	wasEmpty := s.requests.IsEmpty()
	if !s.requests.Push(request) {
		return false
	}
	if wasEmpty {
		s.rearm()
	}
	return true
}

// WriteSimple queues a pooled copy of data.
func (s *Socket) WriteSimple(data []byte) bool {
	if s.state != StateOpened {
		return false
	}
	request := chain.NewRequest(buf.Clone(data), releasePooled)
	if !s.Write(request) {
		buf.Put(request.Data)
		return false
	}
	return true
}

func releasePooled(request *chain.Request, sent bool) {
	buf.Put(request.Data)
}

// ResetTimeout restarts the idle timer. Called from OnTimeout it keeps the
// socket open.
func (s *Socket) ResetTimeout() {
	s.timeoutHandled = true
	s.timeout.reset()
}

// ScheduleClose closes the socket once queued writes are flushed and the
// secure session, if any, finished its shutdown exchange. A connecting
// socket is closed immediately.
func (s *Socket) ScheduleClose() {
	s.timeoutHandled = true
	switch s.state {
	case StateOpening:
		s.closeNow()
	case StateOpened:
		s.beginClose()
		s.timeout.reset()
		if s.loop == nil {
			s.continueClose()
		}
	}
}

func (s *Socket) beginClose() {
	s.state = StateClosing
	s.readWantsWrite = false
	s.logger.Debug("closing")
	s.rearm()
}

func (s *Socket) updateWatches() error {
	if s.loop == nil || s.readWatcher == nil {
		return nil
	}
	var read, write bool
	switch s.state {
	case StateOpening:
		write = true
	case StateOpened:
		switch {
		case !s.established && s.session != nil:
			read = s.sessionWant == reactor.EventRead
			write = s.sessionWant == reactor.EventWrite
		case !s.established:
			write = true
		default:
			read = s.reading
			write = !s.requests.IsEmpty() || s.flushPending || s.readWantsWrite
		}
	case StateClosing:
		if s.byeStarted {
			read = s.sessionWant == reactor.EventRead
			write = s.sessionWant == reactor.EventWrite
		} else {
			write = true
		}
	}
	err := toggleWatcher(s.readWatcher, s.loop, read)
	if err != nil {
		return err
	}
	return toggleWatcher(s.writeWatcher, s.loop, write)
}

func toggleWatcher(watcher *reactor.IOWatcher, loop *reactor.Loop, enabled bool) error {
	if !enabled {
		watcher.Stop()
		return nil
	}
	return watcher.Start(loop)
}

func (s *Socket) rearm() {
	err := s.updateWatches()
	if err != nil {
		s.fail(ErrorDomainLoop, err)
	}
}

// wait records the direction a secure session call is blocked on.
func (s *Socket) wait(err error) bool {
	switch {
	case errors.Is(err, secure.ErrWantRead):
		s.sessionWant = reactor.EventRead
	case errors.Is(err, secure.ErrWantWrite):
		s.sessionWant = reactor.EventWrite
	default:
		return false
	}
	s.rearm()
	return true
}

func (s *Socket) handleRead(events reactor.Events) {
	switch s.state {
	case StateOpened:
		if !s.established {
			if s.session != nil {
				s.handshake()
			}
			return
		}
		s.read()
	case StateClosing:
		if s.byeStarted {
			s.continueClose()
		}
	}
}

func (s *Socket) handleWrite(events reactor.Events) {
	switch s.state {
	case StateOpening:
		s.finishConnect()
	case StateOpened:
		if !s.established {
			if s.session != nil {
				s.handshake()
			} else {
				s.establish()
			}
			return
		}
		if s.readWantsWrite {
			s.readWantsWrite = false
			s.read()
			if s.state != StateOpened {
				return
			}
		}
		s.flush()
	case StateClosing:
		s.continueClose()
	}
}

func (s *Socket) finishConnect() {
	err := connectResult(s.fd)
	if err != nil {
		s.fail(ErrorDomainConnect, err)
		return
	}
	s.state = StateOpened
	s.local = localAddr(s.fd)
	s.timeout.reset()
	if s.session != nil {
		s.handshake()
		return
	}
	s.establish()
}

func (s *Socket) handshake() {
	err := s.session.Handshake()
	if err == nil {
		s.establish()
		return
	}
	if s.wait(err) {
		return
	}
	s.fail(ErrorDomainHandshake, err)
}

func (s *Socket) establish() {
	s.established = true
	if s.session != nil {
		// the last handshake flight may have carried application data
		s.readWantsWrite = true
	}
	s.logger.Debug("connected ", s.remote)
	s.rearm()
	if s.state != StateOpened {
		return
	}
	s.handler.OnConnect(s)
}

func (s *Socket) read() {
	buffer := buf.Get(s.readChunkSize)
	defer buf.Put(buffer)
	for s.state == StateOpened && s.reading {
		n, err := s.recv(buffer)
		if n > 0 {
			s.timeout.reset()
			s.handler.OnRead(s, buffer[:n])
		}
		switch {
		case err == nil:
			// raw descriptors are level triggered, sessions may buffer
			if s.session == nil || n == 0 {
				return
			}
		case errors.Is(err, secure.ErrWantRead):
			return
		case errors.Is(err, secure.ErrWantWrite):
			s.readWantsWrite = true
			s.rearm()
			return
		case err == io.EOF:
			if s.state == StateOpened {
				s.logger.Debug("peer closed")
				s.beginClose()
			}
			return
		default:
			s.fail(ErrorDomainIO, err)
			return
		}
	}
}

func (s *Socket) recv(p []byte) (int, error) {
	if s.session != nil {
		return s.session.Read(p)
	}
	return socketTransport{s}.Read(p)
}

func (s *Socket) send(p []byte) (int, error) {
	if s.session != nil {
		return s.session.Write(p)
	}
	return socketTransport{s}.Write(p)
}

func (s *Socket) flush() {
	backlog := !s.requests.IsEmpty() || s.flushPending
	for {
		s.requests.PopEmpty()
		request := s.requests.Head()
		if request == nil {
			break
		}
		pending := len(request.Pending())
		n, err := s.send(request.Pending())
		if n > 0 {
			s.written += uint64(n)
			s.requests.Advance(n)
			if n >= pending {
				s.timeout.reset()
			}
		}
		if err != nil {
			if secure.IsRetry(err) {
				s.rearm()
				return
			}
			s.fail(ErrorDomainIO, err)
			return
		}
		if n == 0 {
			s.rearm()
			return
		}
	}
	if s.session != nil {
		err := s.session.Flush()
		if err != nil {
			if secure.IsRetry(err) {
				s.flushPending = true
				s.rearm()
				return
			}
			s.fail(ErrorDomainIO, err)
			return
		}
		s.flushPending = false
	}
	s.rearm()
	if s.state == StateClosing {
		s.continueClose()
		return
	}
	if backlog && s.state == StateOpened {
		s.handler.OnDrain(s)
	}
}

func (s *Socket) continueClose() {
	if s.state != StateClosing {
		return
	}
	if s.session != nil && !s.established {
		s.closeNow()
		return
	}
	if !s.byeStarted && (!s.requests.IsEmpty() || s.flushPending) {
		s.flush()
		return
	}
	if s.session != nil && !s.byeDone {
		s.byeStarted = true
		err := s.session.Shutdown()
		if err != nil && s.wait(err) {
			return
		}
		s.byeDone = true
		if err != nil {
			s.report(newError(ErrorDomainBye, err))
			if s.state == StateClosed {
				return
			}
		}
	}
	s.closeNow()
}

func (s *Socket) handleTimeout() {
	if s.state == StateClosed {
		return
	}
	s.timeoutHandled = false
	s.handler.OnTimeout(s)
	if s.timeoutHandled || s.state == StateClosed {
		return
	}
	s.logger.Debug("idle timeout")
	s.closeNow()
}

func (s *Socket) report(err *Error) {
	s.logger.Debug(err)
	s.handler.OnError(s, err)
}

func (s *Socket) fail(domain ErrorDomain, err error) {
	if s.state == StateClosed {
		return
	}
	s.report(newError(domain, err))
	s.closeNow()
}

// closeNow releases everything the socket holds and fires OnClose. Queued
// requests are released unsent.
func (s *Socket) closeNow() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	if s.readWatcher != nil {
		s.readWatcher.Stop()
		s.writeWatcher.Stop()
	}
	s.timeout.stop()
	if s.session != nil {
		s.session.Close()
	}
	abandoned := s.requests.Abandon()
	if s.fd >= 0 {
		err := closeSocket(s.fd)
		if err != nil {
			s.logger.Debug("close descriptor: ", err)
		}
	}
	if abandoned > 0 {
		s.logger.Debug("closed, ", abandoned, " requests dropped")
	} else {
		s.logger.Debug("closed")
	}
	s.handler.OnClose(s)
}

// socketTransport is the raw descriptor a secure session writes onto.
type socketTransport struct {
	socket *Socket
}

func (t socketTransport) Read(p []byte) (int, error) {
	n, err := readSocket(t.socket.fd, p)
	if err != nil {
		if isWouldBlock(err) {
			return 0, secure.ErrWantRead
		}
		return 0, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (t socketTransport) Write(p []byte) (int, error) {
	n, err := writeSocket(t.socket.fd, p)
	if err != nil {
		if isWouldBlock(err) {
			return 0, secure.ErrWantWrite
		}
		return 0, err
	}
	return n, nil
}
