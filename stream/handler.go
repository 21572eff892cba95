package stream

import "net"

// Handler receives socket events. All methods run on the loop goroutine
// and may call any method of the socket, including ScheduleClose.
type Handler interface {
	// OnConnect is called once the socket is usable: after connect
	// completion for client sockets, on the first write readiness for
	// accepted sockets, and after the handshake for secured sockets.
	OnConnect(socket *Socket)
	// OnRead delivers received bytes. data is only valid during the call.
	OnRead(socket *Socket, data []byte)
	// OnDrain is called when the write queue becomes empty.
	OnDrain(socket *Socket)
	OnError(socket *Socket, err *Error)
	// OnClose is the last callback of a socket and is called exactly once.
	OnClose(socket *Socket)
	// OnTimeout is called when the idle timer expires. The socket is closed
	// afterwards unless ResetTimeout or ScheduleClose was called.
	OnTimeout(socket *Socket)
}

// HandlerFuncs implements Handler with optional functions.
type HandlerFuncs struct {
	Connect func(socket *Socket)
	Read    func(socket *Socket, data []byte)
	Drain   func(socket *Socket)
	Error   func(socket *Socket, err *Error)
	Close   func(socket *Socket)
	Timeout func(socket *Socket)
}

func (h HandlerFuncs) OnConnect(socket *Socket) {
	if h.Connect != nil {
		h.Connect(socket)
	}
}

func (h HandlerFuncs) OnRead(socket *Socket, data []byte) {
	if h.Read != nil {
		h.Read(socket, data)
	}
}

func (h HandlerFuncs) OnDrain(socket *Socket) {
	if h.Drain != nil {
		h.Drain(socket)
	}
}

func (h HandlerFuncs) OnError(socket *Socket, err *Error) {
	if h.Error != nil {
		h.Error(socket, err)
	}
}

func (h HandlerFuncs) OnClose(socket *Socket) {
	if h.Close != nil {
		h.Close(socket)
	}
}

func (h HandlerFuncs) OnTimeout(socket *Socket) {
	if h.Timeout != nil {
		h.Timeout(socket)
	}
}

// ServerHandler receives server events on the loop goroutine.
type ServerHandler interface {
	// NewConnection returns the socket that takes over an accepted peer, or
	// nil to reject it. The socket must be fresh (never opened).
	NewConnection(server *Server, remote net.Addr) *Socket
	HandleError(server *Server, err *Error)
}

type ServerHandlerFuncs struct {
	Connection func(server *Server, remote net.Addr) *Socket
	Error      func(server *Server, err *Error)
}

func (h ServerHandlerFuncs) NewConnection(server *Server, remote net.Addr) *Socket {
	if h.Connection == nil {
		return nil
	}
	return h.Connection(server, remote)
}

func (h ServerHandlerFuncs) HandleError(server *Server, err *Error) {
	if h.Error != nil {
		h.Error(server, err)
	}
}
