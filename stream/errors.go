package stream

import (
	"strconv"

	E "github.com/sagernet/oi/common/exceptions"
)

type ErrorDomain int

const (
	// ErrorDomainHandshake reports a failed secure session handshake. The
	// socket is closed afterwards.
	ErrorDomainHandshake ErrorDomain = iota + 1
	// ErrorDomainBye reports a failed secure session shutdown exchange. The
	// socket is still closed.
	ErrorDomainBye
	// ErrorDomainNonBlocking reports a descriptor that could not be created
	// or switched to non-blocking mode.
	ErrorDomainNonBlocking
	// ErrorDomainLoop reports a failed watch registration. Code is always 0.
	ErrorDomainLoop
	// ErrorDomainAccept reports a failed accept on a server.
	ErrorDomainAccept
	// ErrorDomainIO reports a failed read or write.
	ErrorDomainIO
	// ErrorDomainConnect reports a failed client connect.
	ErrorDomainConnect
)

func (d ErrorDomain) String() string {
	switch d {
	case ErrorDomainHandshake:
		return "handshake"
	case ErrorDomainBye:
		return "bye"
	case ErrorDomainNonBlocking:
		return "nonblocking"
	case ErrorDomainLoop:
		return "loop"
	case ErrorDomainAccept:
		return "accept"
	case ErrorDomainIO:
		return "io"
	case ErrorDomainConnect:
		return "connect"
	default:
		return "domain " + strconv.Itoa(int(d))
	}
}

// Error is the value passed to error callbacks. Code is the errno of the
// failed system call when there is one.
type Error struct {
	Domain ErrorDomain
	Code   int
	Cause  error
}

func newError(domain ErrorDomain, cause error) *Error {
	err := &Error{Domain: domain, Cause: cause}
	if domain != ErrorDomainLoop {
		if errno, isErrno := E.Errno(cause); isErrno {
			err.Code = int(errno)
		}
	}
	return err
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Domain.String() + " error"
	}
	return e.Domain.String() + " error: " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

var (
	ErrSocketReused       = E.New("stream: socket already used")
	ErrNotDetached        = E.New("stream: attached to another loop")
	ErrSessionLocked      = E.New("stream: secure session must be set before open")
	ErrAlreadyListening   = E.New("stream: server already listening")
	ErrServerClosed       = E.New("stream: server closed")
	ErrUnsupportedAddress = E.New("stream: unsupported address")
)
