package secure

import (
	"crypto/tls"
	"net"
)

// NewTLSServer returns a server side session using crypto/tls.
func NewTLSServer(config *tls.Config) Session {
	return newTLSSession(func(conn net.Conn) recordConn {
		return tls.Server(conn, config)
	})
}

// NewTLSClient returns a client side session using crypto/tls.
func NewTLSClient(config *tls.Config) Session {
	return newTLSSession(func(conn net.Conn) recordConn {
		return tls.Client(conn, config)
	})
}

// ConnectionState reports the negotiated parameters of a completed
// crypto/tls session.
func ConnectionState(session Session) (tls.ConnectionState, bool) {
	tlsSession, isTLS := session.(*tlsSession)
	if !isTLS || !tlsSession.established() {
		return tls.ConnectionState{}, false
	}
	stateConn, isStateConn := tlsSession.conn.(interface {
		ConnectionState() tls.ConnectionState
	})
	if !isStateConn {
		return tls.ConnectionState{}, false
	}
	return stateConn.ConnectionState(), true
}
