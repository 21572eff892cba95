//go:build linux

package stream

import (
	"bytes"
	"crypto/tls"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/sagernet/oi/reactor"
	"github.com/sagernet/oi/secure"

	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *reactor.Loop {
	loop, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		loop.Close()
	})
	return loop
}

func runUntil(t *testing.T, loop *reactor.Loop, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !done() {
		require.True(t, time.Now().Before(deadline), "condition not reached")
		require.NoError(t, loop.RunOnce(10*time.Millisecond))
	}
}

func runFor(t *testing.T, loop *reactor.Loop, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		require.NoError(t, loop.RunOnce(5*time.Millisecond))
	}
}

// events records the callbacks of one socket.
type events struct {
	connects int
	drains   int
	closes   int
	timeouts int
	errors   []*Error
	received bytes.Buffer
	// callbacks observed after OnClose
	late int
}

func (e *events) handler(override HandlerFuncs) HandlerFuncs {
	return HandlerFuncs{
		Connect: func(socket *Socket) {
			e.check()
			e.connects++
			if override.Connect != nil {
				override.Connect(socket)
			}
		},
		Read: func(socket *Socket, data []byte) {
			e.check()
			e.received.Write(data)
			if override.Read != nil {
				override.Read(socket, data)
			}
		},
		Drain: func(socket *Socket) {
			e.check()
			e.drains++
			if override.Drain != nil {
				override.Drain(socket)
			}
		},
		Error: func(socket *Socket, err *Error) {
			e.check()
			e.errors = append(e.errors, err)
			if override.Error != nil {
				override.Error(socket, err)
			}
		},
		Close: func(socket *Socket) {
			e.check()
			e.closes++
			if override.Close != nil {
				override.Close(socket)
			}
		},
		Timeout: func(socket *Socket) {
			e.check()
			e.timeouts++
			if override.Timeout != nil {
				override.Timeout(socket)
			}
		},
	}
}

func (e *events) check() {
	if e.closes > 0 {
		e.late++
	}
}

func (e *events) closed() bool {
	return e.closes > 0
}

func echoHandler() HandlerFuncs {
	return HandlerFuncs{
		Read: func(socket *Socket, data []byte) {
			socket.WriteSimple(data)
		},
	}
}

// listenTCP starts a server on a loopback port. Every connection gets the
// socket returned by newSocket.
func listenTCP(t *testing.T, loop *reactor.Loop, maxConnections int, newSocket func() *Socket) (*Server, netip.AddrPort) {
	server := NewServer(ServerHandlerFuncs{
		Connection: func(server *Server, remote net.Addr) *Socket {
			return newSocket()
		},
	}, maxConnections)
	require.NoError(t, server.ListenTCP(netip.MustParseAddrPort("127.0.0.1:0")))
	require.NoError(t, server.Attach(loop))
	t.Cleanup(func() {
		server.Close()
	})
	return server, server.Addr().(*net.TCPAddr).AddrPort()
}

func newTestTLSConfigs(t *testing.T) (*tls.Config, *tls.Config) {
	certificate, err := secure.GenerateCertificate("example.org")
	require.NoError(t, err)
	serverConfig := &tls.Config{Certificates: []tls.Certificate{*certificate}}
	clientConfig := &tls.Config{ServerName: "example.org", InsecureSkipVerify: true}
	return serverConfig, clientConfig
}
