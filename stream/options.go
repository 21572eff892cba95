package stream

import "github.com/sirupsen/logrus"

const (
	DefaultReadChunkSize = 16 * 1024
	DefaultAcceptBatch   = 32
)

type SocketOption func(*Socket)

// WithReadChunkSize sets the size of the buffer used for a single read.
func WithReadChunkSize(size int) SocketOption {
	return func(socket *Socket) {
		if size > 0 {
			socket.readChunkSize = size
		}
	}
}

func WithLogger(logger logrus.FieldLogger) SocketOption {
	return func(socket *Socket) {
		socket.logger = logger
	}
}

type ServerOption func(*Server)

// WithAcceptBatch bounds the number of connections accepted per readiness
// event.
func WithAcceptBatch(batch int) ServerOption {
	return func(server *Server) {
		if batch > 0 {
			server.acceptBatch = batch
		}
	}
}

func WithServerLogger(logger logrus.FieldLogger) ServerOption {
	return func(server *Server) {
		server.logger = logger
	}
}
