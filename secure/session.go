// Package secure drives an encrypted transport session on top of a
// non-blocking byte transport.
//
// Every Session call returns immediately. ErrWantRead and ErrWantWrite mean
// the call made no further progress and must be repeated once the transport
// is readable or writable respectively.
package secure

import (
	"errors"

	E "github.com/sagernet/oi/common/exceptions"
)

var (
	ErrWantRead  = E.New("secure: want read")
	ErrWantWrite = E.New("secure: want write")

	ErrHandshakeIncomplete = E.New("secure: handshake not completed")
)

// Transport is the raw byte stream a session encrypts onto. Read and Write
// never block: they return ErrWantRead or ErrWantWrite instead, possibly
// together with a partial count. Read returns io.EOF on orderly shutdown.
type Transport interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
}

type Session interface {
	// Attach binds the session to its transport before the handshake.
	Attach(transport Transport)
	// Handshake performs one handshake step. nil means the handshake is
	// complete.
	Handshake() error
	// Read returns decrypted data, io.EOF once the peer finished the
	// session, or ErrWantRead/ErrWantWrite.
	Read(p []byte) (n int, err error)
	// Write encrypts a prefix of p. A positive n with a nil error means
	// those bytes were accepted and will reach the transport on later
	// Write or Flush calls.
	Write(p []byte) (n int, err error)
	// Flush pushes accepted but untransmitted records to the transport.
	Flush() error
	// Shutdown sends the closing exchange and flushes it. nil means done.
	Shutdown() error
	// Close releases the session without any exchange.
	Close() error
}

func IsRetry(err error) bool {
	return errors.Is(err, ErrWantRead) || errors.Is(err, ErrWantWrite)
}
