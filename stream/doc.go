// Package stream provides non-blocking TCP and Unix domain stream sockets
// driven by a reactor.Loop.
//
// A Socket is a client connection opened with OpenTCP or OpenUnix, or a
// server connection produced by a Server for every accepted peer. Sockets
// and servers report everything through callbacks which run on the loop
// goroutine; none of their methods may be called from other goroutines
// (use reactor.Loop.Post for that).
//
// Socket states only move forward:
//
//	Closed -> Opening -> Opened -> Closing -> Closed
//
// Opening is only used while a client connect is in flight; accepted
// sockets start Opened. A closed socket cannot be opened again.
package stream
