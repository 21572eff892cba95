// Package oi is an event driven stream socket library: a reactor loop,
// non-blocking TCP and Unix sockets with queued writes, and optional TLS
// sessions driven without blocking the loop.
package oi

const VersionStr = "0.1.0"
