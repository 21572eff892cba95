//go:build !linux

package stream

import (
	"net"
	"net/netip"

	E "github.com/sagernet/oi/common/exceptions"
)

var errUnsupportedPlatform = E.New("stream: unsupported platform")

type sockaddr any

func newStreamSocket(family int) (int, error) {
	return -1, errUnsupportedPlatform
}

func startConnect(fd int, sa sockaddr) error {
	return errUnsupportedPlatform
}

func connectResult(fd int) error {
	return errUnsupportedPlatform
}

func listenSocket(family int, sa sockaddr, reuseAddr bool) (int, error) {
	return -1, errUnsupportedPlatform
}

func acceptSocket(fd int) (int, sockaddr, error) {
	return -1, nil, errUnsupportedPlatform
}

func transientAcceptError(err error) bool {
	return false
}

func readSocket(fd int, p []byte) (int, error) {
	return 0, errUnsupportedPlatform
}

func writeSocket(fd int, p []byte) (int, error) {
	return 0, errUnsupportedPlatform
}

func isWouldBlock(err error) bool {
	return false
}

func closeSocket(fd int) error {
	return errUnsupportedPlatform
}

func tcpSockaddr(addr netip.AddrPort) (int, sockaddr, error) {
	return 0, nil, errUnsupportedPlatform
}

func unixSockaddr(path string) (int, sockaddr, error) {
	return 0, nil, errUnsupportedPlatform
}

func sockaddrToAddr(sa sockaddr) net.Addr {
	return nil
}

func localAddr(fd int) net.Addr {
	return nil
}

func remoteAddr(fd int) net.Addr {
	return nil
}
