//go:build linux

package stream

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

type sockaddr = unix.Sockaddr

func newStreamSocket(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

// startConnect begins a non-blocking connect. A nil error means the result
// arrives with the next write readiness.
func startConnect(fd int, sa sockaddr) error {
	for {
		err := unix.Connect(fd, sa)
		switch err {
		case nil, unix.EINPROGRESS, unix.EALREADY:
			return nil
		case unix.EINTR:
			continue
		default:
			return err
		}
	}
}

func connectResult(fd int) error {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if code != 0 {
		return unix.Errno(code)
	}
	return nil
}

func listenSocket(family int, sa sockaddr, reuseAddr bool) (int, error) {
	fd, err := newStreamSocket(family)
	if err != nil {
		return -1, err
	}
	if reuseAddr {
		err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	err = unix.Bind(fd, sa)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	err = unix.Listen(fd, unix.SOMAXCONN)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func acceptSocket(fd int) (int, sockaddr, error) {
	for {
		conn, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		return conn, sa, err
	}
}

// transientAcceptError reports errors after which a server keeps listening.
func transientAcceptError(err error) bool {
	switch err {
	case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM,
		unix.ECONNABORTED, unix.EPROTO, unix.EPERM:
		return true
	default:
		return false
	}
}

func readSocket(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		default:
			return 0, err
		}
	}
}

func writeSocket(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		default:
			return 0, err
		}
	}
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

func closeSocket(fd int) error {
	return unix.Close(fd)
}

func tcpSockaddr(addr netip.AddrPort) (int, sockaddr, error) {
	if !addr.IsValid() {
		return 0, nil, ErrUnsupportedAddress
	}
	ip := addr.Addr().Unmap()
	if ip.Is4() {
		return unix.AF_INET, &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}, nil
	}
	sa := &unix.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
	if zone := ip.Zone(); zone != "" {
		iface, err := net.InterfaceByName(zone)
		if err != nil {
			return 0, nil, err
		}
		sa.ZoneId = uint32(iface.Index)
	}
	return unix.AF_INET6, sa, nil
}

func unixSockaddr(path string) (int, sockaddr, error) {
	if path == "" {
		return 0, nil, ErrUnsupportedAddress
	}
	return unix.AF_UNIX, &unix.SockaddrUnix{Name: path}, nil
}

func sockaddrToAddr(sa sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		addr := &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}
		if sa.ZoneId != 0 {
			if iface, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				addr.Zone = iface.Name
			}
		}
		return addr
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}
	default:
		return nil
	}
}

func localAddr(fd int) net.Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return sockaddrToAddr(sa)
}

func remoteAddr(fd int) net.Addr {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil
	}
	return sockaddrToAddr(sa)
}
