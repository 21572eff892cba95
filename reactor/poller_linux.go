//go:build linux

package reactor

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type pollEvent struct {
	registrationID uint64
	events         Events
}

// poller is a level triggered epoll instance. Registration IDs are stored
// in the event data instead of the fd, so events of a descriptor that was
// closed and reused within one batch are not delivered to the new owner.
// ID 0 is the wakeup pipe.
type poller struct {
	epollFD   int
	pipeFDs   [2]int
	rawEvents []unix.EpollEvent
}

func newPoller() (*poller, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	var pipeFDs [2]int
	err = unix.Pipe2(pipeFDs[:], unix.O_NONBLOCK|unix.O_CLOEXEC)
	if err != nil {
		unix.Close(epollFD)
		return nil, err
	}

	pipeEvent := &unix.EpollEvent{Events: unix.EPOLLIN}
	*(*uint64)(unsafe.Pointer(&pipeEvent.Fd)) = 0
	err = unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, pipeFDs[0], pipeEvent)
	if err != nil {
		unix.Close(pipeFDs[0])
		unix.Close(pipeFDs[1])
		unix.Close(epollFD)
		return nil, err
	}

	return &poller{
		epollFD:   epollFD,
		pipeFDs:   pipeFDs,
		rawEvents: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollEvents(events Events) uint32 {
	var mask uint32
	if events&EventRead != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&EventWrite != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (p *poller) control(op int, fd int, registrationID uint64, events Events) error {
	event := &unix.EpollEvent{Events: epollEvents(events)}
	*(*uint64)(unsafe.Pointer(&event.Fd)) = registrationID
	return unix.EpollCtl(p.epollFD, op, fd, event)
}

func (p *poller) add(fd int, registrationID uint64, events Events) error {
	return p.control(unix.EPOLL_CTL_ADD, fd, registrationID, events)
}

func (p *poller) modify(fd int, registrationID uint64, events Events) error {
	return p.control(unix.EPOLL_CTL_MOD, fd, registrationID, events)
}

func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *poller) wakeup() {
	unix.Write(p.pipeFDs[1], []byte{0})
}

func (p *poller) wait(events []pollEvent, timeout time.Duration) (int, error) {
	timeoutMs := -1
	if timeout >= 0 {
		timeoutMs = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	limit := len(events)
	if limit > len(p.rawEvents) {
		limit = len(p.rawEvents)
	}
	n, err := unix.EpollWait(p.epollFD, p.rawEvents[:limit], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	var buffer [64]byte
	var count int
	for i := 0; i < n; i++ {
		rawEvent := p.rawEvents[i]
		registrationID := *(*uint64)(unsafe.Pointer(&rawEvent.Fd))
		if registrationID == 0 {
			for {
				_, readErr := unix.Read(p.pipeFDs[0], buffer[:])
				if readErr != nil {
					break
				}
			}
			continue
		}
		var ready Events
		if rawEvent.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			ready |= EventRead
		}
		if rawEvent.Events&unix.EPOLLOUT != 0 {
			ready |= EventWrite
		}
		if rawEvent.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ready |= EventError
		}
		events[count] = pollEvent{registrationID: registrationID, events: ready}
		count++
	}
	return count, nil
}

func (p *poller) close() error {
	if p.epollFD != -1 {
		unix.Close(p.epollFD)
		p.epollFD = -1
	}
	if p.pipeFDs[0] != -1 {
		unix.Close(p.pipeFDs[0])
		unix.Close(p.pipeFDs[1])
		p.pipeFDs[0] = -1
		p.pipeFDs[1] = -1
	}
	return nil
}
