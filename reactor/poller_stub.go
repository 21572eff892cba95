//go:build !linux

package reactor

import (
	"time"

	E "github.com/sagernet/oi/common/exceptions"
)

type pollEvent struct {
	registrationID uint64
	events         Events
}

type poller struct{}

func newPoller() (*poller, error) {
	return nil, E.New("reactor: not supported on this platform")
}

func (p *poller) add(fd int, registrationID uint64, events Events) error {
	return E.New("reactor: not supported on this platform")
}

func (p *poller) modify(fd int, registrationID uint64, events Events) error {
	return E.New("reactor: not supported on this platform")
}

func (p *poller) remove(fd int) error {
	return nil
}

func (p *poller) wakeup() {
}

func (p *poller) wait(events []pollEvent, timeout time.Duration) (int, error) {
	return 0, E.New("reactor: not supported on this platform")
}

func (p *poller) close() error {
	return nil
}
