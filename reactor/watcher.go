package reactor

import E "github.com/sagernet/oi/common/exceptions"

// IOWatcher invokes its callback when fd is ready for the configured
// events. Several watchers may watch the same descriptor.
type IOWatcher struct {
	fd       int
	events   Events
	callback func(events Events)
	loop     *Loop
	entry    *fdEntry
}

func NewIO(fd int, events Events, callback func(events Events)) *IOWatcher {
	return &IOWatcher{
		fd:       fd,
		events:   events,
		callback: callback,
	}
}

func (w *IOWatcher) FD() int {
	return w.fd
}

func (w *IOWatcher) Events() Events {
	return w.events
}

func (w *IOWatcher) Active() bool {
	return w.entry != nil
}

// Set changes the descriptor and events of an inactive watcher.
func (w *IOWatcher) Set(fd int, events Events) error {
	if w.Active() {
		return E.New("reactor: set on active watcher")
	}
	w.fd = fd
	w.events = events
	return nil
}

// Start registers the watcher with loop. Starting an active watcher is a
// no-op.
func (w *IOWatcher) Start(loop *Loop) error {
	if w.Active() {
		return nil
	}
	if w.fd < 0 || w.events == 0 {
		return E.New("reactor: invalid watcher fd ", w.fd, " events ", w.events)
	}
	err := loop.startIO(w)
	if err != nil {
		return E.Cause(err, "register fd ", w.fd)
	}
	w.loop = loop
	return nil
}

// Stop unregisters the watcher. It is safe to call on an inactive watcher.
func (w *IOWatcher) Stop() {
	if !w.Active() {
		return
	}
	w.loop.stopIO(w)
	w.loop = nil
}
