package reactor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	E "github.com/sagernet/oi/common/exceptions"
	"github.com/sagernet/oi/common/log"

	"github.com/sirupsen/logrus"
)

type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	// EventError is reported together with EventRead and EventWrite when
	// the descriptor is in an error or hang-up state.
	EventError
)

const maxEvents = 128

var (
	ErrRunning = E.New("reactor: loop is already running")
	ErrClosed  = E.New("reactor: loop is closed")
)

type fdEntry struct {
	fd             int
	registrationID uint64
	mask           Events
	watchers       []*IOWatcher
}

type Loop struct {
	poller              *poller
	logger              logrus.FieldLogger
	now                 time.Time
	entries             map[int]*fdEntry
	registrationCounter uint64
	registrationToEntry map[uint64]*fdEntry
	timers              timerHeap
	events              []pollEvent

	access  sync.Mutex
	posted  []func()
	running atomic.Bool
	stopped atomic.Bool
	closed  bool
}

func New() (*Loop, error) {
	poller, err := newPoller()
	if err != nil {
		return nil, E.Cause(err, "create poller")
	}
	return &Loop{
		poller:              poller,
		logger:              log.NewLogger("reactor"),
		now:                 time.Now(),
		entries:             make(map[int]*fdEntry),
		registrationToEntry: make(map[uint64]*fdEntry),
		events:              make([]pollEvent, maxEvents),
	}, nil
}

// Now returns the time cached at the start of the current iteration.
func (l *Loop) Now() time.Time {
	return l.now
}

// Post schedules f to run on the loop goroutine. It is safe to call from
// any goroutine and returns false if the loop is closed.
func (l *Loop) Post(f func()) bool {
	l.access.Lock()
	if l.closed {
		l.access.Unlock()
		return false
	}
	l.posted = append(l.posted, f)
	l.poller.wakeup()
	l.access.Unlock()
	return true
}

// Stop makes Run return after the current iteration. Safe for concurrent use.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	l.access.Lock()
	if !l.closed {
		l.poller.wakeup()
	}
	l.access.Unlock()
}

// Run dispatches events until Stop is called or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)
	if ctx.Done() != nil {
		stopWatch := context.AfterFunc(ctx, l.Stop)
		defer stopWatch()
	}
	for !l.stopped.Swap(false) {
		err := l.iterate(-1)
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// RunOnce runs a single iteration, waiting at most timeout for events.
// A negative timeout waits until the next event or timer.
func (l *Loop) RunOnce(timeout time.Duration) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)
	return l.iterate(timeout)
}

func (l *Loop) iterate(timeout time.Duration) error {
	l.access.Lock()
	closed := l.closed
	l.access.Unlock()
	if closed {
		return ErrClosed
	}
	l.now = time.Now()
	l.runPosted()
	wait := timeout
	if deadline, loaded := l.timers.nextDeadline(); loaded {
		until := deadline.Sub(l.now)
		if until < 0 {
			until = 0
		}
		if wait < 0 || until < wait {
			wait = until
		}
	}
	if l.hasPosted() {
		wait = 0
	}
	n, err := l.poller.wait(l.events, wait)
	if err != nil {
		return E.Cause(err, "poll")
	}
	l.now = time.Now()
	for i := 0; i < n; i++ {
		l.dispatch(l.events[i])
	}
	l.runPosted()
	l.runTimers()
	return nil
}

func (l *Loop) dispatch(event pollEvent) {
	entry, loaded := l.registrationToEntry[event.registrationID]
	if !loaded {
		return
	}
	ready := event.events
	if ready&EventError != 0 {
		ready |= EventRead | EventWrite
	}
	watchers := make([]*IOWatcher, len(entry.watchers))
	copy(watchers, entry.watchers)
	for _, watcher := range watchers {
		if watcher.entry != entry || watcher.events&ready == 0 {
			continue
		}
		watcher.callback(ready & (watcher.events | EventError))
	}
}

func (l *Loop) hasPosted() bool {
	l.access.Lock()
	defer l.access.Unlock()
	return len(l.posted) > 0
}

func (l *Loop) runPosted() {
	l.access.Lock()
	posted := l.posted
	l.posted = nil
	l.access.Unlock()
	for _, f := range posted {
		f()
	}
}

func (l *Loop) startIO(watcher *IOWatcher) error {
	entry := l.entries[watcher.fd]
	if entry == nil {
		l.registrationCounter++
		entry = &fdEntry{
			fd:             watcher.fd,
			registrationID: l.registrationCounter,
		}
	}
	mask := entry.mask | watcher.events
	if mask != entry.mask {
		var err error
		if entry.mask == 0 {
			err = l.poller.add(entry.fd, entry.registrationID, mask)
		} else {
			err = l.poller.modify(entry.fd, entry.registrationID, mask)
		}
		if err != nil {
			return err
		}
		entry.mask = mask
	}
	if len(entry.watchers) == 0 {
		l.entries[entry.fd] = entry
		l.registrationToEntry[entry.registrationID] = entry
	}
	entry.watchers = append(entry.watchers, watcher)
	watcher.entry = entry
	return nil
}

func (l *Loop) stopIO(watcher *IOWatcher) {
	entry := watcher.entry
	watcher.entry = nil
	for index, it := range entry.watchers {
		if it == watcher {
			entry.watchers = append(entry.watchers[:index], entry.watchers[index+1:]...)
			break
		}
	}
	if len(entry.watchers) == 0 {
		// the descriptor may already be closed, which removed it from the poller
		_ = l.poller.remove(entry.fd)
		delete(l.entries, entry.fd)
		delete(l.registrationToEntry, entry.registrationID)
		return
	}
	var mask Events
	for _, it := range entry.watchers {
		mask |= it.events
	}
	if mask != entry.mask {
		err := l.poller.modify(entry.fd, entry.registrationID, mask)
		if err != nil {
			l.logger.Debug("modify fd ", entry.fd, ": ", err)
		}
		entry.mask = mask
	}
}

// Close releases the poller. Watchers still registered are dropped without
// their callbacks being invoked.
func (l *Loop) Close() error {
	l.access.Lock()
	if l.closed {
		l.access.Unlock()
		return nil
	}
	l.closed = true
	l.posted = nil
	err := l.poller.close()
	l.access.Unlock()
	for _, entry := range l.entries {
		for _, watcher := range entry.watchers {
			watcher.entry = nil
		}
	}
	for l.timers.Len() > 0 {
		l.timers.pop().loop = nil
	}
	l.entries = make(map[int]*fdEntry)
	l.registrationToEntry = make(map[uint64]*fdEntry)
	return err
}
