package stream

import (
	"time"

	"github.com/sagernet/oi/reactor"
)

// idleTimer restarts a one-shot loop timer on activity. A zero duration
// disables it.
type idleTimer struct {
	duration time.Duration
	timer    *reactor.Timer
	loop     *reactor.Loop
}

func newIdleTimer(duration time.Duration, callback func()) idleTimer {
	return idleTimer{
		duration: duration,
		timer:    reactor.NewTimer(callback),
	}
}

func (t *idleTimer) attach(loop *reactor.Loop) {
	t.loop = loop
}

func (t *idleTimer) detach() {
	t.timer.Stop()
	t.loop = nil
}

func (t *idleTimer) reset() {
	if t.duration <= 0 || t.loop == nil {
		return
	}
	t.timer.Start(t.loop, t.duration)
}

func (t *idleTimer) stop() {
	t.timer.Stop()
}
