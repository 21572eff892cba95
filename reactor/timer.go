package reactor

import (
	"container/heap"
	"time"
)

// Timer is a one-shot timer that runs its callback on the loop goroutine.
type Timer struct {
	callback func()
	when     time.Time
	index    int
	loop     *Loop
}

func NewTimer(callback func()) *Timer {
	return &Timer{callback: callback, index: -1}
}

func (t *Timer) Active() bool {
	return t.loop != nil
}

func (t *Timer) Deadline() time.Time {
	return t.when
}

// Start arms the timer to fire after d, measured from loop.Now(). Starting
// an active timer moves its deadline.
func (t *Timer) Start(loop *Loop, d time.Duration) {
	if t.Active() && t.loop != loop {
		t.Stop()
	}
	t.when = loop.Now().Add(d)
	if t.Active() {
		heap.Fix(&loop.timers, t.index)
		return
	}
	t.loop = loop
	heap.Push(&loop.timers, t)
}

func (t *Timer) Stop() {
	if !t.Active() {
		return
	}
	if t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
	}
	t.loop = nil
}

func (l *Loop) runTimers() {
	for l.timers.Len() > 0 {
		next := l.timers[0]
		if next.when.After(l.now) {
			return
		}
		l.timers.pop().loop = nil
		next.callback()
	}
}

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	timer := x.(*Timer)
	timer.index = len(*h)
	*h = append(*h, timer)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	timer := old[n-1]
	old[n-1] = nil
	timer.index = -1
	*h = old[:n-1]
	return timer
}

func (h *timerHeap) pop() *Timer {
	return heap.Pop(h).(*Timer)
}

func (h timerHeap) nextDeadline() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].when, true
}
