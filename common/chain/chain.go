// Package chain implements the outbound write queue of a stream socket: an
// ordered sequence of caller owned byte spans with partial progress tracking
// and a release obligation per span.
package chain

import (
	"github.com/eapache/queue"
)

// Request is one caller supplied span to transmit. Data is referenced, not
// copied, and must stay valid until Release is called.
type Request struct {
	Data []byte
	// Release is called exactly once, with sent=true after the last byte was
	// written or sent=false when the owning socket abandons the request.
	Release func(request *Request, sent bool)
	Tag     any

	written  int
	released bool
	queued   bool
}

func NewRequest(data []byte, release func(request *Request, sent bool)) *Request {
	return &Request{Data: data, Release: release}
}

func (r *Request) Written() int {
	return r.written
}

// Pending returns the part of Data that has not been written yet.
func (r *Request) Pending() []byte {
	return r.Data[r.written:]
}

func (r *Request) Done() bool {
	return r.written >= len(r.Data)
}

func (r *Request) release(sent bool) {
	if r.released {
		return
	}
	r.released = true
	r.queued = false
	if r.Release != nil {
		r.Release(r, sent)
	}
}

type Chain struct {
	requests *queue.Queue
	buffered int
}

func New() *Chain {
	return &Chain{requests: queue.New()}
}

// Push appends request to the tail. A request that is already queued is
// rejected. A released request may be pushed again and is sent from its
// beginning, with a new release obligation.
func (c *Chain) Push(request *Request) bool {
	if request == nil || request.queued {
		return false
	}
	if request.released {
		request.released = false
		request.written = 0
	}
	request.queued = true
	c.requests.Add(request)
	c.buffered += len(request.Data) - request.written
	return true
}

func (c *Chain) Head() *Request {
	if c.requests.Length() == 0 {
		return nil
	}
	return c.requests.Peek().(*Request)
}

func (c *Chain) Len() int {
	return c.requests.Length()
}

func (c *Chain) IsEmpty() bool {
	return c.requests.Length() == 0
}

// Buffered returns the number of bytes queued and not yet written.
func (c *Chain) Buffered() int {
	return c.buffered
}

// Advance records n bytes written from the head request. A completed head
// is popped and released before Advance returns, so the release callback
// may push new requests.
func (c *Chain) Advance(n int) {
	head := c.Head()
	if head == nil || n <= 0 {
		return
	}
	if remaining := len(head.Data) - head.written; n > remaining {
		n = remaining
	}
	head.written += n
	c.buffered -= n
	if head.Done() {
		c.requests.Remove()
		head.release(true)
	}
}

// PopEmpty releases zero length requests found at the head.
func (c *Chain) PopEmpty() {
	for head := c.Head(); head != nil && head.Done(); head = c.Head() {
		c.requests.Remove()
		c.buffered -= len(head.Data) - head.written
		head.release(true)
	}
}

// Abandon releases every queued request without transmitting it and
// returns how many were dropped.
func (c *Chain) Abandon() int {
	var count int
	for c.requests.Length() > 0 {
		request := c.requests.Remove().(*Request)
		c.buffered -= len(request.Data) - request.written
		request.release(false)
		count++
	}
	return count
}
