package buf

// Inspired by https://github.com/xtaci/smux/blob/master/alloc.go

import (
	"math/bits"
	"sync"

	E "github.com/sagernet/oi/common/exceptions"
)

const (
	minClassBits = 6
	maxClassBits = 16
	MaxSize      = 1 << maxClassBits
)

var DefaultAllocator = newDefaultAllocator()

type Allocator interface {
	Get(size int) []byte
	Put(buf []byte) error
}

// defaultAllocator hands out power-of-two sized slices from 64B to 64KiB,
// so the waste of a single allocation is no more than 50%.
type defaultAllocator struct {
	buffers [maxClassBits - minClassBits + 1]sync.Pool
}

func newDefaultAllocator() Allocator {
	alloc := new(defaultAllocator)
	for index := range alloc.buffers {
		size := 1 << (index + minClassBits)
		alloc.buffers[index].New = func() any {
			buffer := make([]byte, size)
			return &buffer
		}
	}
	return alloc
}

// Get returns a slice of length size. Sizes above MaxSize are allocated
// directly and rejected again by Put.
func (alloc *defaultAllocator) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	if size > MaxSize {
		return make([]byte, size)
	}
	index := classIndex(size)
	buffer := alloc.buffers[index].Get().(*[]byte)
	return (*buffer)[:size]
}

// Put returns a slice obtained from Get, the cap must be exactly 2^n.
func (alloc *defaultAllocator) Put(buf []byte) error {
	capacity := cap(buf)
	if capacity < 1<<minClassBits || capacity > MaxSize || capacity&(capacity-1) != 0 {
		return E.New("allocator: incorrect buffer size ", capacity)
	}
	buf = buf[:capacity]
	alloc.buffers[msb(capacity)-minClassBits].Put(&buf)
	return nil
}

func classIndex(size int) int {
	if size <= 1<<minClassBits {
		return 0
	}
	index := msb(size)
	if size != 1<<index {
		index++
	}
	return index - minClassBits
}

// msb return the pos of most significant bit
func msb(size int) int {
	return bits.Len32(uint32(size)) - 1
}

func Get(size int) []byte {
	return DefaultAllocator.Get(size)
}

// Put recycles buf, silently dropping slices the allocator did not produce.
func Put(buf []byte) {
	_ = DefaultAllocator.Put(buf)
}

// Clone copies data into a slice obtained from Get.
func Clone(data []byte) []byte {
	buffer := Get(len(data))
	copy(buffer, data)
	return buffer
}
