// uartx/ringbuffer.go

package uartx

import (
	"errors"
	"fmt"

	"go.uber.org/atomic"
)

// ErrCapacity is returned for ring capacities that are not a power of two.
var ErrCapacity = errors.New("uartx: ring capacity must be a power of two >= 2")

// RingBuffer is a single-producer/single-consumer byte ring shared between an
// interrupt handler and the foreground.
//
// head is written only by the producer and tail only by the consumer. One
// slot is kept free so that head == tail means empty and head+1 == tail means
// full without a shared counter; a ring of capacity C holds C-1 bytes.
// Indices are 32-bit atomics, so the side that does not own an index can read
// it without masking interrupts.
type RingBuffer struct {
	buf  []byte
	mask uint32
	head atomic.Uint32
	tail atomic.Uint32
}

// NewRingBuffer returns an empty ring. capacity must be a power of two.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity < 2 || capacity > 1<<16 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrCapacity, capacity)
	}
	return &RingBuffer{
		buf:  make([]byte, capacity),
		mask: uint32(capacity - 1),
	}, nil
}

// MustRingBuffer is NewRingBuffer for static tables; it panics on error.
func MustRingBuffer(capacity int) *RingBuffer {
	rb, err := NewRingBuffer(capacity)
	if err != nil {
		panic(err)
	}
	return rb
}

// Size returns the capacity C. At most C-1 bytes are stored.
func (rb *RingBuffer) Size() int { return len(rb.buf) }

// Used returns how many bytes are buffered.
func (rb *RingBuffer) Used() int {
	return int((rb.head.Load() - rb.tail.Load()) & rb.mask)
}

// Free returns how many more bytes Put will accept.
func (rb *RingBuffer) Free() int { return int(rb.mask) - rb.Used() }

// Empty reports head == tail.
func (rb *RingBuffer) Empty() bool { return rb.head.Load() == rb.tail.Load() }

// Full reports that the next Put would fail.
func (rb *RingBuffer) Full() bool {
	return (rb.head.Load()+1)&rb.mask == rb.tail.Load()
}

// Put stores a byte. It returns false, leaving the contents untouched, when
// the ring is full. Producer side only.
func (rb *RingBuffer) Put(val byte) bool {
	h := rb.head.Load()
	next := (h + 1) & rb.mask
	if next == rb.tail.Load() {
		return false
	}
	rb.buf[h] = val     // 1) write data
	rb.head.Store(next) // 2) publish
	return true
}

// Get removes the oldest byte. It returns (0, false) when empty. Consumer
// side only.
func (rb *RingBuffer) Get() (byte, bool) {
	t := rb.tail.Load()
	if t == rb.head.Load() { // 1) observe the producer's publish
		return 0, false
	}
	v := rb.buf[t]                   // 2) read the slot
	rb.tail.Store((t + 1) & rb.mask) // 3) release it
	return v, true
}

// Peek returns the oldest byte without removing it. Consumer side only.
func (rb *RingBuffer) Peek() (byte, bool) {
	t := rb.tail.Load()
	if t == rb.head.Load() {
		return 0, false
	}
	return rb.buf[t], true
}

// Clear empties the ring. Neither side may be active concurrently.
func (rb *RingBuffer) Clear() {
	rb.head.Store(0)
	rb.tail.Store(0)
}

// Discard drops everything currently buffered. Consumer side only.
func (rb *RingBuffer) Discard() {
	rb.tail.Store(rb.head.Load())
}
