package uartx

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewRingBuffer_PowerOfTwo(t *testing.T) {
	for _, c := range []int{0, 1, 3, 10, 12, 100, 1<<16 + 1, 1 << 17} {
		if _, err := NewRingBuffer(c); !errors.Is(err, ErrCapacity) {
			t.Fatalf("NewRingBuffer(%d): err=%v; want ErrCapacity", c, err)
		}
	}
	for _, c := range []int{2, 4, 16, 64, 1 << 16} {
		rb, err := NewRingBuffer(c)
		if err != nil {
			t.Fatalf("NewRingBuffer(%d): %v", c, err)
		}
		if rb.Size() != c || rb.Free() != c-1 || !rb.Empty() {
			t.Fatalf("cap %d: size=%d free=%d empty=%v", c, rb.Size(), rb.Free(), rb.Empty())
		}
	}
}

func TestMustRingBuffer_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustRingBuffer(10) did not panic")
		}
	}()
	MustRingBuffer(10)
}

func TestRingBuffer_FIFO(t *testing.T) {
	rb := MustRingBuffer(16)
	want := []byte("0123456789abcde") // C-1 bytes
	for i, b := range want {
		if !rb.Put(b) {
			t.Fatalf("Put #%d failed", i)
		}
	}
	if !rb.Full() {
		t.Fatal("ring with C-1 bytes not full")
	}
	got := make([]byte, 0, len(want))
	for {
		b, ok := rb.Get()
		if !ok {
			break
		}
		got = append(got, b)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRingBuffer_FIFOAcrossWrap(t *testing.T) {
	rb := MustRingBuffer(4)
	next, expect := byte(0), byte(0)
	for round := 0; round < 50; round++ {
		for rb.Put(next) {
			next++
		}
		for i := 0; i < 2; i++ {
			b, ok := rb.Get()
			if !ok {
				t.Fatalf("round %d: Get on non-empty ring failed", round)
			}
			if b != expect {
				t.Fatalf("round %d: got %d want %d", round, b, expect)
			}
			expect++
		}
	}
}

func TestRingBuffer_PutFullLeavesContents(t *testing.T) {
	rb := MustRingBuffer(4)
	for _, b := range []byte{1, 2, 3} {
		rb.Put(b)
	}
	before := append([]byte(nil), rb.buf...)
	head, tail := rb.head.Load(), rb.tail.Load()

	if rb.Put(9) {
		t.Fatal("Put on full ring succeeded")
	}
	if !bytes.Equal(rb.buf, before) || rb.head.Load() != head || rb.tail.Load() != tail {
		t.Fatalf("full Put changed state: buf=%v head=%d tail=%d; want %v %d %d",
			rb.buf, rb.head.Load(), rb.tail.Load(), before, head, tail)
	}
}

func TestRingBuffer_GetEmptyDoesNotAdvance(t *testing.T) {
	rb := MustRingBuffer(8)
	rb.Put(7)
	rb.Get()
	tail := rb.tail.Load()
	if b, ok := rb.Get(); ok || b != 0 {
		t.Fatalf("Get on empty: got %d,%v; want 0,false", b, ok)
	}
	if rb.tail.Load() != tail {
		t.Fatalf("tail moved from %d to %d", tail, rb.tail.Load())
	}
	if _, ok := rb.Peek(); ok {
		t.Fatal("Peek on empty returned a byte")
	}
}

func TestRingBuffer_UsedIsPutsMinusGets(t *testing.T) {
	rb := MustRingBuffer(32)
	puts, gets := 0, 0
	// Deterministic interleaving that wraps several times.
	for i := 0; i < 500; i++ {
		if i%3 != 2 {
			if rb.Put(byte(i)) {
				puts++
			}
		} else if _, ok := rb.Get(); ok {
			gets++
		}
		if got := rb.Used(); got != puts-gets {
			t.Fatalf("step %d: Used=%d want %d", i, got, puts-gets)
		}
		if got := rb.Free(); got != rb.Size()-1-(puts-gets) {
			t.Fatalf("step %d: Free=%d want %d", i, got, rb.Size()-1-(puts-gets))
		}
	}
}

func TestRingBuffer_PeekClearDiscard(t *testing.T) {
	rb := MustRingBuffer(8)
	rb.Put('a')
	rb.Put('b')
	if b, ok := rb.Peek(); !ok || b != 'a' || rb.Used() != 2 {
		t.Fatalf("Peek: got %q,%v used=%d", b, ok, rb.Used())
	}
	rb.Discard()
	if !rb.Empty() {
		t.Fatal("not empty after Discard")
	}
	rb.Put('c')
	rb.Clear()
	if !rb.Empty() || rb.head.Load() != 0 || rb.tail.Load() != 0 {
		t.Fatal("Clear did not reset indices")
	}
}

func TestRingBuffer_ConcurrentSPSC(t *testing.T) {
	rb := MustRingBuffer(16)
	const n = 20000
	done := make(chan []byte)
	go func() {
		got := make([]byte, 0, n)
		for len(got) < n {
			if b, ok := rb.Get(); ok {
				got = append(got, b)
			}
		}
		done <- got
	}()
	for i := 0; i < n; {
		if rb.Put(byte(i * 7)) {
			i++
		}
	}
	got := <-done
	for i, b := range got {
		if b != byte(i*7) {
			t.Fatalf("byte %d: got %d want %d", i, b, byte(i*7))
		}
	}
}
