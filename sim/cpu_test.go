package sim

import (
	"context"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/jangala-dev/avr-uartx/irq"
)

func TestCPU_ServiceLowestVectorFirst(t *testing.T) {
	c := NewCPU()
	var order []irq.Vector
	pending := map[irq.Vector]bool{5: true, 3: true, 9: true}
	for v := range pending {
		v := v
		c.Line(v, func() bool { return pending[v] })
		c.Attach(v, func() {
			order = append(order, v)
			pending[v] = false
		})
	}
	if n := c.Service(); n != 3 {
		t.Fatalf("Service ran %d handlers; want 3", n)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 5 || order[2] != 9 {
		t.Fatalf("order %v; want [3 5 9]", order)
	}
}

func TestCPU_GlobalDisable(t *testing.T) {
	c := NewCPU()
	ran := 0
	active := true
	c.Line(1, func() bool { return active })
	c.Attach(1, func() { ran++; active = false })

	c.SetInterrupts(false)
	if c.Enabled() {
		t.Fatal("Enabled after SetInterrupts(false)")
	}
	if s := c.Disable(); s != irq.StateMasked {
		t.Fatalf("Disable state %v; want masked", s)
	} else {
		c.Restore(s)
	}
	if c.Service() != 0 || ran != 0 {
		t.Fatal("handler ran with interrupts off")
	}
	c.SetInterrupts(true)
	if c.Service() != 1 || ran != 1 {
		t.Fatal("handler did not run after SetInterrupts(true)")
	}
}

func TestCPU_DisableWhileWaitingForMask(t *testing.T) {
	c := NewCPU()
	var ran atomic.Int32
	c.Line(1, func() bool { return true })
	c.Attach(1, func() { ran.Inc() })

	s := c.Disable()
	done := make(chan int)
	go func() { done <- c.Service() }()
	time.Sleep(20 * time.Millisecond) // let Service block on the mask
	c.SetInterrupts(false)
	c.Restore(s)

	select {
	case n := <-done:
		if n != 0 || ran.Load() != 0 {
			t.Fatalf("Service ran %d handlers after interrupts were disabled", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Service did not return")
	}
}

func TestCPU_MaskedSectionBlocksHandlers(t *testing.T) {
	c := NewCPU()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	fired := make(chan struct{}, 1)
	var raised atomic.Bool
	c.Line(2, raised.Load)
	c.Attach(2, func() {
		raised.Store(false)
		fired <- struct{}{}
	})

	s := c.Disable()
	if s != irq.StateEnabled {
		t.Fatalf("Disable state %v; want enabled", s)
	}
	raised.Store(true)
	c.Wake()
	select {
	case <-fired:
		t.Fatal("handler ran inside a masked section")
	case <-time.After(20 * time.Millisecond):
	}
	c.Restore(s)
	select {
	case <-fired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("handler did not run after Restore")
	}
}

func TestCPU_StuckLineIsBounded(t *testing.T) {
	c := NewCPU()
	c.Line(1, func() bool { return true })
	c.Attach(1, func() {})
	if n := c.Service(); n != maxDispatch {
		t.Fatalf("Service ran %d; want %d", n, maxDispatch)
	}
}
