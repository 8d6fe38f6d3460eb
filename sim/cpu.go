// Package sim is a software model of the parts of a tinyAVR that the USART
// driver touches: the interrupt controller, USART register blocks, port pins
// and PORTMUX. It runs on the host so the driver and its interrupt handlers
// can be exercised with real concurrency.
package sim

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/exp/slices"

	"github.com/jangala-dev/avr-uartx/irq"
)

// maxDispatch bounds one Service round so a line that never clears cannot
// starve the caller.
const maxDispatch = 1024

type line struct {
	vec    irq.Vector
	active func() bool
}

// CPU implements irq.Controller.
//
// mu is the interrupt mask: a masked section holds it and so does every
// handler while it runs. gie is the global interrupt enable (SREG.I); while
// it is clear nothing is dispatched. Interrupt lines are level triggered: a
// handler runs for as long as its line reports active.
type CPU struct {
	mu  sync.Mutex
	gie atomic.Bool

	pmu      sync.Mutex // guards handlers and lines; taken inside mu
	handlers map[irq.Vector]irq.Handler
	lines    []line

	wake chan struct{}

	dispatched atomic.Uint64
}

// NewCPU returns a CPU with interrupts globally enabled.
func NewCPU() *CPU {
	c := &CPU{
		handlers: make(map[irq.Vector]irq.Handler),
		wake:     make(chan struct{}, 1),
	}
	c.gie.Store(true)
	return c
}

// Disable opens a masked section. It blocks while a handler runs.
func (c *CPU) Disable() irq.State {
	c.mu.Lock()
	if c.gie.Load() {
		return irq.StateEnabled
	}
	return irq.StateMasked
}

// Restore closes the section opened by Disable.
func (c *CPU) Restore(s irq.State) {
	c.mu.Unlock()
	if s == irq.StateEnabled {
		c.Wake()
	}
}

// Enabled reports the global interrupt enable flag.
func (c *CPU) Enabled() bool { return c.gie.Load() }

// SetInterrupts sets or clears the global interrupt enable flag, like the
// sei and cli instructions.
func (c *CPU) SetInterrupts(on bool) {
	c.gie.Store(on)
	if on {
		c.Wake()
	}
}

// Attach installs h on v.
func (c *CPU) Attach(v irq.Vector, h irq.Handler) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	if h == nil {
		delete(c.handlers, v)
		return
	}
	c.handlers[v] = h
}

// Line connects a level-triggered interrupt source to v. active is called
// with the mask held and must not call back into the CPU.
func (c *CPU) Line(v irq.Vector, active func() bool) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	c.lines = append(c.lines, line{vec: v, active: active})
	slices.SortStableFunc(c.lines, func(a, b line) bool { return a.vec < b.vec })
}

// Wake tells Run that an interrupt line may have changed. It never blocks.
func (c *CPU) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// next returns the handler of the lowest active vector, or nil. The mask
// must be held.
func (c *CPU) next() irq.Handler {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	for _, l := range c.lines {
		if h := c.handlers[l.vec]; h != nil && l.active() {
			return h
		}
	}
	return nil
}

// Service runs pending handlers, lowest vector first, until no line is
// active or interrupts are globally disabled. It returns how many handlers
// ran.
func (c *CPU) Service() int {
	n := 0
	for n < maxDispatch && c.gie.Load() {
		c.mu.Lock()
		if !c.gie.Load() {
			// Cleared while waiting for the mask.
			c.mu.Unlock()
			break
		}
		h := c.next()
		if h == nil {
			c.mu.Unlock()
			break
		}
		h()
		c.mu.Unlock()
		n++
	}
	if n == maxDispatch {
		c.Wake()
	}
	c.dispatched.Add(uint64(n))
	return n
}

// Dispatched returns the number of handler runs so far.
func (c *CPU) Dispatched() uint64 { return c.dispatched.Load() }

// Run services interrupts whenever a source wakes the CPU, until ctx is
// done.
func (c *CPU) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
			c.Service()
		}
	}
}

var _ irq.Controller = (*CPU)(nil)
