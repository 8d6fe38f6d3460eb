// Package irq is the interrupt contract shared by drivers and the CPU they run
// on. It mirrors TinyGo's runtime/interrupt: a mask that returns the
// previous state, and vectors with run-to-completion handlers.
package irq

// Vector is an interrupt vector number.
type Vector uint8

// Handler runs in interrupt context. It must not block, allocate on the hot
// path or call Controller.Disable.
type Handler func()

// State is the global interrupt state returned by Disable.
type State uint8

const (
	// StateEnabled means interrupts were enabled before Disable.
	StateEnabled State = iota
	// StateMasked means interrupts were already masked.
	StateMasked
)

// Controller masks interrupts and dispatches vectors.
//
// Disable opens a masked section that lasts until Restore; no handler runs
// inside it and sections do not nest. The returned State records whether
// interrupts were globally enabled when the section opened. A handler is
// never preempted by another handler of the same controller.
type Controller interface {
	Disable() State
	Restore(State)
	// Enabled reports the global interrupt enable flag. While it is clear
	// nothing is dispatched and waiting code must poll the flags itself.
	Enabled() bool
	// Attach installs h on v, replacing any previous handler.
	Attach(v Vector, h Handler)
}

// Critical runs fn with interrupts masked.
func Critical(c Controller, fn func()) {
	s := c.Disable()
	defer c.Restore(s)
	fn()
}
