// uartx/uartx.go

// Package uartx is an interrupt-driven driver for the megaAVR-0 / tinyAVR
// USART. Each channel owns a software RX ring filled by the receive-complete
// handler and a TX ring drained by the data-register-empty handler. The
// foreground never blocks on a scheduler: Write waits for ring space by
// polling, Flush and End poll until the transmitter is idle. RX overflow
// drops the newest byte; TX overflow blocks the caller and never drops.
package uartx

import (
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/atomic"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"

	"github.com/jangala-dev/avr-uartx/device"
	"github.com/jangala-dev/avr-uartx/irq"
	"github.com/jangala-dev/avr-uartx/usart"
)

var (
	// ErrDisabled is returned by I/O on a channel that is not begun.
	ErrDisabled = errors.New("uartx: channel not enabled")
	// ErrBufferEmpty is returned by ReadByte when nothing is buffered.
	ErrBufferEmpty = errors.New("uartx: UART buffer empty")
	// ErrDirection is returned for writes on an RX-only channel.
	ErrDirection = errors.New("uartx: transmitter not enabled")
	// ErrConfig is returned for an incomplete channel Config.
	ErrConfig = errors.New("uartx: invalid channel config")
)

// Flusher is implemented by types that can flush buffered output to the
// underlying device.
type Flusher interface{ Flush() error }

// Channel state bits. Only the foreground writes state; handlers read it.
const (
	stateEnabled uint32 = 1 << iota
	stateHalfDuplex
	stateWritten // a byte was written since Begin
	stateRX
	stateTX
)

// Config wires one channel to its hardware unit.
type Config struct {
	Name       string // Serial, Serial1, ...
	Unit       int    // USART index
	Bus        usart.Bus
	Interrupts irq.Controller
	Vectors    device.Vectors
	Clock      physic.Frequency
	RXBuffer   int // power of two
	TXBuffer   int // power of two

	PinSets       []device.PinSet
	DefaultPinSet uint8
	// Pin resolves pin names; nil uses gpioreg.ByName.
	Pin    func(name string) gpio.PinIO
	Router Router
}

// UART is one serial channel.
//
// Invariants:
//   - Buffer's producer is the RXC handler, its consumer the foreground.
//   - TxBuffer's producer is the foreground, its consumer the DRE handler.
//   - The foreground modifies CTRLA/CTRLB only with interrupts masked.
//   - DREIE is set only while TxBuffer is non-empty (or a handler is about to
//     notice it is empty and clear it).
type UART struct {
	Buffer   *RingBuffer // RX ring
	TxBuffer *RingBuffer // TX ring

	name    string
	unit    int
	bus     usart.Bus
	irq     irq.Controller
	vectors device.Vectors
	clock   physic.Frequency

	pinSets []device.PinSet
	pinSet  uint8
	pin     func(name string) gpio.PinIO
	router  Router
	active  routedPins

	state    atomic.Uint32
	suppress atomic.Bool // half duplex: RX ignored while our own frames are on the wire
	options  Options
	mode     Mode
	div      divisor

	lineErr atomic.Uint32
	stats   counters

	notify   chan struct{} // coalesced RX readiness
	txNotify chan struct{} // coalesced TX space/drain
}

// New builds a disabled channel and attaches its interrupt handlers.
func New(cfg Config) (*UART, error) {
	if cfg.Bus == nil || cfg.Interrupts == nil {
		return nil, fmt.Errorf("%w: %s needs a bus and an interrupt controller", ErrConfig, cfg.Name)
	}
	if cfg.Clock <= 0 {
		return nil, fmt.Errorf("%w: %s has no clock", ErrConfig, cfg.Name)
	}
	if len(cfg.PinSets) == 0 || int(cfg.DefaultPinSet) >= len(cfg.PinSets) {
		return nil, fmt.Errorf("%w: %s pin sets", ErrConfig, cfg.Name)
	}
	rx, err := NewRingBuffer(cfg.RXBuffer)
	if err != nil {
		return nil, fmt.Errorf("%s RX: %w", cfg.Name, err)
	}
	tx, err := NewRingBuffer(cfg.TXBuffer)
	if err != nil {
		return nil, fmt.Errorf("%s TX: %w", cfg.Name, err)
	}
	u := &UART{
		Buffer:   rx,
		TxBuffer: tx,
		name:     cfg.Name,
		unit:     cfg.Unit,
		bus:      cfg.Bus,
		irq:      cfg.Interrupts,
		vectors:  cfg.Vectors,
		clock:    cfg.Clock,
		pinSets:  cfg.PinSets,
		pinSet:   cfg.DefaultPinSet,
		pin:      cfg.Pin,
		router:   cfg.Router,
		notify:   make(chan struct{}, 1),
		txNotify: make(chan struct{}, 1),
	}
	if u.pin == nil {
		u.pin = gpioreg.ByName
	}
	u.irq.Attach(cfg.Vectors.RXC, u.handleReceiveComplete)
	u.irq.Attach(cfg.Vectors.DRE, u.handleDataRegisterEmpty)
	u.irq.Attach(cfg.Vectors.TXC, u.handleTransmitComplete)
	return u, nil
}

// Name returns the channel name, such as "Serial1".
func (u *UART) Name() string { return u.name }

// Unit returns the USART index the channel drives.
func (u *UART) Unit() int { return u.unit }

// Bus exposes the register block, for diagnostics only.
func (u *UART) Bus() usart.Bus { return u.bus }

// Enabled reports whether Begin has run and End has not.
func (u *UART) Enabled() bool { return u.state.Load()&stateEnabled != 0 }

// HalfDuplex reports whether the channel runs TX and RX on one wire.
func (u *UART) HalfDuplex() bool { return u.state.Load()&stateHalfDuplex != 0 }

// Options returns the options of the last successful Begin.
func (u *UART) Options() Options { return u.options }

// ActualBaud returns the rate produced by the programmed divisor.
func (u *UART) ActualBaud() uint32 { return u.div.rate(u.clock, u.mode) }

// Begin configures the unit for baud and opts and enables it. Invalid
// options or a pin set that cannot serve them return an error before any
// register is touched. A rate out of range is clamped. Begin on an enabled
// channel drains and ends it first.
func (u *UART) Begin(baud uint32, opts Options) error {
	f, err := opts.parse()
	if err != nil {
		return err
	}
	if baud == 0 {
		baud = DefaultBaud
	}
	pins, err := u.resolvePins(f)
	if err != nil {
		return err
	}
	if u.Enabled() {
		u.End()
	}
	div := baudDivisor(u.clock, baud, f.mode)

	// 1) Route and drive pins before the unit owns them.
	if u.router != nil {
		if err := u.router.Route(u.unit, u.pinSet); err != nil {
			return fmt.Errorf("%w: %s route %d: %v", ErrPinSet, u.name, u.pinSet, err)
		}
	}
	if err := applyPins(pins, f); err != nil {
		releasePins(pins)
		return fmt.Errorf("%w: %s: %v", ErrPinSet, u.name, err)
	}

	ctrlA := f.ctrlA
	if f.rx {
		ctrlA |= usart.CTRLA_RXCIE
	}
	ctrlB := f.ctrlB
	if div.clk2x {
		ctrlB |= usart.CTRLB_RXMODE_CLK2X
	}
	st := stateEnabled
	if f.half {
		st |= stateHalfDuplex
	}
	if f.rx {
		st |= stateRX
	}
	if f.tx {
		st |= stateTX
	}

	// 2) Program the unit with interrupts masked so no handler sees a
	// half-configured channel.
	s := u.irq.Disable()
	u.bus.Set(usart.CTRLB, 0)
	u.bus.Set(usart.CTRLA, 0)
	u.bus.Set(usart.STATUS, usart.STATUS_TXCIF|usart.STATUS_RXSIF|usart.STATUS_ISFIF|usart.STATUS_BDF)
	for usart.HasBits(u.bus, usart.STATUS, usart.STATUS_RXCIF) {
		_ = u.bus.Get(usart.RXDATAL)
	}
	u.Buffer.Clear()
	u.TxBuffer.Clear()
	u.lineErr.Store(0)
	usart.SetBaud(u.bus, div.reg)
	u.bus.Set(usart.CTRLC, f.ctrlC)
	u.bus.Set(usart.EVCTRL, f.evctrl)
	u.bus.Set(usart.CTRLA, ctrlA)
	u.bus.Set(usart.CTRLB, ctrlB)
	u.active = pins
	u.options = opts
	u.mode = f.mode
	u.div = div
	u.suppress.Store(false)
	u.state.Store(st)
	u.irq.Restore(s)

	// 3) The TX ring starts empty: prime a "writable" wake.
	signal(u.txNotify)
	return nil
}

// End waits until every written byte has left the shift register, then
// disables the unit and its interrupts, drops buffered RX and releases the
// pins to inputs. Blocked readers return ErrDisabled.
func (u *UART) End() {
	if !u.Enabled() {
		return
	}
	_ = u.Flush()

	s := u.irq.Disable()
	usart.ClearBits(u.bus, usart.CTRLA, usart.CTRLA_RXCIE|usart.CTRLA_DREIE|usart.CTRLA_TXCIE)
	usart.ClearBits(u.bus, usart.CTRLB, usart.CTRLB_RXEN|usart.CTRLB_TXEN)
	u.bus.Set(usart.EVCTRL, 0)
	u.bus.Set(usart.STATUS, usart.STATUS_TXCIF)
	u.Buffer.Clear()
	u.TxBuffer.Clear()
	u.suppress.Store(false)
	u.state.Store(0)
	u.irq.Restore(s)

	releasePins(u.active)
	u.active = routedPins{}
	signal(u.notify)
	signal(u.txNotify)
}

// --- TX ---

// tryWriteByte queues c without waiting. It returns false when the TX ring
// is full.
func (u *UART) tryWriteByte(c byte) bool {
	s := u.irq.Disable()
	defer u.irq.Restore(s)
	// Fast path: idle transmitter takes the byte directly.
	if u.TxBuffer.Empty() && usart.HasBits(u.bus, usart.STATUS, usart.STATUS_DREIF) {
		u.startFrame()
		u.bus.Set(usart.STATUS, usart.STATUS_TXCIF)
		u.bus.Set(usart.TXDATAL, c)
		u.stats.txBytes.Inc()
		return true
	}
	if !u.TxBuffer.Put(c) {
		return false
	}
	u.startFrame()
	usart.SetBits(u.bus, usart.CTRLA, usart.CTRLA_DREIE)
	return true
}

// startFrame turns the line around for transmission in half-duplex mode:
// receiver off, and TXC armed to turn it back on. Interrupts must be masked.
func (u *UART) startFrame() {
	if u.state.Load()&stateHalfDuplex == 0 {
		return
	}
	u.suppress.Store(true)
	usart.ClearBits(u.bus, usart.CTRLB, usart.CTRLB_RXEN)
	usart.SetBits(u.bus, usart.CTRLA, usart.CTRLA_TXCIE)
}

// pollDataRegisterEmpty lets the transmitter make progress from a
// foreground wait loop. With interrupts enabled the DRE handler does the
// work; with them globally off it is run here, in a masked section, when
// DREIF is set.
func (u *UART) pollDataRegisterEmpty() {
	if u.irq.Enabled() {
		runtime.Gosched()
		return
	}
	s := u.irq.Disable()
	if usart.HasBits(u.bus, usart.CTRLA, usart.CTRLA_DREIE) &&
		usart.HasBits(u.bus, usart.STATUS, usart.STATUS_DREIF) {
		u.handleDataRegisterEmpty()
	}
	u.irq.Restore(s)
}

func (u *UART) canWrite() error {
	st := u.state.Load()
	if st&stateEnabled == 0 {
		return ErrDisabled
	}
	if st&stateTX == 0 {
		return ErrDirection
	}
	return nil
}

func (u *UART) markWritten() {
	// Foreground is the only writer of state.
	if st := u.state.Load(); st&stateWritten == 0 {
		u.state.Store(st | stateWritten)
	}
}

// WriteByte queues one byte. When the TX ring is full it busy-waits for the
// handler to free a slot; bytes are never dropped.
func (u *UART) WriteByte(c byte) error {
	if err := u.canWrite(); err != nil {
		return err
	}
	u.markWritten()
	if u.tryWriteByte(c) {
		return nil
	}
	u.stats.txWaits.Inc()
	for !u.tryWriteByte(c) {
		u.pollDataRegisterEmpty()
	}
	return nil
}

// Write implements io.Writer. It returns once every byte of p is queued; it
// does not wait for them to reach the wire, use Flush for that.
func (u *UART) Write(p []byte) (int, error) {
	for i, c := range p {
		if err := u.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// WriteString writes s like Write.
func (u *UART) WriteString(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		if err := u.WriteByte(s[i]); err != nil {
			return i, err
		}
	}
	return len(s), nil
}

// Writev writes the provided buffers in sequence with the same blocking
// behaviour as Write.
func (u *UART) Writev(bufs ...[]byte) (int, error) {
	sent := 0
	for _, p := range bufs {
		n, err := u.Write(p)
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// TryWrite queues as much of p as fits without waiting and returns the
// count. 0 means "no space now" (or a disabled channel).
func (u *UART) TryWrite(p []byte) int {
	if u.canWrite() != nil || len(p) == 0 {
		return 0
	}
	u.markWritten()
	n := 0
	for n < len(p) && u.tryWriteByte(p[n]) {
		n++
	}
	return n
}

// AvailableForWrite returns the free slots in the TX ring.
func (u *UART) AvailableForWrite() int {
	if !u.Enabled() {
		return 0
	}
	return u.TxBuffer.Free()
}

// Flush busy-waits until every written byte has been shifted out: the ring
// is empty, DREIE is off and the hardware reports transmit complete. It
// returns at once if nothing was written since Begin.
func (u *UART) Flush() error {
	for !u.idle() {
		u.pollDataRegisterEmpty()
	}
	return nil
}

// idle reports that nothing written since Begin is still in flight.
func (u *UART) idle() bool {
	st := u.state.Load()
	if st&stateEnabled == 0 || st&stateWritten == 0 {
		return true
	}
	return !usart.HasBits(u.bus, usart.CTRLA, usart.CTRLA_DREIE) &&
		usart.HasBits(u.bus, usart.STATUS, usart.STATUS_TXCIF)
}

// --- RX ---

// Available returns the number of bytes ready to read.
func (u *UART) Available() int {
	if !u.Enabled() {
		return 0
	}
	return u.Buffer.Used()
}

// Buffered is Available, named as in machine.UART.
func (u *UART) Buffered() int { return u.Available() }

// Peek returns the next byte without consuming it.
func (u *UART) Peek() (byte, bool) {
	if !u.Enabled() {
		return 0, false
	}
	return u.Buffer.Peek()
}

// ReadByte consumes the next byte. It returns ErrBufferEmpty when there is
// none and ErrDisabled on a channel that is not begun.
func (u *UART) ReadByte() (byte, error) {
	if !u.Enabled() {
		return 0, ErrDisabled
	}
	b, ok := u.Buffer.Get()
	if !ok {
		return 0, ErrBufferEmpty
	}
	return b, nil
}

// Read copies up to len(p) buffered bytes without waiting, matching
// machine.UART: an empty buffer yields 0, nil.
func (u *UART) Read(p []byte) (int, error) {
	if !u.Enabled() {
		return 0, ErrDisabled
	}
	return u.TryRead(p), nil
}

// TryRead returns immediately with up to len(p) bytes copied from the RX
// ring. A return value of 0 means "no data now".
func (u *UART) TryRead(p []byte) int {
	n := 0
	for n < len(p) {
		b, ok := u.Buffer.Get()
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n
}

// LineErrors returns and clears the receive error flags latched by the RX
// handler since the last call.
func (u *UART) LineErrors() LineError {
	return LineError(u.lineErr.Swap(0))
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
