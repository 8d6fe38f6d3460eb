package sim

import (
	"context"
	"sync"
	"time"

	"github.com/jangala-dev/avr-uartx/device"
	"github.com/jangala-dev/avr-uartx/usart"
)

// rxDepth is the hardware receive FIFO depth.
const rxDepth = 2

type rxFrame struct {
	data  uint8
	flags uint8 // RXDATAH error bits
}

// USART models one USART unit at character granularity. Writing TXDATAL
// loads the transmit buffer, which moves to the shift register as soon as it
// is free; Tick shifts one character out. Frames delivered to the receiver
// land in a two-level FIFO; a third sets BUFOVF and is lost.
//
// TXCIF is cleared only by writing one to it, never by the TXC handler
// running, so it can be polled after the handler has turned itself off.
type USART struct {
	name string
	wake func()

	mu    sync.Mutex
	regs  [usart.NumRegs]uint8
	txBuf uint8
	txOK  bool // transmit buffer holds a byte
	shift uint8
	busy  bool // shift register holds a byte
	txcif bool
	rx    [rxDepth]rxFrame
	rxN   int
	sent  []byte
	peer  *USART
}

// NewUSART returns a unit in its reset state and connects its RXC, DRE and
// TXC lines to cpu.
func NewUSART(name string, cpu *CPU, v device.Vectors) *USART {
	u := &USART{name: name, wake: func() {}}
	if cpu != nil {
		u.wake = cpu.Wake
		cpu.Line(v.RXC, u.rxcLine)
		cpu.Line(v.DRE, u.dreLine)
		cpu.Line(v.TXC, u.txcLine)
	}
	return u
}

func (u *USART) String() string { return u.name }

func (u *USART) rxcLine() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.regs[usart.CTRLA]&usart.CTRLA_RXCIE != 0 && u.rxN > 0
}

func (u *USART) dreLine() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.regs[usart.CTRLA]&usart.CTRLA_DREIE != 0 && !u.txOK
}

func (u *USART) txcLine() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.regs[usart.CTRLA]&usart.CTRLA_TXCIE != 0 && u.txcif
}

func (u *USART) status() uint8 {
	s := u.regs[usart.STATUS] &^ (usart.STATUS_RXCIF | usart.STATUS_TXCIF | usart.STATUS_DREIF)
	if u.rxN > 0 {
		s |= usart.STATUS_RXCIF
	}
	if u.txcif {
		s |= usart.STATUS_TXCIF
	}
	if !u.txOK {
		s |= usart.STATUS_DREIF
	}
	return s
}

// Get implements usart.Bus.
func (u *USART) Get(r usart.Reg) uint8 {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch r {
	case usart.RXDATAL:
		if u.rxN == 0 {
			return 0
		}
		f := u.rx[0]
		u.rx[0] = u.rx[1]
		u.rxN--
		return f.data
	case usart.RXDATAH:
		if u.rxN == 0 {
			return 0
		}
		return usart.RXDATAH_RXCIF | u.rx[0].flags
	case usart.STATUS:
		return u.status()
	case usart.TXDATAL, usart.TXDATAH:
		return 0
	}
	if int(r) >= len(u.regs) {
		return 0
	}
	return u.regs[r]
}

// Set implements usart.Bus.
func (u *USART) Set(r usart.Reg, v uint8) {
	u.mu.Lock()
	switch r {
	case usart.RXDATAL, usart.RXDATAH:
	case usart.TXDATAL:
		u.load(v)
	case usart.STATUS:
		if v&usart.STATUS_TXCIF != 0 {
			u.txcif = false
		}
		// RXSIF, ISFIF and BDF are also write-one-to-clear.
		u.regs[usart.STATUS] &^= v & (usart.STATUS_RXSIF | usart.STATUS_ISFIF | usart.STATUS_BDF)
	case usart.CTRLB:
		if v&usart.CTRLB_RXEN == 0 {
			// Disabling the receiver flushes its FIFO.
			u.rxN = 0
		}
		u.regs[r] = v
	default:
		if int(r) < len(u.regs) {
			u.regs[r] = v
		}
	}
	u.mu.Unlock()
	u.wake()
}

// load puts v in the transmit buffer, or straight into an idle shift
// register. A write while the buffer is full is lost, as on silicon.
func (u *USART) load(v uint8) {
	if u.regs[usart.CTRLB]&usart.CTRLB_TXEN == 0 || u.txOK {
		return
	}
	if !u.busy {
		u.shift = v
		u.busy = true
		return
	}
	u.txBuf = v
	u.txOK = true
}

// Tick advances the unit by one character time: the frame in the shift
// register completes and goes to the loopback receiver or the connected
// peer, and the transmit buffer moves into the shift register. It returns
// whether a frame completed.
func (u *USART) Tick() bool {
	u.mu.Lock()
	if !u.busy {
		u.mu.Unlock()
		return false
	}
	c := u.shift
	u.sent = append(u.sent, c)
	if u.txOK {
		u.shift = u.txBuf
		u.txOK = false
	} else {
		u.busy = false
		u.txcif = true
	}
	loop := u.regs[usart.CTRLA]&usart.CTRLA_LBME != 0
	// An open-drain loopback is a shared single wire the peer also sees.
	wire := !loop || u.regs[usart.CTRLB]&usart.CTRLB_ODME != 0
	format := u.formatLocked()
	if loop {
		u.receiveLocked(c, 0)
	}
	peer := u.peer
	u.mu.Unlock()
	u.wake()

	if wire && peer != nil {
		peer.receiveFrom(c, format)
	}
	return true
}

// Drain ticks until the transmitter is idle or max ticks have passed and
// returns the number of frames sent.
func (u *USART) Drain(max int) int {
	n := 0
	for n < max && u.Tick() {
		n++
	}
	return n
}

// Busy reports whether a frame is being shifted out or is waiting in the
// transmit buffer.
func (u *USART) Busy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.busy || u.txOK
}

// lineFormat is what two ends must agree on for a clean frame.
type lineFormat struct {
	ctrlC uint8
	baud  uint16
	clk2x bool
}

func (u *USART) formatLocked() lineFormat {
	return lineFormat{
		ctrlC: u.regs[usart.CTRLC] &^ (usart.CTRLC_UDORD | usart.CTRLC_UCPHA),
		baud:  uint16(u.regs[usart.BAUDH])<<8 | uint16(u.regs[usart.BAUDL]),
		clk2x: u.regs[usart.CTRLB]&usart.CTRLB_RXMODE_gm == usart.CTRLB_RXMODE_CLK2X,
	}
}

// receiveFrom delivers a frame sent with format f. A parity setting that
// differs raises PERR; any other mismatch raises FERR.
func (u *USART) receiveFrom(c uint8, f lineFormat) {
	u.mu.Lock()
	mine := u.formatLocked()
	var flags uint8
	if mine != f {
		flags = usart.RXDATAH_FERR
		if mine.ctrlC&usart.CTRLC_PMODE_gm != f.ctrlC&usart.CTRLC_PMODE_gm &&
			mine.ctrlC&usart.CTRLC_PMODE_gm != usart.CTRLC_PMODE_DISABLED {
			flags = usart.RXDATAH_PERR
		}
	}
	u.receiveLocked(c, flags)
	u.mu.Unlock()
	u.wake()
}

func (u *USART) receiveLocked(c, flags uint8) {
	if u.regs[usart.CTRLB]&usart.CTRLB_RXEN == 0 {
		return
	}
	if u.rxN == rxDepth {
		u.rx[rxDepth-1].flags |= usart.RXDATAH_BUFOVF
		return
	}
	u.rx[u.rxN] = rxFrame{data: c, flags: flags}
	u.rxN++
}

// Receive delivers a clean frame to the receiver.
func (u *USART) Receive(c byte) { u.ReceiveFrame(c, 0) }

// ReceiveFrame delivers a frame with RXDATAH error flags (FERR, PERR).
func (u *USART) ReceiveFrame(c byte, flags uint8) {
	u.mu.Lock()
	u.receiveLocked(c, flags&(usart.RXDATAH_FERR|usart.RXDATAH_PERR))
	u.mu.Unlock()
	u.wake()
}

// Pending returns the number of frames waiting in the receive FIFO.
func (u *USART) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rxN
}

// Transmitted returns a copy of every frame sent since the last Reset.
func (u *USART) Transmitted() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.sent...)
}

// ResetTransmitted clears the transmit log.
func (u *USART) ResetTransmitted() {
	u.mu.Lock()
	u.sent = u.sent[:0]
	u.mu.Unlock()
}

// Connect cross-wires u and peer: each one's TX feeds the other's RX.
func (u *USART) Connect(peer *USART) {
	u.mu.Lock()
	u.peer = peer
	u.mu.Unlock()
	if peer != nil && peer != u {
		peer.mu.Lock()
		peer.peer = u
		peer.mu.Unlock()
	}
}

// Run calls Tick every period until ctx is done.
func (u *USART) Run(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			u.Tick()
		}
	}
}

// CharTime returns the duration of one frame at the programmed rate and
// clock, for pacing Run. It returns 0 while the unit is not configured.
func CharTime(b usart.Bus, clockHz uint64) time.Duration {
	baud := uint64(usart.Baud(b))
	if baud == 0 || clockHz == 0 {
		return 0
	}
	ctrlB := b.Get(usart.CTRLB)
	ctrlC := b.Get(usart.CTRLC)
	var rate uint64
	switch {
	case ctrlC&usart.CTRLC_CMODE_gm != usart.CTRLC_CMODE_ASYNC:
		if baud>>6 == 0 {
			return 0
		}
		rate = clockHz / (2 * (baud >> 6))
	case ctrlB&usart.CTRLB_RXMODE_gm == usart.CTRLB_RXMODE_CLK2X:
		rate = 8 * clockHz / baud
	default:
		rate = 4 * clockHz / baud
	}
	if rate == 0 {
		return 0
	}
	bits := uint64(1 + 5 + ctrlC&usart.CTRLC_CHSIZE_gm + 1)
	if ctrlC&usart.CTRLC_PMODE_gm != 0 {
		bits++
	}
	if ctrlC&usart.CTRLC_SBMODE != 0 {
		bits++
	}
	return time.Duration(bits * uint64(time.Second) / rate)
}

var _ usart.Bus = (*USART)(nil)
