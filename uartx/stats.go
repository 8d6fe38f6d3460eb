// uartx/stats.go

package uartx

import (
	"strings"

	"go.uber.org/atomic"

	"github.com/jangala-dev/avr-uartx/usart"
)

// LineError is a set of receive error flags, as reported in RXDATAH.
type LineError uint8

const (
	Overrun     LineError = usart.RXDATAH_BUFOVF // hardware FIFO overflowed
	FrameError  LineError = usart.RXDATAH_FERR   // stop bit was low
	ParityError LineError = usart.RXDATAH_PERR

	lineErrorMask = Overrun | FrameError | ParityError
)

func (e LineError) Error() string { return "uartx: line error: " + e.String() }

func (e LineError) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e&Overrun != 0 {
		parts = append(parts, "overrun")
	}
	if e&FrameError != 0 {
		parts = append(parts, "framing")
	}
	if e&ParityError != 0 {
		parts = append(parts, "parity")
	}
	return strings.Join(parts, "|")
}

// Stats holds counters since the last reset.
type Stats struct {
	// Handler entries
	RXInterrupts  uint32
	DREInterrupts uint32
	TXCInterrupts uint32

	// Per-byte error flags from RXDATAH
	ErrOverrun uint32 // BUFOVF
	ErrFraming uint32 // FERR
	ErrParity  uint32 // PERR

	// RX ring
	RingPuts    uint32 // successful Put()s
	RingDrops   uint32 // bytes lost to a full ring (newest dropped)
	RingMaxUsed uint32 // high-water mark of ring occupancy
	ParityDrops uint32 // bytes discarded for a parity error
	EchoDrops   uint32 // bytes discarded while transmitting half duplex

	// TX
	TXBytes uint32 // bytes handed to TXDATAL
	TXWaits uint32 // writes that had to wait for ring space

	// Blocking API behaviour
	ReadWaits     uint32 // times a blocking read had to wait
	SpuriousWakes uint32 // notify received but no data available
	Timeouts      uint32 // context timeouts in blocking APIs
}

type counters struct {
	rxInterrupts  atomic.Uint32
	dreInterrupts atomic.Uint32
	txcInterrupts atomic.Uint32

	errOverrun atomic.Uint32
	errFraming atomic.Uint32
	errParity  atomic.Uint32

	ringPuts    atomic.Uint32
	ringDrops   atomic.Uint32
	ringMaxUsed atomic.Uint32
	parityDrops atomic.Uint32
	echoDrops   atomic.Uint32

	txBytes atomic.Uint32
	txWaits atomic.Uint32

	readWaits     atomic.Uint32
	spuriousWakes atomic.Uint32
	timeouts      atomic.Uint32
}

func (c *counters) trackMaxUsed(used uint32) {
	for {
		max := c.ringMaxUsed.Load()
		if used <= max || c.ringMaxUsed.CompareAndSwap(max, used) {
			return
		}
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		RXInterrupts:  c.rxInterrupts.Load(),
		DREInterrupts: c.dreInterrupts.Load(),
		TXCInterrupts: c.txcInterrupts.Load(),

		ErrOverrun: c.errOverrun.Load(),
		ErrFraming: c.errFraming.Load(),
		ErrParity:  c.errParity.Load(),

		RingPuts:    c.ringPuts.Load(),
		RingDrops:   c.ringDrops.Load(),
		RingMaxUsed: c.ringMaxUsed.Load(),
		ParityDrops: c.parityDrops.Load(),
		EchoDrops:   c.echoDrops.Load(),

		TXBytes: c.txBytes.Load(),
		TXWaits: c.txWaits.Load(),

		ReadWaits:     c.readWaits.Load(),
		SpuriousWakes: c.spuriousWakes.Load(),
		Timeouts:      c.timeouts.Load(),
	}
}

func (c *counters) reset() {
	for _, v := range []*atomic.Uint32{
		&c.rxInterrupts, &c.dreInterrupts, &c.txcInterrupts,
		&c.errOverrun, &c.errFraming, &c.errParity,
		&c.ringPuts, &c.ringDrops, &c.ringMaxUsed, &c.parityDrops, &c.echoDrops,
		&c.txBytes, &c.txWaits,
		&c.readWaits, &c.spuriousWakes, &c.timeouts,
	} {
		v.Store(0)
	}
}

// Stats returns a copy of the channel counters.
func (u *UART) Stats() Stats { return u.stats.snapshot() }

// ResetStats zeroes the channel counters.
func (u *UART) ResetStats() { u.stats.reset() }

// Regs returns the side-effect free registers of the unit.
func (u *UART) Regs() usart.Snapshot { return usart.Snap(u.bus) }
