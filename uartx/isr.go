// uartx/isr.go

package uartx

import "github.com/jangala-dev/avr-uartx/usart"

// Interrupt handlers. They run with interrupts masked by the controller and
// must never call irq.Controller.Disable themselves.

// handleReceiveComplete moves one received byte from the hardware FIFO into
// the RX ring. RXDATAH must be read before RXDATAL; the read of RXDATAL pops
// the FIFO and lets RXCIF fall or stay set for the next byte.
func (u *UART) handleReceiveComplete() {
	hi := u.bus.Get(usart.RXDATAH)
	c := u.bus.Get(usart.RXDATAL)
	u.stats.rxInterrupts.Inc()

	if e := LineError(hi) & lineErrorMask; e != 0 {
		u.latchLineError(e)
	}
	if hi&usart.RXDATAH_PERR != 0 {
		u.stats.parityDrops.Inc()
		return
	}
	if u.suppress.Load() {
		// Our own echo on a half-duplex line.
		u.stats.echoDrops.Inc()
		return
	}
	if !u.Buffer.Put(c) {
		// Full: drop the newest byte, keep what is buffered.
		u.stats.ringDrops.Inc()
		signal(u.notify)
		return
	}
	u.stats.ringPuts.Inc()
	u.stats.trackMaxUsed(uint32(u.Buffer.Used()))
	signal(u.notify)
}

// handleDataRegisterEmpty feeds the next queued byte to TXDATAL and disables
// itself when the TX ring runs dry.
func (u *UART) handleDataRegisterEmpty() {
	u.stats.dreInterrupts.Inc()
	c, ok := u.TxBuffer.Get()
	if !ok {
		usart.ClearBits(u.bus, usart.CTRLA, usart.CTRLA_DREIE)
		return
	}
	// Clear TXCIF before loading the byte so Flush cannot see a stale
	// completion from the previous frame.
	u.bus.Set(usart.STATUS, usart.STATUS_TXCIF)
	u.bus.Set(usart.TXDATAL, c)
	u.stats.txBytes.Inc()
	if u.TxBuffer.Empty() {
		usart.ClearBits(u.bus, usart.CTRLA, usart.CTRLA_DREIE)
	}
	signal(u.txNotify)
}

// handleTransmitComplete ends a half-duplex burst: the last frame has left
// the shift register, so the receiver goes back on. TXCIF is left set for
// Flush to observe.
func (u *UART) handleTransmitComplete() {
	u.stats.txcInterrupts.Inc()
	if !u.TxBuffer.Empty() || usart.HasBits(u.bus, usart.CTRLA, usart.CTRLA_DREIE) {
		// More frames queued; the DRE handler clears TXCIF before the next.
		return
	}
	usart.ClearBits(u.bus, usart.CTRLA, usart.CTRLA_TXCIE)
	if u.state.Load()&stateHalfDuplex != 0 {
		u.suppress.Store(false)
		usart.SetBits(u.bus, usart.CTRLB, usart.CTRLB_RXEN)
	}
	signal(u.txNotify)
}

func (u *UART) latchLineError(e LineError) {
	for {
		old := u.lineErr.Load()
		if u.lineErr.CompareAndSwap(old, old|uint32(e)) {
			break
		}
	}
	if e&Overrun != 0 {
		u.stats.errOverrun.Inc()
	}
	if e&FrameError != 0 {
		u.stats.errFraming.Inc()
	}
	if e&ParityError != 0 {
		u.stats.errParity.Inc()
	}
}
