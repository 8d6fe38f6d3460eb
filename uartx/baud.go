package uartx

import "periph.io/x/conn/v3/physic"

// DefaultBaud is used when Begin is called with a zero rate.
const DefaultBaud = 115200

const (
	minBaudReg = 64 // BAUD below 64 (1.0 in 10.6 fixed point) is not allowed
	maxBaudReg = 0xFFFF
)

// divisor is the BAUD register value and sample-rate choice for one rate.
type divisor struct {
	reg   uint16
	clk2x bool
}

// baudDivisor computes the BAUD register for baud at clock f. Requests out
// of range are clamped to the nearest rate the generator can make.
//
// Async: BAUD = 64*f/(S*baud) with S=16, falling back to S=8 (CLK2X) when the
// value would be below 64. Sync master and MSPI: the integer part is
// f/(2*baud) and the fractional bits must be zero. Sync slave is clocked
// externally and does not use BAUD.
func baudDivisor(f physic.Frequency, baud uint32, mode Mode) divisor {
	hz := uint64(f / physic.Hertz)
	b := uint64(baud)
	switch mode {
	case SyncSlaveMode:
		return divisor{}
	case SyncMasterMode, MSPIMode:
		n := hz / (2 * b)
		if n == 0 {
			n = 1
		}
		if n > maxBaudReg>>6 {
			n = maxBaudReg >> 6
		}
		return divisor{reg: uint16(n << 6)}
	}
	d := divisor{}
	v := (4*hz + b/2) / b
	if v < minBaudReg {
		d.clk2x = true
		v = (8*hz + b/2) / b
	}
	if v < minBaudReg {
		v = minBaudReg
	}
	if v > maxBaudReg {
		v = maxBaudReg
	}
	d.reg = uint16(v)
	return d
}

// rate is the baud rate the divisor actually produces at clock f.
func (d divisor) rate(f physic.Frequency, mode Mode) uint32 {
	hz := uint64(f / physic.Hertz)
	switch mode {
	case SyncSlaveMode:
		return 0
	case SyncMasterMode, MSPIMode:
		n := uint64(d.reg >> 6)
		if n == 0 {
			return 0
		}
		return uint32(hz / (2 * n))
	}
	if d.reg == 0 {
		return 0
	}
	if d.clk2x {
		return uint32((8*hz + uint64(d.reg)/2) / uint64(d.reg))
	}
	return uint32((4*hz + uint64(d.reg)/2) / uint64(d.reg))
}
