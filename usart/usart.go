// Package usart describes the register block of the megaAVR-0 / tinyAVR
// USART peripheral: offsets, bit masks and group configurations. Drivers talk
// to a unit through a Bus; real silicon maps it onto memory, the simulator
// implements it in software.
package usart

// Reg is a register offset inside one USART block.
type Reg uint8

// Register offsets.
const (
	RXDATAL  Reg = 0x00 // receive data low; reading pops the RX FIFO
	RXDATAH  Reg = 0x01 // receive data high: RXCIF, BUFOVF, FERR, PERR, DATA8
	TXDATAL  Reg = 0x02 // transmit data low; writing starts a frame
	TXDATAH  Reg = 0x03
	STATUS   Reg = 0x04 // flags; TXCIF/RXSIF/ISFIF/BDF cleared by writing one
	CTRLA    Reg = 0x05 // interrupt enables, LBME, RS485
	CTRLB    Reg = 0x06 // RXEN, TXEN, ODME, RXMODE
	CTRLC    Reg = 0x07 // frame format / CMODE
	BAUDL    Reg = 0x08
	BAUDH    Reg = 0x09
	CTRLD    Reg = 0x0A
	DBGCTRL  Reg = 0x0B
	EVCTRL   Reg = 0x0C
	TXPLCTRL Reg = 0x0D
	RXPLCTRL Reg = 0x0E

	NumRegs = 0x0F
)

var regNames = [NumRegs]string{
	"RXDATAL", "RXDATAH", "TXDATAL", "TXDATAH", "STATUS", "CTRLA", "CTRLB",
	"CTRLC", "BAUDL", "BAUDH", "CTRLD", "DBGCTRL", "EVCTRL", "TXPLCTRL", "RXPLCTRL",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return "REG?"
}

// RXDATAH bits.
const (
	RXDATAH_RXCIF  = 0x80
	RXDATAH_BUFOVF = 0x40
	RXDATAH_FERR   = 0x04
	RXDATAH_PERR   = 0x02
	RXDATAH_DATA8  = 0x01
)

// STATUS bits.
const (
	STATUS_RXCIF = 0x80
	STATUS_TXCIF = 0x40
	STATUS_DREIF = 0x20
	STATUS_RXSIF = 0x10
	STATUS_ISFIF = 0x08
	STATUS_BDF   = 0x02
	STATUS_WFB   = 0x01
)

// CTRLA bits.
const (
	CTRLA_RXCIE = 0x80
	CTRLA_TXCIE = 0x40
	CTRLA_DREIE = 0x20
	CTRLA_RXSIE = 0x10
	CTRLA_LBME  = 0x08
	CTRLA_ABEIE = 0x04
	CTRLA_RS485 = 0x03

	CTRLA_RS485_EXT = 0x01 // XDIR driven around each frame
)

// CTRLB bits and groups.
const (
	CTRLB_RXEN  = 0x80
	CTRLB_TXEN  = 0x40
	CTRLB_SFDEN = 0x10
	CTRLB_ODME  = 0x08
	CTRLB_MPCM  = 0x01

	CTRLB_RXMODE_gm      = 0x06
	CTRLB_RXMODE_NORMAL  = 0x00
	CTRLB_RXMODE_CLK2X   = 0x02
	CTRLB_RXMODE_GENAUTO = 0x04
	CTRLB_RXMODE_LINAUTO = 0x06
)

// EVCTRL bits.
const (
	EVCTRL_IREI = 0x01
)

// CTRLC groups. In MSPI mode bits 2 and 1 are UDORD and UCPHA and the
// parity, stop and size fields do not apply.
const (
	CTRLC_CMODE_gm    = 0xC0
	CTRLC_CMODE_ASYNC = 0x00
	CTRLC_CMODE_SYNC  = 0x40
	CTRLC_CMODE_IRCOM = 0x80
	CTRLC_CMODE_MSPI  = 0xC0

	CTRLC_PMODE_gm       = 0x30
	CTRLC_PMODE_DISABLED = 0x00
	CTRLC_PMODE_RESERVED = 0x10
	CTRLC_PMODE_EVEN     = 0x20
	CTRLC_PMODE_ODD      = 0x30

	CTRLC_SBMODE = 0x08

	CTRLC_CHSIZE_gm    = 0x07
	CTRLC_CHSIZE_5BIT  = 0x00
	CTRLC_CHSIZE_6BIT  = 0x01
	CTRLC_CHSIZE_7BIT  = 0x02
	CTRLC_CHSIZE_8BIT  = 0x03
	CTRLC_CHSIZE_9BITL = 0x06
	CTRLC_CHSIZE_9BITH = 0x07

	CTRLC_UDORD = 0x04
	CTRLC_UCPHA = 0x02
)

// Bus is register-level access to one USART unit. Reads of RXDATAL and
// writes of TXDATAL and STATUS have side effects, so callers must not cache.
type Bus interface {
	Get(r Reg) uint8
	Set(r Reg, v uint8)
}

// SetBits performs a read-modify-write OR on r. It is not atomic with respect
// to the unit's interrupt handler; callers mask interrupts when that matters.
func SetBits(b Bus, r Reg, mask uint8) { b.Set(r, b.Get(r)|mask) }

// ClearBits performs a read-modify-write AND NOT on r.
func ClearBits(b Bus, r Reg, mask uint8) { b.Set(r, b.Get(r)&^mask) }

// HasBits reports whether any bit in mask is set in r.
func HasBits(b Bus, r Reg, mask uint8) bool { return b.Get(r)&mask != 0 }

// Baud returns the 16-bit BAUD register.
func Baud(b Bus) uint16 { return uint16(b.Get(BAUDH))<<8 | uint16(b.Get(BAUDL)) }

// SetBaud writes the 16-bit BAUD register, low byte first.
func SetBaud(b Bus, v uint16) {
	b.Set(BAUDL, uint8(v))
	b.Set(BAUDH, uint8(v>>8))
}

// Snapshot is a copy of the side-effect free registers, for diagnostics.
type Snapshot struct {
	STATUS uint8
	CTRLA  uint8
	CTRLB  uint8
	CTRLC  uint8
	EVCTRL uint8
	BAUD   uint16
}

// Snap reads the side-effect free registers of b.
func Snap(b Bus) Snapshot {
	return Snapshot{
		STATUS: b.Get(STATUS),
		CTRLA:  b.Get(CTRLA),
		CTRLB:  b.Get(CTRLB),
		CTRLC:  b.Get(CTRLC),
		EVCTRL: b.Get(EVCTRL),
		BAUD:   Baud(b),
	}
}
