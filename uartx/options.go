package uartx

import (
	"errors"
	"fmt"

	"github.com/jangala-dev/avr-uartx/usart"
)

// ErrOptions is returned by Begin for frame options the USART cannot do.
var ErrOptions = errors.New("uartx: unsupported frame options")

// Options is the Begin configuration word. The low byte is the CTRLC frame
// format; the high byte selects line features.
type Options uint16

// Data bits. A zero low byte means 8N1, so 5-bit frames carry a marker in
// the high byte.
const (
	Data5 Options = explicitFrame | usart.CTRLC_CHSIZE_5BIT
	Data6 Options = usart.CTRLC_CHSIZE_6BIT
	Data7 Options = usart.CTRLC_CHSIZE_7BIT
	Data8 Options = usart.CTRLC_CHSIZE_8BIT
)

// Parity and stop bits.
const (
	ParityNone Options = usart.CTRLC_PMODE_DISABLED
	ParityEven Options = usart.CTRLC_PMODE_EVEN
	ParityOdd  Options = usart.CTRLC_PMODE_ODD
	Stop1      Options = 0
	Stop2      Options = usart.CTRLC_SBMODE
)

// Operating modes. ModeSync drives XCK as a clock master unless SyncSlave is
// also given. In ModeMSPI the frame bits become MSPIMSBFirst/MSPILSBFirst and
// MSPIPhase.
const (
	ModeAsync Options = usart.CTRLC_CMODE_ASYNC
	ModeSync  Options = usart.CTRLC_CMODE_SYNC
	ModeMSPI  Options = usart.CTRLC_CMODE_MSPI

	MSPIMSBFirst Options = 0
	MSPILSBFirst Options = usart.CTRLC_UDORD
	MSPIPhase    Options = usart.CTRLC_UCPHA
)

// Line features (high byte).
const (
	RS485     Options = 0x0100 // drive XDIR around each frame
	OpenDrain Options = 0x0400 // TX only pulls low
	Loopback  Options = 0x0800 // RX taken internally from the TX pin
	SyncSlave Options = 0x1000 // XCK is an input (ModeSync only)
	EventRX   Options = 0x2000 // RX pin also feeds the event system
	RXOnly    Options = 0x4000
	TXOnly    Options = 0x8000

	explicitFrame Options = 0x0200

	// HalfDuplex puts TX and RX on the TX pin; RX is suppressed while
	// transmitting so the channel does not hear itself.
	HalfDuplex = Loopback | OpenDrain
)

// Common async formats.
const (
	Serial5N1 = Data5 | ParityNone | Stop1
	Serial6N1 = Data6 | ParityNone | Stop1
	Serial7N1 = Data7 | ParityNone | Stop1
	Serial8N1 = Data8 | ParityNone | Stop1
	Serial5N2 = Data5 | ParityNone | Stop2
	Serial6N2 = Data6 | ParityNone | Stop2
	Serial7N2 = Data7 | ParityNone | Stop2
	Serial8N2 = Data8 | ParityNone | Stop2
	Serial5E1 = Data5 | ParityEven | Stop1
	Serial6E1 = Data6 | ParityEven | Stop1
	Serial7E1 = Data7 | ParityEven | Stop1
	Serial8E1 = Data8 | ParityEven | Stop1
	Serial5E2 = Data5 | ParityEven | Stop2
	Serial6E2 = Data6 | ParityEven | Stop2
	Serial7E2 = Data7 | ParityEven | Stop2
	Serial8E2 = Data8 | ParityEven | Stop2
	Serial5O1 = Data5 | ParityOdd | Stop1
	Serial6O1 = Data6 | ParityOdd | Stop1
	Serial7O1 = Data7 | ParityOdd | Stop1
	Serial8O1 = Data8 | ParityOdd | Stop1
	Serial5O2 = Data5 | ParityOdd | Stop2
	Serial6O2 = Data6 | ParityOdd | Stop2
	Serial7O2 = Data7 | ParityOdd | Stop2
	Serial8O2 = Data8 | ParityOdd | Stop2
)

// Mode is the operating sub-mode decoded from Options.
type Mode uint8

const (
	AsyncMode Mode = iota
	SyncMasterMode
	SyncSlaveMode
	MSPIMode
)

func (m Mode) String() string {
	switch m {
	case AsyncMode:
		return "async"
	case SyncMasterMode:
		return "sync-master"
	case SyncSlaveMode:
		return "sync-slave"
	case MSPIMode:
		return "mspi"
	}
	return "mode?"
}

// frame is a validated Options word split into register values.
type frame struct {
	ctrlA uint8 // LBME/RS485 only; interrupt enables are added by Begin
	ctrlB uint8 // RXEN/TXEN/ODME/SFDEN; RXMODE is added by the baud step
	ctrlC  uint8
	evctrl uint8
	mode   Mode
	rx     bool
	tx     bool
	half   bool
	rs485  bool
}

// ctrlC returns the effective CTRLC byte.
func (o Options) ctrlC() uint8 {
	c := uint8(o)
	if c == 0 && o&explicitFrame == 0 {
		c = uint8(Serial8N1)
	}
	return c
}

func (o Options) parse() (frame, error) {
	var f frame
	c := o.ctrlC()
	f.ctrlC = c
	switch c & usart.CTRLC_CMODE_gm {
	case usart.CTRLC_CMODE_ASYNC:
		f.mode = AsyncMode
	case usart.CTRLC_CMODE_SYNC:
		f.mode = SyncMasterMode
		if o&SyncSlave != 0 {
			f.mode = SyncSlaveMode
		}
	case usart.CTRLC_CMODE_MSPI:
		f.mode = MSPIMode
		// Only UDORD and UCPHA are meaningful; drop the rest.
		f.ctrlC = c & (usart.CTRLC_CMODE_gm | usart.CTRLC_UDORD | usart.CTRLC_UCPHA)
	default:
		return frame{}, fmt.Errorf("%w: IrCOM mode", ErrOptions)
	}
	if o&SyncSlave != 0 && f.mode != SyncSlaveMode {
		return frame{}, fmt.Errorf("%w: sync slave requires sync mode", ErrOptions)
	}
	if f.mode != MSPIMode {
		switch c & usart.CTRLC_CHSIZE_gm {
		case usart.CTRLC_CHSIZE_5BIT, usart.CTRLC_CHSIZE_6BIT,
			usart.CTRLC_CHSIZE_7BIT, usart.CTRLC_CHSIZE_8BIT:
		default:
			return frame{}, fmt.Errorf("%w: character size code %d", ErrOptions, c&usart.CTRLC_CHSIZE_gm)
		}
		if c&usart.CTRLC_PMODE_gm == usart.CTRLC_PMODE_RESERVED {
			return frame{}, fmt.Errorf("%w: mark/space parity", ErrOptions)
		}
	}

	if o&TXOnly != 0 && o&RXOnly != 0 {
		return frame{}, fmt.Errorf("%w: both TX-only and RX-only", ErrOptions)
	}
	f.rx = o&TXOnly == 0
	f.tx = o&RXOnly == 0
	if f.rx {
		f.ctrlB |= usart.CTRLB_RXEN
	}
	if f.tx {
		f.ctrlB |= usart.CTRLB_TXEN
	}
	if o&Loopback != 0 {
		f.ctrlA |= usart.CTRLA_LBME
	}
	if o&OpenDrain != 0 {
		f.ctrlB |= usart.CTRLB_ODME
	}
	if o&RS485 != 0 {
		if f.mode == MSPIMode {
			return frame{}, fmt.Errorf("%w: RS485 in MSPI mode", ErrOptions)
		}
		f.ctrlA |= usart.CTRLA_RS485_EXT
		f.rs485 = true
	}
	if o&EventRX != 0 {
		if !f.rx {
			return frame{}, fmt.Errorf("%w: event RX without a receiver", ErrOptions)
		}
		f.evctrl = usart.EVCTRL_IREI
	}
	f.half = o&HalfDuplex == HalfDuplex
	if f.half && !(f.rx && f.tx) {
		return frame{}, fmt.Errorf("%w: half duplex needs both directions", ErrOptions)
	}
	return f, nil
}

// Validate reports whether Begin would accept o.
func (o Options) Validate() error {
	_, err := o.parse()
	return err
}

// Mode returns the operating sub-mode, or AsyncMode for invalid words.
func (o Options) Mode() Mode {
	f, err := o.parse()
	if err != nil {
		return AsyncMode
	}
	return f.mode
}

// DataBits returns the character size, 0 in MSPI mode.
func (o Options) DataBits() int {
	if o.Mode() == MSPIMode {
		return 0
	}
	return 5 + int(o.ctrlC()&usart.CTRLC_CHSIZE_gm)
}

func (o Options) String() string {
	f, err := o.parse()
	if err != nil {
		return fmt.Sprintf("Options(%#04x)", uint16(o))
	}
	if f.mode == MSPIMode {
		s := "MSB"
		if f.ctrlC&usart.CTRLC_UDORD != 0 {
			s = "LSB"
		}
		if f.ctrlC&usart.CTRLC_UCPHA != 0 {
			s += "+phase"
		}
		return f.mode.String() + " " + s
	}
	p := "N"
	switch f.ctrlC & usart.CTRLC_PMODE_gm {
	case usart.CTRLC_PMODE_EVEN:
		p = "E"
	case usart.CTRLC_PMODE_ODD:
		p = "O"
	}
	stop := 1
	if f.ctrlC&usart.CTRLC_SBMODE != 0 {
		stop = 2
	}
	s := fmt.Sprintf("%d%s%d", o.DataBits(), p, stop)
	if f.mode != AsyncMode {
		s = f.mode.String() + " " + s
	}
	if f.half {
		s += " half-duplex"
	} else {
		if f.ctrlA&usart.CTRLA_LBME != 0 {
			s += " loopback"
		}
		if f.ctrlB&usart.CTRLB_ODME != 0 {
			s += " open-drain"
		}
	}
	if f.rs485 {
		s += " rs485"
	}
	if f.evctrl != 0 {
		s += " event-rx"
	}
	if !f.rx {
		s += " tx-only"
	}
	if !f.tx {
		s += " rx-only"
	}
	return s
}
