// uartx/pins.go

package uartx

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
	"periph.io/x/conn/v3/gpio"

	"github.com/jangala-dev/avr-uartx/device"
	"github.com/jangala-dev/avr-uartx/usart"
)

// ErrPinSet is returned by Begin when the selected pin set cannot serve the
// requested options, or a pin cannot be driven.
var ErrPinSet = errors.New("uartx: pin set unusable")

// Router selects which pin set a USART unit is connected to, through the
// PORTMUX register of the part.
type Router interface {
	Route(unit int, set uint8) error
}

// routedPins are the pins a begun channel drives. Unused roles are nil.
type routedPins struct {
	tx, rx, xck, xdir gpio.PinIO
}

// Swap selects pin set level for the next Begin. It is refused while the
// channel is enabled or when the unit has no such set.
func (u *UART) Swap(level uint8) bool {
	if u.Enabled() || int(level) >= len(u.pinSets) {
		return false
	}
	u.pinSet = level
	return true
}

// SetPins selects the pin set whose TX and RX pins are tx and rx. An empty
// rx matches any RX pin (for TX-only or half-duplex use).
func (u *UART) SetPins(tx, rx string) bool {
	if u.Enabled() {
		return false
	}
	i := slices.IndexFunc(u.pinSets, func(ps device.PinSet) bool {
		return ps.TX == tx && (rx == "" || ps.RX == rx)
	})
	if i < 0 {
		return false
	}
	u.pinSet = uint8(i)
	return true
}

// PinSet returns the selected pin set index.
func (u *UART) PinSet() uint8 { return u.pinSet }

// Pins returns the pin names of the selected set.
func (u *UART) Pins() device.PinSet { return u.pinSets[u.pinSet] }

// PinSets returns the pin sets of the unit.
func (u *UART) PinSets() []device.PinSet { return slices.Clone(u.pinSets) }

// resolvePins looks up the pins frame f needs on the selected set.
func (u *UART) resolvePins(f frame) (routedPins, error) {
	ps := u.pinSets[u.pinSet]
	var p routedPins
	var err error
	lookup := func(role, name string) gpio.PinIO {
		if err != nil {
			return nil
		}
		if name == "" {
			err = fmt.Errorf("%w: %s pin set %d has no %s pin", ErrPinSet, u.name, u.pinSet, role)
			return nil
		}
		pin := u.pin(name)
		if pin == nil {
			err = fmt.Errorf("%w: %s: pin %s not found", ErrPinSet, u.name, name)
		}
		return pin
	}
	// Loopback and half duplex take RX from the TX pin.
	if f.tx || f.ctrlA&usart.CTRLA_LBME != 0 {
		p.tx = lookup("TX", ps.TX)
	}
	if f.rx && f.ctrlA&usart.CTRLA_LBME == 0 {
		p.rx = lookup("RX", ps.RX)
	}
	if f.mode != AsyncMode {
		p.xck = lookup("XCK", ps.XCK)
	}
	if f.rs485 {
		p.xdir = lookup("XDIR", ps.XDIR)
	}
	if err != nil {
		return routedPins{}, err
	}
	return p, nil
}

// applyPins sets pin directions for frame f: TX drives high when idle (or
// floats with a pull-up when open drain), RX is a pulled-up input, XCK is
// driven by a clock master and read by a slave, XDIR idles low.
func applyPins(p routedPins, f frame) error {
	if p.tx != nil {
		var err error
		if f.ctrlB&usart.CTRLB_ODME != 0 {
			err = p.tx.In(gpio.PullUp, gpio.NoEdge)
		} else {
			err = p.tx.Out(gpio.High)
		}
		if err != nil {
			return err
		}
	}
	if p.rx != nil {
		if err := p.rx.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return err
		}
	}
	if p.xck != nil {
		var err error
		if f.mode == SyncSlaveMode {
			err = p.xck.In(gpio.Float, gpio.NoEdge)
		} else {
			err = p.xck.Out(gpio.Low)
		}
		if err != nil {
			return err
		}
	}
	if p.xdir != nil {
		if err := p.xdir.Out(gpio.Low); err != nil {
			return err
		}
	}
	return nil
}

// releasePins returns every driven pin to a plain input.
func releasePins(p routedPins) {
	for _, pin := range []gpio.PinIO{p.tx, p.rx, p.xck, p.xdir} {
		if pin != nil {
			_ = pin.In(gpio.PullNoChange, gpio.NoEdge)
		}
	}
}
