// Package device holds the per-variant facts a USART driver needs: how many
// units exist, their interrupt vectors, the pin sets each unit can be routed
// to, the CPU clock and the RAM-scaled ring buffer sizes.
package device

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/jangala-dev/avr-uartx/irq"
)

// ErrVariant reports an unknown or malformed variant description.
var ErrVariant = errors.New("device: invalid variant")

// Mux layouts of the PORTMUX register that routes USART pins.
const (
	// MuxCtrlB is the 0/1-series layout: PORTMUX.CTRLB bit n swaps USARTn.
	MuxCtrlB = "ctrlb"
	// MuxRouteA is the 2-series layout: two bits per unit in USARTROUTEA.
	MuxRouteA = "usartroutea"
)

// PinSet is one pin multiplexing option of a unit. Empty names mean the
// function is not bonded out for that option.
type PinSet struct {
	TX   string `yaml:"tx"`
	RX   string `yaml:"rx"`
	XCK  string `yaml:"xck,omitempty"`
	XDIR string `yaml:"xdir,omitempty"`
}

// Vectors are the three interrupt vectors of a unit.
type Vectors struct {
	RXC irq.Vector `yaml:"rxc"`
	DRE irq.Vector `yaml:"dre"`
	TXC irq.Vector `yaml:"txc"`
}

// Unit is one physical USART.
type Unit struct {
	Name          string   `yaml:"name"`    // USART0
	Channel       string   `yaml:"channel"` // Serial
	Vectors       Vectors  `yaml:"vectors"`
	PinSets       []PinSet `yaml:"pinsets"`
	DefaultPinSet uint8    `yaml:"default_pinset,omitempty"`
}

// Variant describes a device family member.
type Variant struct {
	Name     string   `yaml:"name"`
	Parts    []string `yaml:"parts,omitempty"`
	ClockHz  uint64   `yaml:"clock_hz"`
	SRAM     int      `yaml:"sram"`
	RXBuffer int      `yaml:"rx_buffer,omitempty"` // 0 derives from SRAM
	TXBuffer int      `yaml:"tx_buffer,omitempty"` // 0 derives from SRAM
	Mux      string   `yaml:"mux"`
	Units    []Unit   `yaml:"units"`
}

// Clock returns the peripheral clock.
func (v Variant) Clock() physic.Frequency {
	return physic.Frequency(v.ClockHz) * physic.Hertz
}

// BufferSizes returns the RX and TX ring capacities, applying the SRAM
// defaults for any left at zero.
func (v Variant) BufferSizes() (rx, tx int) {
	rx, tx = BufferSizes(v.SRAM)
	if v.RXBuffer != 0 {
		rx = v.RXBuffer
	}
	if v.TXBuffer != 0 {
		tx = v.TXBuffer
	}
	return rx, tx
}

// Unit returns the unit called name (USART0) or serving channel name (Serial).
func (v Variant) Unit(name string) (Unit, bool) {
	i := slices.IndexFunc(v.Units, func(u Unit) bool {
		return u.Name == name || u.Channel == name
	})
	if i < 0 {
		return Unit{}, false
	}
	return v.Units[i], true
}

// BufferSizes scales ring capacities with RAM so that small parts keep most
// of their SRAM for the application.
func BufferSizes(sram int) (rx, tx int) {
	switch {
	case sram < 1024:
		tx = 16
	case sram < 2048:
		tx = 32
	default:
		tx = 64
	}
	switch {
	case sram < 512:
		rx = 16
	case sram < 1024:
		rx = 32
	default:
		rx = 64
	}
	return rx, tx
}

func powerOfTwo(n int) bool { return n >= 2 && n&(n-1) == 0 }

// Validate checks the description for internal consistency.
func (v Variant) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: missing name", ErrVariant)
	}
	if v.ClockHz == 0 {
		return fmt.Errorf("%w: %s: clock_hz is zero", ErrVariant, v.Name)
	}
	if v.Mux != MuxCtrlB && v.Mux != MuxRouteA {
		return fmt.Errorf("%w: %s: unknown mux layout %q", ErrVariant, v.Name, v.Mux)
	}
	rx, tx := v.BufferSizes()
	if !powerOfTwo(rx) || !powerOfTwo(tx) {
		return fmt.Errorf("%w: %s: buffer sizes %d/%d must be powers of two", ErrVariant, v.Name, rx, tx)
	}
	if len(v.Units) == 0 {
		return fmt.Errorf("%w: %s: no units", ErrVariant, v.Name)
	}
	var seen []string
	for i, u := range v.Units {
		if u.Name == "" || u.Channel == "" {
			return fmt.Errorf("%w: %s: unit %d needs name and channel", ErrVariant, v.Name, i)
		}
		if slices.Contains(seen, u.Name) || slices.Contains(seen, u.Channel) {
			return fmt.Errorf("%w: %s: duplicate unit %s/%s", ErrVariant, v.Name, u.Name, u.Channel)
		}
		seen = append(seen, u.Name, u.Channel)
		if len(u.PinSets) == 0 {
			return fmt.Errorf("%w: %s: %s has no pin sets", ErrVariant, v.Name, u.Name)
		}
		if int(u.DefaultPinSet) >= len(u.PinSets) {
			return fmt.Errorf("%w: %s: %s default pin set %d out of range", ErrVariant, v.Name, u.Name, u.DefaultPinSet)
		}
		for j, ps := range u.PinSets {
			if ps.TX == "" || ps.RX == "" {
				return fmt.Errorf("%w: %s: %s pin set %d lacks TX or RX", ErrVariant, v.Name, u.Name, j)
			}
		}
		vs := []irq.Vector{u.Vectors.RXC, u.Vectors.DRE, u.Vectors.TXC}
		if vs[0] == vs[1] || vs[1] == vs[2] || vs[0] == vs[2] {
			return fmt.Errorf("%w: %s: %s vectors must be distinct", ErrVariant, v.Name, u.Name)
		}
	}
	return nil
}

// Load decodes one variant from YAML and validates it.
func Load(r io.Reader) (Variant, error) {
	var v Variant
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&v); err != nil {
		return Variant{}, fmt.Errorf("%w: %v", ErrVariant, err)
	}
	if err := v.Validate(); err != nil {
		return Variant{}, err
	}
	return v, nil
}

// Marshal encodes v as YAML, the same shape Load accepts.
func Marshal(v Variant) ([]byte, error) {
	return yaml.Marshal(v)
}
