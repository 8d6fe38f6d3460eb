package sim

import (
	"context"
	"sort"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/jangala-dev/avr-uartx/device"
	"github.com/jangala-dev/avr-uartx/usart"
)

// MCU is a simulated part built from a device.Variant.
type MCU struct {
	Variant device.Variant
	CPU     *CPU
	Mux     *PortMux
	USARTs  []*USART

	pins map[string]*Pin
}

// New builds the CPU, one USART per unit, PORTMUX and every pin named in the
// variant's pin sets.
func New(v device.Variant) *MCU {
	m := &MCU{
		Variant: v,
		CPU:     NewCPU(),
		Mux:     NewPortMux(v),
		pins:    make(map[string]*Pin),
	}
	for _, u := range v.Units {
		m.USARTs = append(m.USARTs, NewUSART(u.Name, m.CPU, u.Vectors))
		for _, ps := range u.PinSets {
			for _, name := range []string{ps.TX, ps.RX, ps.XCK, ps.XDIR} {
				if name != "" && m.pins[name] == nil {
					m.pins[name] = NewPin(name, pinNumber(name))
				}
			}
		}
	}
	return m
}

// pinNumber maps PA0..PC7 to 0..23.
func pinNumber(name string) int {
	if len(name) != 3 || name[0] != 'P' || name[1] < 'A' || name[1] > 'G' || name[2] < '0' || name[2] > '7' {
		return -1
	}
	return int(name[1]-'A')*8 + int(name[2]-'0')
}

// Bus returns the register block of unit n, or nil.
func (m *MCU) Bus(n int) usart.Bus {
	if n < 0 || n >= len(m.USARTs) {
		return nil
	}
	return m.USARTs[n]
}

// Pin returns the named pin, or nil.
func (m *MCU) Pin(name string) gpio.PinIO {
	if p, ok := m.pins[name]; ok {
		return p
	}
	return nil
}

// Port returns the named pin with its simulation controls, or nil.
func (m *MCU) Port(name string) *Pin { return m.pins[name] }

// Pins returns every pin, sorted by number.
func (m *MCU) Pins() []*Pin {
	out := make([]*Pin, 0, len(m.pins))
	for _, p := range m.pins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number() < out[j].Number() })
	return out
}

// Tick advances every USART by one character time.
func (m *MCU) Tick() {
	for _, u := range m.USARTs {
		u.Tick()
	}
}

// Run dispatches interrupts and ticks every USART each period until ctx is
// done.
func (m *MCU) Run(ctx context.Context, period time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- m.CPU.Run(ctx) }()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			<-errc
			return ctx.Err()
		case <-t.C:
			m.Tick()
		}
	}
}
