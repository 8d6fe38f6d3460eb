package sim

import (
	"fmt"
	"sync"

	"github.com/jangala-dev/avr-uartx/device"
)

// PortMux models the register that routes USART pins. It implements
// uartx.Router.
type PortMux struct {
	layout string
	sets   []int // pin set count per unit

	mu  sync.Mutex
	reg uint8
}

// NewPortMux returns a mux in its reset state (every unit on pin set 0).
func NewPortMux(v device.Variant) *PortMux {
	m := &PortMux{layout: v.Mux}
	for _, u := range v.Units {
		m.sets = append(m.sets, len(u.PinSets))
	}
	return m
}

// Route selects pin set for unit.
func (m *PortMux) Route(unit int, set uint8) error {
	if unit < 0 || unit >= len(m.sets) {
		return fmt.Errorf("sim: portmux: no USART%d", unit)
	}
	if int(set) >= m.sets[unit] {
		return fmt.Errorf("sim: portmux: USART%d has no pin set %d", unit, set)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.layout {
	case device.MuxCtrlB:
		if set > 1 {
			return fmt.Errorf("sim: portmux: CTRLB cannot select pin set %d", set)
		}
		m.reg = m.reg&^(1<<unit) | set<<unit
	case device.MuxRouteA:
		shift := 2 * unit
		m.reg = m.reg&^(3<<shift) | set<<shift
	default:
		return fmt.Errorf("sim: portmux: unknown layout %q", m.layout)
	}
	return nil
}

// Selected returns the pin set unit is routed to.
func (m *PortMux) Selected(unit int) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.layout == device.MuxCtrlB {
		return m.reg >> unit & 1
	}
	return m.reg >> (2 * unit) & 3
}

// Register returns the raw PORTMUX register value.
func (m *PortMux) Register() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg
}
