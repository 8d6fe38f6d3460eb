// uartx/registry.go

package uartx

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"github.com/jangala-dev/avr-uartx/device"
	"github.com/jangala-dev/avr-uartx/irq"
	"github.com/jangala-dev/avr-uartx/usart"
)

// Hardware is what a Registry binds its channels to.
type Hardware struct {
	Interrupts irq.Controller
	// Bus returns the register block of USART unit n.
	Bus func(n int) usart.Bus
	// Pin resolves pin names; nil uses gpioreg.ByName.
	Pin func(name string) gpio.PinIO
	// Router programs PORTMUX; nil when the part has a fixed routing.
	Router Router
}

// Registry holds one channel per USART unit of a variant, in unit order.
type Registry struct {
	variant device.Variant
	uarts   []*UART
}

// NewRegistry builds the channels of v and attaches their handlers to
// hw.Interrupts. Ring sizes follow the variant's SRAM unless overridden.
func NewRegistry(v device.Variant, hw Hardware) (*Registry, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if hw.Interrupts == nil || hw.Bus == nil {
		return nil, errors.New("uartx: hardware needs interrupts and a bus")
	}
	rx, tx := v.BufferSizes()
	r := &Registry{variant: v}
	for n, unit := range v.Units {
		bus := hw.Bus(n)
		if bus == nil {
			return nil, fmt.Errorf("uartx: no bus for %s", unit.Name)
		}
		u, err := New(Config{
			Name:          unit.Channel,
			Unit:          n,
			Bus:           bus,
			Interrupts:    hw.Interrupts,
			Vectors:       unit.Vectors,
			Clock:         v.Clock(),
			RXBuffer:      rx,
			TXBuffer:      tx,
			PinSets:       unit.PinSets,
			DefaultPinSet: unit.DefaultPinSet,
			Pin:           hw.Pin,
			Router:        hw.Router,
		})
		if err != nil {
			return nil, err
		}
		r.uarts = append(r.uarts, u)
	}
	return r, nil
}

// Variant returns the variant the registry was built from.
func (r *Registry) Variant() device.Variant { return r.variant }

// Len returns the number of channels.
func (r *Registry) Len() int { return len(r.uarts) }

// Channels returns the channels in unit order.
func (r *Registry) Channels() []*UART {
	out := make([]*UART, len(r.uarts))
	copy(out, r.uarts)
	return out
}

// Get returns the channel named name ("Serial1") or driving unit name
// ("USART1").
func (r *Registry) Get(name string) (*UART, bool) {
	for i, unit := range r.variant.Units {
		if unit.Channel == name || unit.Name == name {
			return r.uarts[i], true
		}
	}
	return nil, false
}

// End ends every enabled channel.
func (r *Registry) End() {
	for _, u := range r.uarts {
		u.End()
	}
}
