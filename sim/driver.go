package sim

import (
	"fmt"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// driverGPIO exposes the pins of an MCU through gpioreg, so code that looks
// pins up by name (uartx with a nil Hardware.Pin) finds the simulated ones.
type driverGPIO struct {
	m *MCU
}

func (d *driverGPIO) String() string {
	return "sim-gpio-" + d.m.Variant.Name
}

func (d *driverGPIO) Prerequisites() []string {
	return nil
}

func (d *driverGPIO) After() []string {
	return nil
}

// Init registers every pin by name and adds USARTn_TX / USARTn_RX aliases
// for the default pin set of each unit.
func (d *driverGPIO) Init() (bool, error) {
	for _, p := range d.m.Pins() {
		if err := gpioreg.Register(p); err != nil {
			return true, err
		}
	}
	for _, u := range d.m.Variant.Units {
		ps := u.PinSets[u.DefaultPinSet]
		if err := gpioreg.RegisterAlias(u.Name+"_TX", ps.TX); err != nil {
			return true, err
		}
		if ps.RX == "" {
			continue
		}
		if err := gpioreg.RegisterAlias(u.Name+"_RX", ps.RX); err != nil {
			return true, err
		}
	}
	return true, nil
}

// RegisterDriver registers a periph driver for m's pins. It must be called
// before driverreg.Init, and only once per process since gpioreg is global.
func RegisterDriver(m *MCU) error {
	if err := driverreg.Register(&driverGPIO{m: m}); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	return nil
}
