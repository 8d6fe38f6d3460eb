package device

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Pin tables per package. Rows are TX, RX, XCK, XDIR.
var (
	pinsXY2 = []PinSet{
		{TX: "PA6", RX: "PA7", XCK: "PA3", XDIR: "PA0"},
		{TX: "PA1", RX: "PA2"},
	}
	pinsStd = []PinSet{
		{TX: "PB2", RX: "PB3", XCK: "PB1", XDIR: "PB0"},
		{TX: "PA1", RX: "PA2", XCK: "PA3", XDIR: "PA4"},
	}
	pinsUSART1 = []PinSet{
		{TX: "PA1", RX: "PA2", XCK: "PA3", XDIR: "PA4"},
	}
	pinsUSART1Alt = []PinSet{
		{TX: "PA1", RX: "PA2", XCK: "PA3", XDIR: "PA4"},
		{TX: "PC0", RX: "PC1", XCK: "PC2", XDIR: "PC3"},
	}
)

var builtin = []Variant{
	{
		Name:    "attiny-xy2",
		Parts:   []string{"ATtiny202", "ATtiny402", "ATtiny212", "ATtiny412"},
		ClockHz: 20_000_000,
		SRAM:    256,
		Mux:     MuxCtrlB,
		Units: []Unit{{
			Name: "USART0", Channel: "Serial",
			Vectors: Vectors{RXC: 22, DRE: 23, TXC: 24},
			PinSets: pinsXY2,
		}},
	},
	{
		Name:    "attiny-xy4",
		Parts:   []string{"ATtiny814", "ATtiny1614", "ATtiny1616", "ATtiny3216", "ATtiny3217"},
		ClockHz: 20_000_000,
		SRAM:    2048,
		Mux:     MuxCtrlB,
		Units: []Unit{{
			Name: "USART0", Channel: "Serial",
			Vectors: Vectors{RXC: 22, DRE: 23, TXC: 24},
			PinSets: pinsStd,
		}},
	},
	{
		Name:    "attiny-2series-14",
		Parts:   []string{"ATtiny424", "ATtiny824", "ATtiny1624", "ATtiny3224"},
		ClockHz: 20_000_000,
		SRAM:    2048,
		Mux:     MuxRouteA,
		Units: []Unit{
			{
				Name: "USART0", Channel: "Serial",
				Vectors: Vectors{RXC: 17, DRE: 18, TXC: 19},
				PinSets: pinsStd,
			},
			{
				Name: "USART1", Channel: "Serial1",
				Vectors: Vectors{RXC: 26, DRE: 27, TXC: 28},
				PinSets: pinsUSART1,
			},
		},
	},
	{
		Name:    "attiny-2series",
		Parts:   []string{"ATtiny1626", "ATtiny3226", "ATtiny1627", "ATtiny3227"},
		ClockHz: 20_000_000,
		SRAM:    3072,
		Mux:     MuxRouteA,
		Units: []Unit{
			{
				Name: "USART0", Channel: "Serial",
				Vectors: Vectors{RXC: 17, DRE: 18, TXC: 19},
				PinSets: pinsStd,
			},
			{
				Name: "USART1", Channel: "Serial1",
				Vectors: Vectors{RXC: 26, DRE: 27, TXC: 28},
				PinSets: pinsUSART1Alt,
			},
		},
	},
}

// Default is the variant used when none is named.
const Default = "attiny-xy4"

// Names lists the built-in variants in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for _, v := range builtin {
		names = append(names, v.Name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the built-in variant called name or containing part name.
// The returned value is a deep copy and may be modified.
func Lookup(name string) (Variant, error) {
	i := slices.IndexFunc(builtin, func(v Variant) bool {
		return v.Name == name || slices.Contains(v.Parts, name)
	})
	if i < 0 {
		return Variant{}, fmt.Errorf("%w: unknown variant %q", ErrVariant, name)
	}
	return clone(builtin[i]), nil
}

func clone(v Variant) Variant {
	v.Parts = slices.Clone(v.Parts)
	units := make([]Unit, len(v.Units))
	for i, u := range v.Units {
		u.PinSets = slices.Clone(u.PinSets)
		units[i] = u
	}
	v.Units = units
	return v
}
