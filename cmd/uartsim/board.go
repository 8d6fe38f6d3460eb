package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jangala-dev/avr-uartx/device"
	"github.com/jangala-dev/avr-uartx/sim"
	"github.com/jangala-dev/avr-uartx/uartx"
)

// loadVariant returns the variant named by --device or --variant.
func loadVariant() (device.Variant, error) {
	if globalOpts.device == "" {
		return device.Lookup(globalOpts.variant)
	}
	f, err := os.Open(globalOpts.device)
	if err != nil {
		return device.Variant{}, err
	}
	defer f.Close()
	v, err := device.Load(f)
	if err != nil {
		return device.Variant{}, fmt.Errorf("%s: %w", globalOpts.device, err)
	}
	return v, nil
}

// board is one simulated part with its channel registry.
type board struct {
	m   *sim.MCU
	reg *uartx.Registry

	cancel context.CancelFunc
	done   chan struct{}
}

func newBoard(v device.Variant) (*board, error) {
	m := sim.New(v)
	reg, err := uartx.NewRegistry(v, uartx.Hardware{
		Interrupts: m.CPU,
		Bus:        m.Bus,
		Pin:        m.Pin,
		Router:     m.Mux,
	})
	if err != nil {
		return nil, err
	}
	return &board{m: m, reg: reg}, nil
}

// start runs interrupt dispatch and the USART clocks in the background.
func (b *board) start(period time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		_ = b.m.Run(ctx, period)
	}()
}

// stop ends every channel, which drains pending output, then halts the MCU.
func (b *board) stop() {
	b.reg.End()
	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
	}
}

// channel returns the channel called name and the USART behind it.
func (b *board) channel(name string) (*uartx.UART, *sim.USART, error) {
	u, ok := b.reg.Get(name)
	if !ok {
		return nil, nil, fmt.Errorf("%s has no channel %q", b.m.Variant.Name, name)
	}
	return u, b.m.USARTs[u.Unit()], nil
}

// bench is two cross-wired channels: Serial and Serial1 of one board when
// the variant has a second unit, otherwise Serial of two boards.
type bench struct {
	boards []*board
	a, b   *uartx.UART
}

func newBench(v device.Variant) (*bench, error) {
	first, err := newBoard(v)
	if err != nil {
		return nil, err
	}
	a, ha, _ := first.channel(v.Units[0].Channel)
	if len(v.Units) > 1 {
		b, hb, _ := first.channel(v.Units[1].Channel)
		ha.Connect(hb)
		return &bench{boards: []*board{first}, a: a, b: b}, nil
	}
	second, err := newBoard(v)
	if err != nil {
		return nil, err
	}
	b, hb, _ := second.channel(v.Units[0].Channel)
	ha.Connect(hb)
	return &bench{boards: []*board{first, second}, a: a, b: b}, nil
}

func (b *bench) start(period time.Duration) {
	for _, bd := range b.boards {
		bd.start(period)
	}
}

func (b *bench) stop() {
	for _, bd := range b.boards {
		bd.stop()
	}
}

// begin configures both ends alike.
func (b *bench) begin(baud uint32, opts uartx.Options) error {
	if err := b.a.Begin(baud, opts); err != nil {
		return err
	}
	return b.b.Begin(baud, opts)
}

var formats = map[string]uartx.Options{
	"5N1": uartx.Serial5N1,
	"6N1": uartx.Serial6N1,
	"7N1": uartx.Serial7N1,
	"8N1": uartx.Serial8N1,
	"8N2": uartx.Serial8N2,
	"7E1": uartx.Serial7E1,
	"8E1": uartx.Serial8E1,
	"8E2": uartx.Serial8E2,
	"7O1": uartx.Serial7O1,
	"8O1": uartx.Serial8O1,
	"8O2": uartx.Serial8O2,
}

// parseFormat maps a frame name such as 8N1 to its option word.
func parseFormat(s string) (uartx.Options, error) {
	o, ok := formats[strings.ToUpper(s)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown frame format %q", uartx.ErrOptions, s)
	}
	return o, nil
}
