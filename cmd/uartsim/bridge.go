package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/tarm/serial"

	"github.com/jangala-dev/avr-uartx/device"
	"github.com/jangala-dev/avr-uartx/sim"
	"github.com/jangala-dev/avr-uartx/uartx"
	"github.com/jangala-dev/avr-uartx/usart"
)

var (
	bridgeOpts = struct {
		port    string
		channel string
		format  string
	}{}

	bridgeCmd = &cobra.Command{
		Use:   "bridge --port /dev/ttyUSB0",
		Short: "Wire a simulated channel running echo firmware to a host serial port",
		Long:  "Open a host serial port with the channel's frame format and carry bytes between it and a simulated channel whose firmware echoes everything it receives. Stop with Ctrl-C.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bridgeOpts.port == "" {
				return errors.New("bridge: --port is required")
			}
			v, err := loadVariant()
			if err != nil {
				return err
			}
			opts, err := parseFormat(bridgeOpts.format)
			if err != nil {
				return err
			}
			b, err := newBoard(v)
			if err != nil {
				return err
			}
			u, hw, err := b.channel(bridgeOpts.channel)
			if err != nil {
				return err
			}
			port, err := serial.OpenPort(hostConfig(bridgeOpts.port, globalOpts.baud, opts))
			if err != nil {
				return fmt.Errorf("bridge: %w", err)
			}
			defer port.Close()

			b.start(globalOpts.tick)
			defer b.stop()
			if err := u.Begin(globalOpts.baud, opts); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			log.Printf("bridge: %s %s <-> %s at %d baud %s", v.Name, u.Name(), bridgeOpts.port, u.ActualBaud(), opts)
			go echo(ctx, u)
			err = newBridge(hw, port).run(ctx, globalOpts.tick)
			printStats(cmd.OutOrStdout(), u, u.Name())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
)

func init() {
	f := bridgeCmd.Flags()
	f.StringVarP(&bridgeOpts.port, "port", "p", "", "host serial device")
	f.StringVarP(&bridgeOpts.channel, "channel", "c", "Serial", "simulated channel")
	f.StringVarP(&bridgeOpts.format, "format", "f", "8N1", "frame format, applied to both ends")
}

// hostConfig returns the port settings matching baud and opts.
func hostConfig(name string, baud uint32, opts uartx.Options) *serial.Config {
	c := &serial.Config{
		Name:        name,
		Baud:        int(baud),
		ReadTimeout: 10 * time.Millisecond,
		Size:        byte(opts.DataBits()),
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
	switch {
	case opts&uartx.ParityOdd == uartx.ParityOdd:
		c.Parity = serial.ParityOdd
	case opts&uartx.ParityEven != 0:
		c.Parity = serial.ParityEven
	}
	if opts&uartx.Stop2 != 0 {
		c.StopBits = serial.Stop2
	}
	return c
}

// bridge carries bytes between a host stream and a simulated USART. The
// host end is a second USART that mirrors the unit's line format and is
// clocked here, so host bytes enter the unit one character time apart.
type bridge struct {
	hw   *sim.USART
	line *sim.USART
	port io.ReadWriter
}

func newBridge(hw *sim.USART, port io.ReadWriter) *bridge {
	return &bridge{
		hw:   hw,
		line: sim.NewUSART("host", nil, device.Vectors{}),
		port: port,
	}
}

// mirror programs the host end with the unit's current format.
func (br *bridge) mirror() {
	usart.SetBaud(br.line, usart.Baud(br.hw))
	br.line.Set(usart.CTRLC, br.hw.Get(usart.CTRLC))
	br.line.Set(usart.CTRLB, usart.CTRLB_RXEN|usart.CTRLB_TXEN|br.hw.Get(usart.CTRLB)&usart.CTRLB_RXMODE_gm)
	br.line.Connect(br.hw)
}

// run moves bytes until ctx is done or the port fails.
func (br *bridge) run(ctx context.Context, period time.Duration) error {
	br.mirror()
	defer br.hw.Connect(nil)

	in := make(chan []byte, 16)
	out := make(chan []byte, 16)
	errc := make(chan error, 2)
	go br.readPort(ctx, in, errc)
	go br.writePort(ctx, out, errc)

	// The receive FIFO is polled twice per character so it cannot overrun.
	t := time.NewTicker(period / 2)
	defer t.Stop()
	var pending []byte
	for half := false; ; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case p := <-in:
			pending = append(pending, p...)
		case <-t.C:
			if half = !half; half {
				if len(pending) > 0 && usart.HasBits(br.line, usart.STATUS, usart.STATUS_DREIF) {
					br.line.Set(usart.TXDATAL, pending[0])
					pending = pending[1:]
				}
				br.line.Tick()
				br.line.ResetTransmitted()
				br.hw.ResetTransmitted()
			}

			var got []byte
			for br.line.Pending() > 0 {
				_ = br.line.Get(usart.RXDATAH)
				got = append(got, br.line.Get(usart.RXDATAL))
			}
			if len(got) > 0 {
				select {
				case out <- got:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (br *bridge) readPort(ctx context.Context, in chan<- []byte, errc chan<- error) {
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := br.port.Read(buf)
		if n > 0 {
			select {
			case in <- append([]byte(nil), buf[:n]...):
			case <-ctx.Done():
				return
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			// A read timeout on the host port.
			time.Sleep(time.Millisecond)
		default:
			errc <- fmt.Errorf("bridge: read: %w", err)
			return
		}
	}
}

func (br *bridge) writePort(ctx context.Context, out <-chan []byte, errc chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-out:
			if _, err := br.port.Write(p); err != nil {
				errc <- fmt.Errorf("bridge: write: %w", err)
				return
			}
		}
	}
}
