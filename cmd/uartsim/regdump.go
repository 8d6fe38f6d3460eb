package main

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/avr-uartx/uartx"
)

var (
	regdumpOpts = struct {
		channel string
		swap    int
		tx, rx  string
	}{}

	regdumpCmd = &cobra.Command{
		Use:   "regdump",
		Short: "Dump pin routing, registers and driver counters around a loopback run",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadVariant()
			if err != nil {
				return err
			}
			b, err := newBoard(v)
			if err != nil {
				return err
			}
			b.start(globalOpts.tick)
			defer b.stop()
			u, _, err := b.channel(regdumpOpts.channel)
			if err != nil {
				return err
			}
			switch {
			case regdumpOpts.tx != "":
				if !u.SetPins(regdumpOpts.tx, regdumpOpts.rx) {
					return fmt.Errorf("%w: %s has no pin set TX=%s RX=%s", uartx.ErrPinSet, u.Name(), regdumpOpts.tx, regdumpOpts.rx)
				}
			case regdumpOpts.swap >= 0:
				if !u.Swap(uint8(regdumpOpts.swap)) {
					return fmt.Errorf("%w: %s has no pin set %d", uartx.ErrPinSet, u.Name(), regdumpOpts.swap)
				}
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "uartx regdump (diagnostic)")
			r := u.Regs()
			fmt.Fprintf(w, "Before Begin: STATUS=%#02x CTRLA=%#02x CTRLB=%#02x CTRLC=%#02x BAUD=%d\n",
				r.STATUS, r.CTRLA, r.CTRLB, r.CTRLC, r.BAUD)
			if err := u.Begin(globalOpts.baud, uartx.Serial8N1|uartx.Loopback); err != nil {
				return err
			}
			printRouting(w, b, u)
			runPhases(w, u)
			return nil
		},
	}
)

func init() {
	f := regdumpCmd.Flags()
	f.StringVarP(&regdumpOpts.channel, "channel", "c", "Serial", "channel to inspect")
	f.IntVar(&regdumpOpts.swap, "swap", -1, "select pin set by index")
	f.StringVar(&regdumpOpts.tx, "tx", "", "select the pin set with this TX pin")
	f.StringVar(&regdumpOpts.rx, "rx", "", "RX pin to match with --tx")
}

func printRouting(w io.Writer, b *board, u *uartx.UART) {
	fmt.Fprintf(w, "%s: %s on USART%d, %s, %d baud requested, %d actual\n",
		b.m.Variant.Name, u.Name(), u.Unit(), u.Options(), globalOpts.baud, u.ActualBaud())
	for i, ps := range u.PinSets() {
		mark := " "
		if uint8(i) == u.PinSet() {
			mark = "*"
		}
		fmt.Fprintf(w, " %s set %d: TX=%s RX=%s XCK=%s XDIR=%s\n", mark, i, ps.TX, ps.RX, orDash(ps.XCK), orDash(ps.XDIR))
	}
	fmt.Fprintf(w, "PORTMUX (%s) = %#02x\n", b.m.Variant.Mux, b.m.Mux.Register())
	for _, p := range b.m.Pins() {
		fmt.Fprintf(w, "  %-4s %s\n", p.Name(), p.Func())
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runPhases(w io.Writer, u *uartx.UART) {
	// Phase 1: 1 KiB integrity
	fmt.Fprintln(w, "\n[phase] integrity-1k")
	u.ResetStats()
	drain(u)
	src := lcg(1024)
	want := sha1.Sum(src)
	ctx1, cancel1 := context.WithTimeout(context.Background(), testTimeout(len(src)))
	go func() { _, _ = sendAllContext(ctx1, u, src) }()
	got, err := recvExact(ctx1, u, len(src))
	cancel1()
	switch {
	case err != nil:
		fmt.Fprintf(w, " result: TIMEOUT (received %d bytes)\n", len(got))
	case sha1.Sum(got) != want:
		fmt.Fprintf(w, " result: HASH MISMATCH (received %d bytes)\n", len(got))
	default:
		fmt.Fprintln(w, " result: OK (1 KiB)")
	}
	printStats(w, u, "after integrity-1k")

	// Phase 2: burst with the reader held off
	fmt.Fprintln(w, "\n[phase] burst-2k (reader held off)")
	u.ResetStats()
	drain(u)
	n := 2 * 1024
	burst := make([]byte, n)
	for i := range burst {
		burst[i] = byte(i)
	}
	done := make(chan struct{})
	go func() { _, _ = u.Write(burst); close(done) }()
	time.Sleep(time.Duration(4*u.Buffer.Size()) * globalOpts.tick)
	ctx2, cancel2 := context.WithTimeout(context.Background(), testTimeout(n))
	got2, err2 := recvExact(ctx2, u, n)
	cancel2()
	<-done
	if err2 != nil {
		fmt.Fprintf(w, " result: received %d of %d bytes (%v)\n", len(got2), n, err2)
	} else {
		fmt.Fprintln(w, " result: received all", len(got2), "bytes")
	}
	printStats(w, u, "after burst-2k")

	// Phase 3: notify sanity (two bytes)
	fmt.Fprintln(w, "\n[phase] notify-2bytes")
	u.ResetStats()
	drain(u)
	ready := u.Readable()
	select {
	case <-ready:
	default:
	}
	go func() {
		_ = u.WriteByte('A')
		time.Sleep(5 * time.Millisecond)
		_ = u.WriteByte('B')
	}()
	select {
	case <-ready:
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond+testTimeout(2))
		got3, _ := recvExact(ctx, u, 2)
		cancel()
		fmt.Fprintf(w, " result: got %q\n", got3)
	case <-time.After(300 * time.Millisecond):
		fmt.Fprintln(w, " result: no notification within 300ms")
	}
	printStats(w, u, "after notify-2bytes")

	fmt.Fprintln(w, "\ndone")
}
