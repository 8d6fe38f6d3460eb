package main

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/avr-uartx/sim"
	"github.com/jangala-dev/avr-uartx/uartx"
	"github.com/jangala-dev/avr-uartx/usart"
)

const timeoutPerTest = 3 * time.Second

var (
	selftestOpts = struct {
		channel string
		stats   bool
	}{}

	selftestCmd = &cobra.Command{
		Use:   "selftest",
		Short: "Run the loopback self test on one channel",
		Long:  "Begin one channel in internal loopback and check reads, writes, notifications, overflow, flush, backpressure, half duplex and End.",
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

			u, hw, err := b.channel(selftestOpts.channel)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "uartx self test on %s %s (%s, loopback, %d baud)\n",
				v.Name, u.Name(), hw, globalOpts.baud)
			s := &suite{w: w}
			selftest(s, u, hw, globalOpts.baud)
			if selftestOpts.stats {
				printStats(w, u, "after selftest")
			}
			return s.summary()
		},
	}
)

func init() {
	selftestCmd.Flags().StringVarP(&selftestOpts.channel, "channel", "c", "Serial", "channel to test")
	selftestCmd.Flags().BoolVar(&selftestOpts.stats, "stats", false, "print driver counters at the end")
}

// selftest runs the loopback tests against u, whose USART is hw.
func selftest(s *suite, u *uartx.UART, hw *sim.USART, baud uint32) {
	loop := uartx.Serial8N1 | uartx.Loopback
	reset := func() {
		drain(u)
		_ = u.LineErrors()
		u.ResetStats()
	}

	s.run("begin loopback", func() string {
		if err := u.Begin(baud, loop); err != nil {
			return err.Error()
		}
		if !u.Enabled() {
			return "not enabled after Begin"
		}
		return ""
	})

	s.run("initial Writable", func() string {
		select {
		case <-u.Writable():
			return ""
		case <-time.After(100 * time.Millisecond):
			return "no Writable signal after Begin"
		}
	})

	s.run("short loopback", func() string {
		reset()
		msg := []byte("hello, uartx")
		if _, err := u.Write(msg); err != nil {
			return err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
		defer cancel()
		got, err := recvExact(ctx, u, len(msg))
		if err != nil {
			return fmt.Sprintf("%v after %d bytes", err, len(got))
		}
		if !bytes.Equal(got, msg) {
			return fmt.Sprintf("got %q want %q", got, msg)
		}
		return ""
	})

	s.run("blocking read", func() string {
		reset()
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = u.WriteByte('Z')
		}()
		ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
		defer cancel()
		c, err := u.ReadByteBlocking(ctx)
		if err != nil {
			return err.Error()
		}
		if c != 'Z' {
			return fmt.Sprintf("got %q want 'Z'", c)
		}
		return ""
	})

	s.run("read timeout", func() string {
		reset()
		var buf [8]byte
		start := time.Now()
		n, err := u.ReadWithTimeout(buf[:], 50*time.Millisecond)
		if n != 0 || !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Sprintf("n=%d err=%v; want 0, deadline exceeded", n, err)
		}
		if time.Since(start) < 40*time.Millisecond {
			return "returned before the timeout"
		}
		if u.Stats().Timeouts == 0 {
			return "timeout not counted"
		}
		return ""
	})

	s.run("Readable notify", func() string {
		reset()
		ready := u.Readable()
		// Consume a stale signal from an earlier test.
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
		case <-time.After(300 * time.Millisecond):
			return "no notification within 300ms"
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
		defer cancel()
		got, err := recvExact(ctx, u, 2)
		if err != nil || string(got) != "AB" {
			return fmt.Sprintf("got %q err=%v", got, err)
		}
		return ""
	})

	s.run("two lines", func() string {
		reset()
		data := []byte("first line\r\nsecond line\n")
		if _, err := u.Write(data); err != nil {
			return err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
		defer cancel()
		got, err := recvExact(ctx, u, len(data))
		if err != nil {
			return err.Error()
		}
		if !bytes.Equal(got, data) {
			return fmt.Sprintf("got %q", got)
		}
		return ""
	})

	s.run("line errors", func() string {
		reset()
		hw.ReceiveFrame('f', usart.RXDATAH_FERR)
		ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
		defer cancel()
		if _, err := u.ReadByteBlocking(ctx); err != nil {
			return err.Error()
		}
		if e := u.LineErrors(); e&uartx.FrameError == 0 {
			return fmt.Sprintf("LineErrors=%v want frame", e)
		}
		if u.LineErrors() != 0 {
			return "LineErrors not cleared by the first call"
		}
		return ""
	})

	s.run("4 KiB SHA-1", func() string {
		reset()
		src := lcg(4096)
		want := sha1.Sum(src)
		ctx, cancel := context.WithTimeout(context.Background(), 4*timeoutPerTest)
		defer cancel()
		errc := make(chan error, 1)
		go func() {
			_, err := sendAllContext(ctx, u, src)
			errc <- err
		}()
		got, err := recvExact(ctx, u, len(src))
		if err != nil {
			return fmt.Sprintf("%v after %d bytes", err, len(got))
		}
		if err := <-errc; err != nil {
			return err.Error()
		}
		if sha1.Sum(got) != want {
			return "hash mismatch"
		}
		return ""
	})

	s.run("overflow burst", func() string {
		reset()
		n := 4 * u.Buffer.Size()
		burst := make([]byte, n)
		for i := range burst {
			burst[i] = byte(i)
		}
		// Nobody reads: the RX ring fills and the newest bytes are dropped.
		if _, err := u.Write(burst); err != nil {
			return err.Error()
		}
		_ = u.Flush()
		time.Sleep(10 * globalOpts.tick)
		keep := u.Buffer.Size() - 1
		if u.Available() != keep {
			return fmt.Sprintf("Available=%d want %d", u.Available(), keep)
		}
		held := make([]byte, keep)
		u.TryRead(held)
		if !bytes.Equal(held, burst[:keep]) {
			return "ring does not hold the oldest bytes"
		}
		if st := u.Stats(); st.RingDrops == 0 {
			return "no ring drops counted"
		}
		return ""
	})

	s.run("flush", func() string {
		reset()
		hw.ResetTransmitted()
		if _, err := u.WriteString("flushed"); err != nil {
			return err.Error()
		}
		if err := u.Flush(); err != nil {
			return err.Error()
		}
		if hw.Busy() {
			return "transmitter busy after Flush"
		}
		if got := hw.Transmitted(); string(got) != "flushed" {
			return fmt.Sprintf("wire saw %q", got)
		}
		settle(u)
		return ""
	})

	s.run("backpressure", func() string {
		reset()
		if got, want := u.AvailableForWrite(), u.TxBuffer.Size()-1; got != want {
			return fmt.Sprintf("AvailableForWrite=%d want %d", got, want)
		}
		big := make([]byte, 4*u.TxBuffer.Size())
		n := u.TryWrite(big)
		if n == 0 || n >= len(big) {
			return fmt.Sprintf("TryWrite queued %d of %d", n, len(big))
		}
		if u.AvailableForWrite() != 0 {
			return "ring not full after a short TryWrite"
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
		defer cancel()
		if err := u.WaitWritable(ctx); err != nil {
			return "no progress: " + err.Error()
		}
		settle(u)
		return ""
	})

	s.run("half duplex", func() string {
		if err := u.Begin(baud, uartx.Serial8N1|uartx.HalfDuplex); err != nil {
			return err.Error()
		}
		reset()
		hw.ResetTransmitted()
		if _, err := u.WriteString("ping"); err != nil {
			return err.Error()
		}
		_ = u.Flush()
		time.Sleep(4 * globalOpts.tick)
		if string(hw.Transmitted()) != "ping" {
			return fmt.Sprintf("wire saw %q", hw.Transmitted())
		}
		if u.Available() != 0 {
			return fmt.Sprintf("heard %d bytes of its own echo", u.Available())
		}
		hw.Receive('r')
		ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
		defer cancel()
		if c, err := u.ReadByteBlocking(ctx); err != nil || c != 'r' {
			return fmt.Sprintf("receiver not re-enabled: %q %v", c, err)
		}
		return ""
	})

	s.run("end", func() string {
		u.End()
		if u.Enabled() {
			return "still enabled"
		}
		if err := u.WriteByte('x'); !errors.Is(err, uartx.ErrDisabled) {
			return fmt.Sprintf("WriteByte after End: %v", err)
		}
		return ""
	})
}

// settle waits for looped-back output to land, then discards it.
func settle(u *uartx.UART) {
	_ = u.Flush()
	time.Sleep(4 * globalOpts.tick)
	drain(u)
}
