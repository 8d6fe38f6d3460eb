package main

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"hash"
	"time"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/avr-uartx/uartx"
)

var (
	dualOpts = struct {
		pings int
	}{}

	dualCmd = &cobra.Command{
		Use:   "dual",
		Short: "Cross-channel self test: short messages, ping/echo and streamed hashes",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadVariant()
			if err != nil {
				return err
			}
			b, err := newBench(v)
			if err != nil {
				return err
			}
			b.start(globalOpts.tick)
			defer b.stop()
			if err := b.begin(globalOpts.baud, uartx.Serial8N1); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "uartx cross-channel self test (%s, %d boards, %d baud)\n",
				v.Name, len(b.boards), globalOpts.baud)
			s := &suite{w: w}
			dual(s, b.a, b.b, dualOpts.pings)
			return s.summary()
		},
	}
)

func init() {
	dualCmd.Flags().IntVar(&dualOpts.pings, "pings", 16, "ping/echo round trips")
}

func dual(s *suite, a, b *uartx.UART, pings int) {
	short := func(tx, rx *uartx.UART, msg string) func() string {
		return func() string {
			drain(a)
			drain(b)
			ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest)
			defer cancel()
			done := make(chan struct{}, 1)
			go func() { _, _ = sendAllContext(ctx, tx, []byte(msg)); done <- struct{}{} }()
			got, err := recvExact(ctx, rx, len(msg))
			if err != nil || string(got) != msg {
				return fmt.Sprintf("got %q err=%v", got, err)
			}
			<-done
			return ""
		}
	}
	s.run("A -> B short", short(a, b, "hello from A\r\n"))
	s.run("B -> A short", short(b, a, "hi from B\r\n"))

	s.run("ping/echo", func() string {
		drain(a)
		drain(b)
		ctx, cancel := context.WithTimeout(context.Background(), timeoutPerTest+time.Duration(pings)*100*globalOpts.tick)
		defer cancel()
		echoCtx, stopEcho := context.WithCancel(ctx)
		defer stopEcho()
		go echo(echoCtx, b)

		var worst time.Duration
		for i := 0; i < pings; i++ {
			msg := []byte(fmt.Sprintf("ping %d\n", i))
			start := time.Now()
			if _, err := a.WriteContext(ctx, msg); err != nil {
				return err.Error()
			}
			got, err := recvExact(ctx, a, len(msg))
			if err != nil {
				return fmt.Sprintf("ping %d: %v", i, err)
			}
			if !bytes.Equal(got, msg) {
				return fmt.Sprintf("ping %d: echo %q", i, got)
			}
			if rtt := time.Since(start); rtt > worst {
				worst = rtt
			}
		}
		fmt.Fprintf(s.w, "  %d round trips, worst %v\n", pings, worst.Round(time.Microsecond))
		return ""
	})

	stream := func(tx, rx *uartx.UART, gen func(int) byte, n int) func() string {
		return func() string {
			drain(a)
			drain(b)
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout(n))
			defer cancel()
			go func() { _ = sendPatternContext(ctx, tx, gen, n) }()
			h := sha1.New()
			start := time.Now()
			if err := recvStream(ctx, rx, n, h); err != nil {
				return "timeout/short read"
			}
			elapsed := time.Since(start)
			if !bytes.Equal(h.Sum(nil), sha1Pattern(gen, n)) {
				return "hash mismatch"
			}
			fmt.Fprintf(s.w, "  %d bytes in %v (%.0f B/s)\n", n, elapsed.Round(time.Millisecond), float64(n)/elapsed.Seconds())
			return ""
		}
	}
	s.run("A -> B integrity 4KiB (streamed)", stream(a, b, patternA, 4*1024))
	s.run("B -> A integrity 4KiB (streamed)", stream(b, a, patternB, 4*1024))
}

// echo writes back everything u receives until ctx is done.
func echo(ctx context.Context, u *uartx.UART) {
	var buf [recvChunk]byte
	for {
		n, err := u.ReadBlocking(ctx, buf[:])
		if err != nil {
			return
		}
		if _, err := u.WriteContext(ctx, buf[:n]); err != nil {
			return
		}
	}
}

// recvStream reads n bytes into h, which may be nil.
func recvStream(ctx context.Context, u *uartx.UART, n int, h hash.Hash) error {
	var buf [recvChunk]byte
	for n > 0 {
		k := n
		if k > len(buf) {
			k = len(buf)
		}
		m, err := u.ReadBlocking(ctx, buf[:k])
		if err != nil {
			return err
		}
		if h != nil {
			h.Write(buf[:m])
		}
		n -= m
	}
	return nil
}

func sha1Pattern(gen func(int) byte, n int) []byte {
	h := sha1.New()
	for i := 0; i < n; i++ {
		h.Write([]byte{gen(i)})
	}
	return h.Sum(nil)
}
