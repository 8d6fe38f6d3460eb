package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jangala-dev/avr-uartx/uartx"
)

const (
	sendChunk = 64
	recvChunk = 128
)

// suite prints a PASS/FAIL line per test and a summary.
type suite struct {
	w          io.Writer
	pass, fail int
}

func (s *suite) run(name string, f func() string) {
	fmt.Fprintln(s.w)
	fmt.Fprintln(s.w, "[Test]", name)
	if msg := f(); msg == "" {
		fmt.Fprintln(s.w, "  PASS")
		s.pass++
	} else {
		fmt.Fprintln(s.w, "  FAIL:", msg)
		s.fail++
	}
}

func (s *suite) summary() error {
	fmt.Fprintln(s.w)
	fmt.Fprintln(s.w, "Summary")
	fmt.Fprintln(s.w, "  passed =", s.pass)
	fmt.Fprintln(s.w, "  failed =", s.fail)
	if s.fail > 0 {
		return fmt.Errorf("%d of %d tests failed", s.fail, s.pass+s.fail)
	}
	return nil
}

func drain(u *uartx.UART) {
	for u.Buffered() > 0 {
		_, _ = u.ReadByte()
	}
}

func sendAllContext(ctx context.Context, u *uartx.UART, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		if n := u.TryWrite(p[sent:]); n > 0 {
			sent += n
			continue
		}
		select {
		case <-u.Writable():
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
	return sent, nil
}

func recvExact(ctx context.Context, u *uartx.UART, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	tmp := make([]byte, recvChunk)
	for len(out) < n {
		want := n - len(out)
		if want > len(tmp) {
			want = len(tmp)
		}
		k, err := u.ReadBlocking(ctx, tmp[:want])
		if err != nil {
			return out, err
		}
		out = append(out, tmp[:k]...)
	}
	return out, nil
}

// Deterministic streams; the two directions differ so a crossed wire shows.
func patternA(i int) byte { return byte((i*31 + 0x55) & 0xFF) }
func patternB(i int) byte { return byte((i*17 + 0xA6) & 0xFF) }

// lcg fills n bytes from a linear congruential generator.
func lcg(n int) []byte {
	b := make([]byte, n)
	var x uint32 = 0x12345678
	for i := range b {
		x = 1664525*x + 1013904223
		b[i] = byte(x >> 24)
	}
	return b
}

func sendPatternContext(ctx context.Context, u *uartx.UART, gen func(int) byte, n int) error {
	var buf [sendChunk]byte
	for i := 0; i < n; {
		k := sendChunk
		if n-i < k {
			k = n - i
		}
		for j := 0; j < k; j++ {
			buf[j] = gen(i + j)
		}
		if _, err := sendAllContext(ctx, u, buf[:k]); err != nil {
			return err
		}
		i += k
	}
	return nil
}

func printStats(w io.Writer, u *uartx.UART, label string) {
	s := u.Stats()
	r := u.Regs()
	fmt.Fprintln(w, "==", label)
	fmt.Fprintf(w, "ISR:    rxc=%d dre=%d txc=%d\n", s.RXInterrupts, s.DREInterrupts, s.TXCInterrupts)
	fmt.Fprintf(w, "Errors: BUFOVF=%d FERR=%d PERR=%d\n", s.ErrOverrun, s.ErrFraming, s.ErrParity)
	fmt.Fprintf(w, "Ring:   puts=%d drops=%d maxUsed=%d parityDrops=%d echoDrops=%d\n",
		s.RingPuts, s.RingDrops, s.RingMaxUsed, s.ParityDrops, s.EchoDrops)
	fmt.Fprintf(w, "TX:     bytes=%d waits=%d\n", s.TXBytes, s.TXWaits)
	fmt.Fprintf(w, "Waits:  waits=%d spurious=%d timeouts=%d\n", s.ReadWaits, s.SpuriousWakes, s.Timeouts)
	fmt.Fprintf(w, "Regs:   STATUS=%#02x CTRLA=%#02x CTRLB=%#02x CTRLC=%#02x BAUD=%d\n",
		r.STATUS, r.CTRLA, r.CTRLB, r.CTRLC, r.BAUD)
}
