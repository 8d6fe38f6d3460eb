package main

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/avr-uartx/uartx"
)

const (
	preambleByte   = 0x55
	contextRadius  = 16 // bytes shown either side of a mismatch
	extraFollowing = 64 // bytes read and shown after a mismatch
)

var (
	integrityOpts = struct {
		size     int
		duplex   bool
		preamble bool
		format   string
	}{}

	integrityCmd = &cobra.Command{
		Use:   "integrity",
		Short: "Stream deterministic patterns across two cross-wired channels",
		Long:  "Cross-wire two channels (Serial and Serial1, or Serial of two simulated parts) and verify every byte and the SHA-1 of a long stream in each direction.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadVariant()
			if err != nil {
				return err
			}
			opts, err := parseFormat(integrityOpts.format)
			if err != nil {
				return err
			}
			b, err := newBench(v)
			if err != nil {
				return err
			}
			b.start(globalOpts.tick)
			defer b.stop()
			if err := b.begin(globalOpts.baud, opts); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "uartx integrity test (%s)\n", v.Name)
			fmt.Fprintf(w, "baud = %d (actual %d)  format = %s  bytes/dir = %d  duplex = %t\n",
				globalOpts.baud, b.a.ActualBaud(), opts, integrityOpts.size, integrityOpts.duplex)

			s := &suite{w: w}
			n := integrityOpts.size
			if integrityOpts.duplex {
				s.run("full duplex", func() string { return runFullDuplex(w, n, b.a, b.b) })
			} else {
				s.run("A to B", func() string { return runOneWay(w, n, b.a, b.b, patternA) })
				s.run("B to A", func() string { return runOneWay(w, n, b.b, b.a, patternB) })
			}
			printStats(w, b.a, "A "+b.a.Name())
			printStats(w, b.b, "B "+b.b.Name())
			return s.summary()
		},
	}
)

func init() {
	f := integrityCmd.Flags()
	f.IntVarP(&integrityOpts.size, "size", "n", 32*1024, "bytes per direction")
	f.BoolVar(&integrityOpts.duplex, "duplex", true, "send both directions at once")
	f.BoolVar(&integrityOpts.preamble, "preamble", true, "send a preamble byte the receiver skips")
	f.StringVarP(&integrityOpts.format, "format", "f", "8N1", "frame format")
}

func testTimeout(n int) time.Duration {
	return timeoutPerTest + time.Duration(n)*20*globalOpts.tick
}

func runOneWay(w io.Writer, n int, tx, rx *uartx.UART, gen func(int) byte) string {
	drain(tx)
	drain(rx)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout(n))
	defer cancel()

	skip := 0
	if integrityOpts.preamble {
		skip = 1
	}
	errc := make(chan string, 1)
	go func() { errc <- recvAndCheckStream(ctx, w, rx, gen, n, skip) }()
	if integrityOpts.preamble {
		_ = tx.WriteByte(preambleByte)
	}
	_ = sendPatternContext(ctx, tx, gen, n)
	return <-errc
}

func runFullDuplex(w io.Writer, n int, a, b *uartx.UART) string {
	drain(a)
	drain(b)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout(n))
	defer cancel()

	skip := 0
	if integrityOpts.preamble {
		skip = 1
	}
	errc := make(chan string, 2)
	go func() { errc <- recvAndCheckStream(ctx, w, b, patternA, n, skip) }()
	go func() { errc <- recvAndCheckStream(ctx, w, a, patternB, n, skip) }()
	if integrityOpts.preamble {
		_ = a.WriteByte(preambleByte)
		_ = b.WriteByte(preambleByte)
	}
	go func() { _ = sendPatternContext(ctx, a, patternA, n) }()
	go func() { _ = sendPatternContext(ctx, b, patternB, n) }()

	if e := <-errc; e != "" {
		return e
	}
	return <-errc
}

// recvAndCheckStream reads n bytes after skipping skip, compares each with
// gen(i) and the stream's SHA-1 with the expected one. The first mismatch is
// dumped with its surrounding context and the bytes that followed it.
func recvAndCheckStream(ctx context.Context, w io.Writer, u *uartx.UART, gen func(int) byte, n, skip int) string {
	for s := 0; s < skip; s++ {
		if _, err := u.ReadByteBlocking(ctx); err != nil {
			return "timeout (waiting to skip preamble)"
		}
	}

	got := sha1.New()
	var buf [recvChunk]byte
	for received := 0; received < n; {
		k := n - received
		if k > len(buf) {
			k = len(buf)
		}
		m, err := u.ReadBlocking(ctx, buf[:k])
		if err != nil {
			return fmt.Sprintf("%v after %d of %d bytes", err, received, n)
		}
		for i := 0; i < m; i++ {
			exp := gen(received + i)
			if buf[i] == exp {
				continue
			}
			off := received + i
			fmt.Fprintln(w, "First mismatch at offset", off)
			printContext(w, gen, off, buf[:m], i)
			following := append([]byte(nil), buf[i+1:m]...)
			for len(following) < extraFollowing && off+1+len(following) < n {
				c, err := u.ReadByteBlocking(ctx)
				if err != nil {
					break
				}
				following = append(following, c)
			}
			printFollowing(w, off, following)
			return "integrity mismatch"
		}
		got.Write(buf[:m])
		received += m
	}
	if !bytes.Equal(got.Sum(nil), sha1Pattern(gen, n)) {
		return "SHA-1 mismatch"
	}
	fmt.Fprintf(w, "  %s sha1=%x\n", u.Name(), got.Sum(nil))
	return ""
}

func printContext(w io.Writer, gen func(int) byte, off int, chunk []byte, rel int) {
	start := off - contextRadius
	if start < 0 {
		start = 0
	}
	end := off + contextRadius + 1
	exp := make([]byte, end-start)
	act := make([]byte, end-start)
	base := off - rel
	for i := range exp {
		exp[i] = gen(start + i)
		if j := start + i - base; j >= 0 && j < len(chunk) {
			act[i] = chunk[j]
		}
	}
	fmt.Fprintf(w, "Context (hex): bytes %d to %d\n", start, end-1)
	fmt.Fprint(w, " exp:")
	printHex(w, exp, off-start)
	fmt.Fprint(w, " act:")
	printHex(w, act, off-start)
}

func printHex(w io.Writer, b []byte, pivot int) {
	for i, c := range b {
		if i == pivot {
			fmt.Fprintf(w, "[%02X]", c)
		} else {
			fmt.Fprintf(w, " %02X", c)
		}
	}
	fmt.Fprintln(w)
}

func printFollowing(w io.Writer, off int, following []byte) {
	fmt.Fprintf(w, "Following bytes received after mismatch (next %d bytes):\n", len(following))
	if len(following) == 0 {
		fmt.Fprintln(w, " <none>")
		return
	}
	for i := 0; i < len(following); i += 16 {
		end := i + 16
		if end > len(following) {
			end = len(following)
		}
		fmt.Fprintf(w, "  +%d: % X\n", off+1+i, following[i:end])
	}
}
