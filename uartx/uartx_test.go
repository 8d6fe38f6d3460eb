package uartx

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/jangala-dev/avr-uartx/device"
	"github.com/jangala-dev/avr-uartx/sim"
	"github.com/jangala-dev/avr-uartx/usart"
)

// rig is one channel on a simulated ATtiny1614.
type rig struct {
	m   *sim.MCU
	reg *Registry
	u   *UART
	hw  *sim.USART
}

// newRig builds a registry with the given ring sizes (0 keeps the SRAM
// default). Nothing runs until the test pumps or starts the MCU.
func newRig(t *testing.T, rx, tx int) *rig {
	t.Helper()
	v, err := device.Lookup("attiny-xy4")
	if err != nil {
		t.Fatal(err)
	}
	v.RXBuffer, v.TXBuffer = rx, tx
	m := sim.New(v)
	reg, err := NewRegistry(v, Hardware{Interrupts: m.CPU, Bus: m.Bus, Pin: m.Pin, Router: m.Mux})
	if err != nil {
		t.Fatal(err)
	}
	u, _ := reg.Get("Serial")
	return &rig{m: m, reg: reg, u: u, hw: m.USARTs[0]}
}

// pump alternates interrupt service and character times, n rounds.
func (r *rig) pump(n int) {
	for i := 0; i < n; i++ {
		r.m.CPU.Service()
		r.m.Tick()
	}
	r.m.CPU.Service()
}

// start runs the MCU in the background for the rest of the test.
func (r *rig) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.m.Run(ctx, 50*time.Microsecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (r *rig) begin(t *testing.T, opts Options) {
	t.Helper()
	if err := r.u.Begin(115200, opts); err != nil {
		t.Fatalf("Begin: %v", err)
	}
}

func TestDisabledChannel(t *testing.T) {
	r := newRig(t, 0, 0)
	u := r.u
	if u.Enabled() {
		t.Fatal("enabled before Begin")
	}
	if err := u.WriteByte('x'); !errors.Is(err, ErrDisabled) {
		t.Fatalf("WriteByte: err=%v; want ErrDisabled", err)
	}
	if n, err := u.Write([]byte("abc")); n != 0 || !errors.Is(err, ErrDisabled) {
		t.Fatalf("Write: n=%d err=%v; want 0, ErrDisabled", n, err)
	}
	if n := u.TryWrite([]byte("abc")); n != 0 {
		t.Fatalf("TryWrite: n=%d; want 0", n)
	}
	if _, err := u.ReadByte(); !errors.Is(err, ErrDisabled) {
		t.Fatalf("ReadByte: err=%v; want ErrDisabled", err)
	}
	if u.Available() != 0 || u.AvailableForWrite() != 0 {
		t.Fatalf("Available=%d AvailableForWrite=%d; want 0, 0", u.Available(), u.AvailableForWrite())
	}
	if _, ok := u.Peek(); ok {
		t.Fatal("Peek on disabled channel returned a byte")
	}
	if err := u.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	u.End() // no-op
}

func TestBegin_ProgramsRegisters(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8E1)

	regs := r.u.Regs()
	if regs.BAUD != 694 {
		t.Fatalf("BAUD=%d want 694", regs.BAUD)
	}
	if regs.CTRLC != uint8(Serial8E1) {
		t.Fatalf("CTRLC=%#x want %#x", regs.CTRLC, uint8(Serial8E1))
	}
	if regs.CTRLA != usart.CTRLA_RXCIE {
		t.Fatalf("CTRLA=%#x want RXCIE only", regs.CTRLA)
	}
	if regs.CTRLB != usart.CTRLB_RXEN|usart.CTRLB_TXEN {
		t.Fatalf("CTRLB=%#x want RXEN|TXEN", regs.CTRLB)
	}
	if got := r.u.ActualBaud(); got != 115274 {
		t.Fatalf("ActualBaud=%d want 115274", got)
	}
	if r.u.AvailableForWrite() != 63 {
		t.Fatalf("AvailableForWrite=%d want 63 (64-byte ring)", r.u.AvailableForWrite())
	}
}

func TestBegin_InvalidOptionsTouchNothing(t *testing.T) {
	r := newRig(t, 0, 0)
	err := r.u.Begin(9600, Options(usart.CTRLC_CHSIZE_9BITH))
	if !errors.Is(err, ErrOptions) {
		t.Fatalf("err=%v; want ErrOptions", err)
	}
	if r.u.Enabled() {
		t.Fatal("enabled after failed Begin")
	}
	if regs := r.u.Regs(); regs.CTRLA != 0 || regs.CTRLB != 0 || regs.BAUD != 0 {
		t.Fatalf("registers touched: %+v", regs)
	}
}

func TestBegin_DefaultBaud(t *testing.T) {
	r := newRig(t, 0, 0)
	if err := r.u.Begin(0, 0); err != nil {
		t.Fatal(err)
	}
	if got := usart.Baud(r.hw); got != 694 {
		t.Fatalf("BAUD=%d want 694 (115200)", got)
	}
}

func TestBegin_EventRX(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1)
	if ev := r.u.Regs().EVCTRL; ev != 0 {
		t.Fatalf("plain Begin: EVCTRL=%#x want 0", ev)
	}
	r.begin(t, Serial8N1|EventRX)
	if ev := r.u.Regs().EVCTRL; ev != usart.EVCTRL_IREI {
		t.Fatalf("EventRX: EVCTRL=%#x want IREI", ev)
	}
	r.u.End()
	if ev := r.u.Regs().EVCTRL; ev != 0 {
		t.Fatalf("after End: EVCTRL=%#x want 0", ev)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1|Loopback)

	want := []byte{0x00, 0xFF, 0x55, 0xAA}
	if n, err := r.u.Write(want); n != len(want) || err != nil {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	r.pump(10)

	if got := r.hw.Transmitted(); !bytes.Equal(got, want) {
		t.Fatalf("sink got % x want % x", got, want)
	}
	got := make([]byte, 8)
	n, _ := r.u.Read(got)
	if !bytes.Equal(got[:n], want) {
		t.Fatalf("loopback got % x want % x", got[:n], want)
	}
	st := r.u.Stats()
	if st.TXBytes != 4 || st.RingPuts != 4 {
		t.Fatalf("stats: %+v", st)
	}
	if usart.HasBits(r.hw, usart.CTRLA, usart.CTRLA_DREIE) {
		t.Fatal("DREIE left on with an empty ring")
	}
}

func TestWrite_FastPathSkipsRing(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1)

	if err := r.u.WriteByte('a'); err != nil {
		t.Fatal(err)
	}
	if !r.u.TxBuffer.Empty() {
		t.Fatal("idle transmitter: byte went through the ring")
	}
	if usart.HasBits(r.hw, usart.CTRLA, usart.CTRLA_DREIE) {
		t.Fatal("DREIE armed for a direct write")
	}
	if !r.hw.Busy() {
		t.Fatal("shift register idle after direct write")
	}
}

func TestReceive_OverflowDropsNewest(t *testing.T) {
	r := newRig(t, 4, 0)
	r.begin(t, Serial8N1)

	for _, b := range []byte{1, 2, 3, 4, 5} {
		r.hw.Receive(b)
		r.m.CPU.Service()
	}
	if got := r.u.Available(); got != 3 {
		t.Fatalf("Available=%d want 3", got)
	}
	got := make([]byte, 8)
	n := r.u.TryRead(got)
	if !bytes.Equal(got[:n], []byte{1, 2, 3}) {
		t.Fatalf("kept % x want 01 02 03", got[:n])
	}
	if st := r.u.Stats(); st.RingDrops != 2 || st.RingMaxUsed != 3 {
		t.Fatalf("RingDrops=%d RingMaxUsed=%d; want 2, 3", st.RingDrops, st.RingMaxUsed)
	}
}

func TestReceive_LineErrors(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8E1)

	r.hw.ReceiveFrame('p', usart.RXDATAH_PERR)
	r.m.CPU.Service()
	if r.u.Available() != 0 {
		t.Fatal("byte with parity error was kept")
	}
	if got := r.u.LineErrors(); got != ParityError {
		t.Fatalf("LineErrors=%v want parity", got)
	}
	if got := r.u.LineErrors(); got != 0 {
		t.Fatalf("LineErrors not cleared: %v", got)
	}

	r.hw.ReceiveFrame('f', usart.RXDATAH_FERR)
	r.m.CPU.Service()
	if b, err := r.u.ReadByte(); err != nil || b != 'f' {
		t.Fatalf("ReadByte=%q,%v; want 'f'", b, err)
	}
	if got := r.u.LineErrors(); got != FrameError {
		t.Fatalf("LineErrors=%v want framing", got)
	}

	// Three frames with no service: the hardware FIFO overflows.
	r.hw.Receive('1')
	r.hw.Receive('2')
	r.hw.Receive('3')
	r.m.CPU.Service()
	if got := r.u.Available(); got != 2 {
		t.Fatalf("Available=%d want 2", got)
	}
	if got := r.u.LineErrors(); got&Overrun == 0 {
		t.Fatalf("LineErrors=%v want overrun", got)
	}
	if st := r.u.Stats(); st.ErrParity != 1 || st.ErrFraming != 1 || st.ErrOverrun != 1 || st.ParityDrops != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestPeekReadByte(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1)
	if _, err := r.u.ReadByte(); !errors.Is(err, ErrBufferEmpty) {
		t.Fatalf("ReadByte on empty: err=%v; want ErrBufferEmpty", err)
	}
	r.hw.Receive('q')
	r.m.CPU.Service()
	if b, ok := r.u.Peek(); !ok || b != 'q' || r.u.Available() != 1 {
		t.Fatalf("Peek=%q,%v Available=%d", b, ok, r.u.Available())
	}
	if b, err := r.u.ReadByte(); err != nil || b != 'q' || r.u.Available() != 0 {
		t.Fatalf("ReadByte=%q,%v Available=%d", b, err, r.u.Available())
	}
}

func TestEnd_DrainsWrites(t *testing.T) {
	r := newRig(t, 0, 0)
	r.start(t)
	r.begin(t, Serial8N1)

	if err := r.u.WriteByte(0x42); err != nil {
		t.Fatal(err)
	}
	r.u.End()
	if got := r.hw.Transmitted(); !bytes.Equal(got, []byte{0x42}) {
		t.Fatalf("after End sink=% x want 42", got)
	}
	if r.u.Enabled() {
		t.Fatal("still enabled after End")
	}
	if regs := r.u.Regs(); regs.CTRLA&(usart.CTRLA_RXCIE|usart.CTRLA_DREIE|usart.CTRLA_TXCIE) != 0 ||
		regs.CTRLB&(usart.CTRLB_RXEN|usart.CTRLB_TXEN) != 0 {
		t.Fatalf("unit not disabled: %+v", regs)
	}
}

func TestFlush_WaitsForShiftRegister(t *testing.T) {
	r := newRig(t, 0, 0)
	r.start(t)
	r.begin(t, Serial8N1)

	msg := []byte("flush me")
	r.u.Write(msg)
	if err := r.u.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := r.hw.Transmitted(); !bytes.Equal(got, msg) {
		t.Fatalf("after Flush sink=%q want %q", got, msg)
	}
	if r.hw.Busy() {
		t.Fatal("transmitter busy after Flush")
	}
	if !r.u.Enabled() {
		t.Fatal("Flush disabled the channel")
	}
}

func TestFlush_NothingWritten(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1)
	// Nothing ticks the hardware: a wait would never end.
	done := make(chan struct{})
	go func() {
		r.u.Flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush waited although nothing was written")
	}
}

func TestWrite_Backpressure(t *testing.T) {
	r := newRig(t, 0, 4)
	r.start(t)
	r.begin(t, Serial8N1)

	want := make([]byte, 200)
	for i := range want {
		want[i] = byte(i)
	}
	if n, err := r.u.Write(want); n != len(want) || err != nil {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	r.u.Flush()
	if got := r.hw.Transmitted(); !bytes.Equal(got, want) {
		t.Fatalf("sink got %d bytes, mismatch at %d", len(got), mismatch(got, want))
	}
	if r.u.Stats().TXWaits == 0 {
		t.Fatal("4-byte ring never made a writer wait")
	}
}

func TestWrite_InterruptsMasked(t *testing.T) {
	r := newRig(t, 0, 4)
	r.begin(t, Serial8N1)

	// Only the hardware runs; the CPU takes no interrupts.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.hw.Run(ctx, 20*time.Microsecond)
	}()
	defer func() {
		cancel()
		<-done
	}()
	r.m.CPU.SetInterrupts(false)
	defer r.m.CPU.SetInterrupts(true)

	want := []byte("written with interrupts off")
	if _, err := r.u.Write(want); err != nil {
		t.Fatal(err)
	}
	r.u.Flush()
	if got := r.hw.Transmitted(); !bytes.Equal(got, want) {
		t.Fatalf("sink got %q want %q", got, want)
	}
	if r.m.CPU.Dispatched() != 0 {
		t.Fatalf("%d handlers dispatched with interrupts off", r.m.CPU.Dispatched())
	}
}

func TestWriteContext_InterruptsMasked(t *testing.T) {
	r := newRig(t, 0, 4)
	r.begin(t, Serial8N1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.hw.Run(ctx, 20*time.Microsecond)
	}()
	defer func() {
		cancel()
		<-done
	}()
	r.m.CPU.SetInterrupts(false)
	defer r.m.CPU.SetInterrupts(true)

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	want := []byte("context write with interrupts off")
	if n, err := r.u.WriteContext(wctx, want); n != len(want) || err != nil {
		t.Fatalf("WriteContext: n=%d err=%v", n, err)
	}
	if err := r.u.FlushContext(wctx); err != nil {
		t.Fatal(err)
	}
	if got := r.hw.Transmitted(); !bytes.Equal(got, want) {
		t.Fatalf("sink got %q want %q", got, want)
	}
}

func TestTryWrite_NoWait(t *testing.T) {
	r := newRig(t, 0, 4)
	r.begin(t, Serial8N1)
	// Two bytes go to the hardware (shift register, then data buffer) and
	// three fit in the ring.
	if n := r.u.TryWrite([]byte("abcdefgh")); n != 5 {
		t.Fatalf("TryWrite=%d want 5", n)
	}
	if n := r.u.TryWrite([]byte("x")); n != 0 {
		t.Fatalf("TryWrite on full ring=%d want 0", n)
	}
	r.pump(10)
	if got := r.hw.Transmitted(); string(got) != "abcde" {
		t.Fatalf("sink got %q want %q", got, "abcde")
	}
}

func TestHalfDuplex_SuppressesEcho(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1|HalfDuplex)
	if !r.u.HalfDuplex() {
		t.Fatal("HalfDuplex()=false")
	}

	r.u.Write([]byte("ping"))
	if usart.HasBits(r.hw, usart.CTRLB, usart.CTRLB_RXEN) {
		t.Fatal("receiver on while transmitting half duplex")
	}
	if !usart.HasBits(r.hw, usart.CTRLA, usart.CTRLA_TXCIE) {
		t.Fatal("TXC not armed for turnaround")
	}
	r.pump(10)

	if got := r.hw.Transmitted(); string(got) != "ping" {
		t.Fatalf("sink got %q", got)
	}
	if r.u.Available() != 0 {
		t.Fatalf("heard own echo: %d bytes", r.u.Available())
	}
	if !usart.HasBits(r.hw, usart.CTRLB, usart.CTRLB_RXEN) {
		t.Fatal("receiver not re-enabled after TXC")
	}
	if usart.HasBits(r.hw, usart.CTRLA, usart.CTRLA_TXCIE) {
		t.Fatal("TXCIE left on after turnaround")
	}

	r.hw.Receive('r')
	r.m.CPU.Service()
	if b, err := r.u.ReadByte(); err != nil || b != 'r' {
		t.Fatalf("reply: got %q,%v", b, err)
	}
}

func TestRXOnly_RefusesWrites(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1|RXOnly)
	if err := r.u.WriteByte('x'); !errors.Is(err, ErrDirection) {
		t.Fatalf("err=%v; want ErrDirection", err)
	}
	r.hw.Receive('y')
	r.m.CPU.Service()
	if r.u.Available() != 1 {
		t.Fatal("RX-only channel did not receive")
	}
}

func TestBegin_AgainEndsFirst(t *testing.T) {
	r := newRig(t, 0, 0)
	r.start(t)
	r.begin(t, Serial8N1)
	r.u.Write([]byte("one"))
	if err := r.u.Begin(9600, Serial7E1); err != nil {
		t.Fatal(err)
	}
	if got := r.hw.Transmitted(); string(got) != "one" {
		t.Fatalf("re-Begin lost pending output: %q", got)
	}
	if usart.Baud(r.hw) != 8333 || r.u.Options() != Serial7E1 {
		t.Fatalf("BAUD=%d options=%v", usart.Baud(r.hw), r.u.Options())
	}
}

// --- blocking helpers ---

func TestReadByteBlocking_UnblocksOnReceive(t *testing.T) {
	r := newRig(t, 0, 0)
	r.start(t)
	r.begin(t, Serial8N1)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var got byte
	var err error

	go func() {
		defer close(done)
		got, err = r.u.ReadByteBlocking(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	r.hw.Receive('Z')

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for ReadByteBlocking")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 'Z' {
		t.Fatalf("got %q want %q", got, 'Z')
	}
}

func TestReadFullBlocking_ReadsExactLen(t *testing.T) {
	r := newRig(t, 0, 0)
	r.start(t)
	r.begin(t, Serial8N1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := []byte("HELLO")
	got := make([]byte, len(want))

	done := make(chan struct{})
	var n int
	var err error

	go func() {
		defer close(done)
		n, err = r.u.ReadFullBlocking(ctx, got)
	}()

	for i := range want {
		time.Sleep(5 * time.Millisecond)
		r.hw.Receive(want[i])
	}

	select {
	case <-done:
	case <-time.After(600 * time.Millisecond):
		t.Fatal("timeout waiting for ReadFullBlocking")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(want) || !bytes.Equal(got, want) {
		t.Fatalf("got n=%d data=%q; want %d, %q", n, got, len(want), want)
	}
}

func TestReadWithTimeout_Expires(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1)

	start := time.Now()
	n, err := r.u.ReadWithTimeout(make([]byte, 4), 20*time.Millisecond)
	if n != 0 || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("n=%d err=%v; want 0, DeadlineExceeded", n, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned before the deadline")
	}
	if r.u.Stats().Timeouts != 1 {
		t.Fatalf("Timeouts=%d want 1", r.u.Stats().Timeouts)
	}
}

func TestEnd_WakesBlockedReader(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := r.u.ReadBlocking(ctx, make([]byte, 4))
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	r.u.End()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrDisabled) {
			t.Fatalf("err=%v; want ErrDisabled", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("End did not wake the reader")
	}
}

func TestWriteContext_Cancelled(t *testing.T) {
	r := newRig(t, 0, 4)
	r.begin(t, Serial8N1)
	// Nothing drains the ring, so the write stalls once it is full.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n, err := r.u.WriteContext(ctx, make([]byte, 32))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v; want DeadlineExceeded", err)
	}
	if n != 5 {
		t.Fatalf("queued %d bytes; want 5 (2 in hardware, 3 in ring)", n)
	}
}

// --- pins ---

func TestBegin_DrivesAndReleasesPins(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1)

	tx, rx := r.m.Port("PB2"), r.m.Port("PB3")
	if !tx.IsOutput() || tx.Read() != gpio.High {
		t.Fatalf("TX %s: output=%v level=%v; want driven high", tx, tx.IsOutput(), tx.Read())
	}
	if rx.IsOutput() || rx.Pull() != gpio.PullUp {
		t.Fatalf("RX %s: output=%v pull=%v; want pulled-up input", rx, rx.IsOutput(), rx.Pull())
	}
	r.u.End()
	if tx.IsOutput() {
		t.Fatal("TX still driven after End")
	}
}

func TestBegin_OpenDrainTX(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, Serial8N1|HalfDuplex)
	tx := r.m.Port("PB2")
	if tx.IsOutput() || tx.Pull() != gpio.PullUp {
		t.Fatalf("open-drain TX: output=%v pull=%v", tx.IsOutput(), tx.Pull())
	}
	if r.m.Port("PB3").Pull() == gpio.PullUp {
		t.Fatal("RX pin claimed in single-wire mode")
	}
}

func TestBegin_SyncAndRS485Pins(t *testing.T) {
	r := newRig(t, 0, 0)
	r.begin(t, ModeSync|Serial8N1|RS485)
	if xck := r.m.Port("PB1"); !xck.IsOutput() {
		t.Fatal("XCK not driven by sync master")
	}
	if xdir := r.m.Port("PB0"); !xdir.IsOutput() || xdir.Read() != gpio.Low {
		t.Fatal("XDIR not driven low")
	}
	r.u.End()

	r.begin(t, ModeSync|SyncSlave|Serial8N1)
	if r.m.Port("PB1").IsOutput() {
		t.Fatal("XCK driven in sync slave mode")
	}
	if usart.Baud(r.hw) != 0 {
		t.Fatalf("sync slave BAUD=%d want 0", usart.Baud(r.hw))
	}
}

func TestSwap_RoutesMux(t *testing.T) {
	r := newRig(t, 0, 0)
	if r.u.Swap(2) {
		t.Fatal("Swap(2) accepted on a unit with two pin sets")
	}
	if !r.u.Swap(1) {
		t.Fatal("Swap(1) refused")
	}
	r.begin(t, Serial8N1)
	if got := r.m.Mux.Selected(0); got != 1 {
		t.Fatalf("PORTMUX selects %d want 1", got)
	}
	if !r.m.Port("PA1").IsOutput() || r.m.Port("PB2").IsOutput() {
		t.Fatal("alternate TX pin not in use")
	}
	if r.u.Swap(0) {
		t.Fatal("Swap accepted while enabled")
	}
}

func TestSetPins(t *testing.T) {
	r := newRig(t, 0, 0)
	if !r.u.SetPins("PA1", "PA2") || r.u.PinSet() != 1 {
		t.Fatalf("SetPins(PA1, PA2): set=%d", r.u.PinSet())
	}
	if r.u.SetPins("PA1", "PB3") {
		t.Fatal("SetPins accepted a mixed pair")
	}
	if !r.u.SetPins("PB2", "") || r.u.PinSet() != 0 {
		t.Fatal("SetPins by TX alone failed")
	}
	if got := r.u.Pins(); got.TX != "PB2" || got.RX != "PB3" {
		t.Fatalf("Pins()=%+v", got)
	}
}

func TestBegin_MissingPinFails(t *testing.T) {
	v, _ := device.Lookup("attiny-xy2")
	m := sim.New(v)
	reg, err := NewRegistry(v, Hardware{Interrupts: m.CPU, Bus: m.Bus, Pin: m.Pin, Router: m.Mux})
	if err != nil {
		t.Fatal(err)
	}
	u, _ := reg.Get("Serial")
	u.Swap(1) // PA1/PA2: no XCK, no XDIR
	if err := u.Begin(9600, ModeSync|Serial8N1); !errors.Is(err, ErrPinSet) {
		t.Fatalf("sync on a set without XCK: err=%v; want ErrPinSet", err)
	}
	if err := u.Begin(9600, Serial8N1|RS485); !errors.Is(err, ErrPinSet) {
		t.Fatalf("RS485 on a set without XDIR: err=%v; want ErrPinSet", err)
	}
	if u.Enabled() {
		t.Fatal("enabled after failed Begin")
	}
	if err := u.Begin(9600, Serial8N1); err != nil {
		t.Fatalf("plain async on PA1/PA2: %v", err)
	}
}

func mismatch(a, b []byte) int {
	for i := range a {
		if i >= len(b) || a[i] != b[i] {
			return i
		}
	}
	return len(a)
}
