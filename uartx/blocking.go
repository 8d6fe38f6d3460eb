// uartx/blocking.go

package uartx

import (
	"context"
	"time"
)

// Readable exposes a coalesced readiness signal suitable for select.
func (u *UART) Readable() <-chan struct{} { return u.notify }

// Writable exposes a coalesced TX readiness/drain signal suitable for select.
func (u *UART) Writable() <-chan struct{} { return u.txNotify }

// WaitReadable blocks until data is available, the channel is ended or ctx
// is done.
func (u *UART) WaitReadable(ctx context.Context) error {
	for {
		if !u.Enabled() {
			return ErrDisabled
		}
		if u.Buffer.Used() > 0 {
			return nil
		}
		u.stats.readWaits.Inc()
		select {
		case <-u.notify:
			// re-check; if empty, it was a spurious wake (coalesced notify)
			if u.Enabled() && u.Buffer.Empty() {
				u.stats.spuriousWakes.Inc()
			}
		case <-ctx.Done():
			u.stats.timeouts.Inc()
			return ctx.Err()
		}
	}
}

// ReadBlocking blocks until at least one byte is available, then reads up
// to len(p).
func (u *UART) ReadBlocking(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if n, err := u.Read(p); n > 0 || err != nil {
			return n, err
		}
		if err := u.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadFullBlocking reads exactly len(p) bytes unless ctx ends first.
func (u *UART) ReadFullBlocking(ctx context.Context, p []byte) (int, error) {
	read := 0
	for read < len(p) {
		n, err := u.Read(p[read:])
		if err != nil {
			return read, err
		}
		if n > 0 {
			read += n
			continue
		}
		if err := u.WaitReadable(ctx); err != nil {
			return read, err
		}
	}
	return read, nil
}

// ReadByteBlocking blocks for a single byte or until ctx is done.
func (u *UART) ReadByteBlocking(ctx context.Context) (byte, error) {
	for {
		b, err := u.ReadByte()
		if err != ErrBufferEmpty {
			return b, err
		}
		if err := u.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadWithTimeout is ReadBlocking bounded by d.
func (u *UART) ReadWithTimeout(p []byte, d time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return u.ReadBlocking(ctx, p)
}

// WaitWritable blocks until the TX ring has space or ctx is done. It waits
// on the DRE handler, or polls the data register while interrupts are off.
func (u *UART) WaitWritable(ctx context.Context) error {
	for {
		if err := u.canWrite(); err != nil {
			return err
		}
		if !u.TxBuffer.Full() {
			return nil
		}
		if !u.irq.Enabled() {
			// No DRE interrupt will signal; drain the ring ourselves.
			if err := ctx.Err(); err != nil {
				u.stats.timeouts.Inc()
				return err
			}
			u.pollDataRegisterEmpty()
			continue
		}
		select {
		case <-u.txNotify: // progress likely occurred; re-check
		case <-ctx.Done():
			u.stats.timeouts.Inc()
			return ctx.Err()
		}
	}
}

// WriteContext queues all of p, waiting on TX progress events instead of
// busy-polling, and gives up when ctx is done. It returns the bytes queued.
func (u *UART) WriteContext(ctx context.Context, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		if n := u.TryWrite(p[sent:]); n > 0 {
			sent += n
			continue
		}
		if err := u.WaitWritable(ctx); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// FlushContext is Flush bounded by ctx.
func (u *UART) FlushContext(ctx context.Context) error {
	for !u.idle() {
		if err := ctx.Err(); err != nil {
			u.stats.timeouts.Inc()
			return err
		}
		u.pollDataRegisterEmpty()
	}
	return nil
}
