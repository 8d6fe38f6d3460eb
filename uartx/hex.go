// uartx/hex.go

package uartx

const hexDigits = "0123456789ABCDEF"

func appendHex8(dst []byte, b byte) []byte {
	return append(dst, hexDigits[b>>4], hexDigits[b&0x0F])
}

// Println writes CR LF.
func (u *UART) Println() error {
	_, err := u.Write([]byte{'\r', '\n'})
	return err
}

// PrintHex writes b as two uppercase hex digits.
func (u *UART) PrintHex(b byte) error {
	var buf [2]byte
	_, err := u.Write(appendHex8(buf[:0], b))
	return err
}

// PrintHex16 writes w as four hex digits, high byte first. With swap the
// low byte comes first.
func (u *UART) PrintHex16(w uint16, swap bool) error {
	var buf [4]byte
	_, err := u.Write(appendHex16(buf[:0], w, swap))
	return err
}

// PrintHex32 writes l as eight hex digits, most significant byte first.
// With swap the byte order is reversed.
func (u *UART) PrintHex32(l uint32, swap bool) error {
	var buf [8]byte
	out := buf[:0]
	for i := 0; i < 4; i++ {
		shift := uint(24 - 8*i)
		if swap {
			shift = uint(8 * i)
		}
		out = appendHex8(out, byte(l>>shift))
	}
	_, err := u.Write(out)
	return err
}

// PrintHexln writes b in hex followed by CR LF.
func (u *UART) PrintHexln(b byte) error {
	if err := u.PrintHex(b); err != nil {
		return err
	}
	return u.Println()
}

// PrintHexBytes writes each byte of p in hex, separated by sep unless sep
// is zero, and ends the line.
func (u *UART) PrintHexBytes(p []byte, sep byte) error {
	for i, b := range p {
		if i > 0 && sep != 0 {
			if err := u.WriteByte(sep); err != nil {
				return err
			}
		}
		if err := u.PrintHex(b); err != nil {
			return err
		}
	}
	return u.Println()
}

// PrintHexWords is PrintHexBytes for 16-bit values.
func (u *UART) PrintHexWords(p []uint16, sep byte, swap bool) error {
	var buf [4]byte
	for i, w := range p {
		if i > 0 && sep != 0 {
			if err := u.WriteByte(sep); err != nil {
				return err
			}
		}
		if _, err := u.Write(appendHex16(buf[:0], w, swap)); err != nil {
			return err
		}
	}
	return u.Println()
}

func appendHex16(dst []byte, w uint16, swap bool) []byte {
	hi, lo := byte(w>>8), byte(w)
	if swap {
		hi, lo = lo, hi
	}
	return appendHex8(appendHex8(dst, hi), lo)
}
