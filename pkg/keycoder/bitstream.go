package keycoder

// appendBitstream writes p using the 7-into-8-bit expansion: every
// output byte carries the high bit set (distinguishing body bytes from
// tag/Sep bytes, which never have it set) and 7 bits of payload, with a
// rolling window across consecutive input bytes. There is no explicit
// terminator byte: decoding stops at the first byte lacking the high
// bit, which is naturally the next tag or Sep byte in the stream. An
// empty p appends nothing.
func appendBitstream(dst []byte, p []byte) []byte {
	shift := uint(1)
	var trailer byte
	for _, o := range p {
		dst = append(dst, 0x80|trailer|(o>>shift))
		if shift < 7 {
			trailer = o << (7 - shift)
			shift++
		} else {
			dst = append(dst, 0x80|o)
			shift = 1
			trailer = 0
		}
	}
	if shift > 1 {
		dst = append(dst, 0x80|trailer)
	}
	return dst
}

// decodeBitstream reverses appendBitstream. It returns the decoded
// payload and the number of input bytes consumed; it never consumes the
// delimiting byte (the first one lacking the high bit, or end of b).
func decodeBitstream(b []byte) ([]byte, int) {
	if len(b) == 0 || b[0]&0x80 == 0 {
		return nil, 0
	}
	var out []byte
	lb := b[0]
	pos := 1
	shift := uint(1)
	for pos < len(b) {
		cb := b[pos]
		if cb&0x80 == 0 {
			break
		}
		pos++
		ch := (lb << shift) | ((cb & 0x7f) >> (7 - shift))
		out = append(out, ch)
		if shift < 7 {
			shift++
			lb = cb
		} else {
			shift = 1
			if pos >= len(b) {
				break
			}
			nb := b[pos]
			if nb&0x80 == 0 {
				break
			}
			pos++
			lb = nb
		}
	}
	return out, pos
}

// skipBitstream advances past a bit-expanded field without decoding its
// payload, returning the number of bytes consumed.
func skipBitstream(b []byte) int {
	if len(b) == 0 || b[0]&0x80 == 0 {
		return 0
	}
	pos := 1
	shift := uint(1)
	lb := b[0]
	_ = lb
	for pos < len(b) {
		cb := b[pos]
		if cb&0x80 == 0 {
			break
		}
		pos++
		if shift < 7 {
			shift++
		} else {
			shift = 1
			if pos >= len(b) {
				break
			}
			nb := b[pos]
			if nb&0x80 == 0 {
				break
			}
			pos++
		}
	}
	return pos
}
