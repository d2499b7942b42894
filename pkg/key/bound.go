package key

import (
	"unicode/utf8"

	"github.com/nainya/ordkey/pkg/keycoder"
)

// NextGreaterBytes returns the longest prefix of s not ending in 0xFF,
// with its last byte incremented by one. It reports ok=false if every
// byte of s is 0xFF (there is no next-greater byte string of bounded
// length).
func NextGreaterBytes(s []byte) ([]byte, bool) {
	i := len(s)
	for i > 0 && s[i-1] == 0xFF {
		i--
	}
	if i == 0 {
		return nil, false
	}
	out := make([]byte, i)
	copy(out, s[:i])
	out[i-1]++
	return out, true
}

// NextGreaterText is NextGreaterBytes' analogue in the Unicode codepoint
// domain, using the maximum supported codepoint as the "0xFF" ceiling.
func NextGreaterText(s string) (string, bool) {
	runes := []rune(s)
	i := len(runes)
	for i > 0 && runes[i-1] == utf8.MaxRune {
		i--
	}
	if i == 0 {
		return "", false
	}
	out := make([]rune, i)
	copy(out, runes[:i])
	out[i-1]++
	return string(out), true
}

// PrefixBound returns the smallest Key k' such that every key having k
// as a tuple prefix sorts strictly below k', and no other key does. It
// locates the last element of k, tries to compute a next-greater value
// for it in the appropriate domain, and if that element is already
// maximal, drops it and recurses on the shorter prefix. It reports
// ok=false if no bound exists (k's entire encoding is 0xFF bytes or k is
// empty and already maximal).
func PrefixBound(k *Key) (bound *Key, ok bool, err error) {
	buf := k.Bytes()

	offsets := []int{0}
	pos := 0
	for pos < len(buf) {
		adv, skipErr := keycoder.SkipElement(buf[pos:])
		if skipErr != nil {
			return nil, false, skipErr
		}
		if adv == 0 {
			break
		}
		pos += adv
		offsets = append(offsets, pos)
	}

	if len(offsets) < 2 {
		nb, ok := NextGreaterBytes(buf)
		if !ok {
			return nil, false, nil
		}
		return &Key{mode: Private, buf: nb}, true, nil
	}

	for len(offsets) >= 2 {
		lastStart := offsets[len(offsets)-2]
		lastEnd := offsets[len(offsets)-1]
		head := buf[:lastStart]
		lastBytes := buf[lastStart:lastEnd]

		e, _, decErr := codec.DecodeElement(lastBytes)
		if decErr != nil {
			return nil, false, decErr
		}

		switch e.Kind {
		case keycoder.Bytes:
			if nv, ok := NextGreaterBytes(e.Bytes); ok {
				enc, encErr := keycoder.EncodeElement(append([]byte(nil), head...), keycoder.NewBytes(nv))
				if encErr != nil {
					return nil, false, encErr
				}
				return &Key{mode: Private, buf: enc}, true, nil
			}
		case keycoder.Text:
			if nv, ok := NextGreaterText(e.Text); ok {
				enc, encErr := keycoder.EncodeElement(append([]byte(nil), head...), keycoder.NewText(nv))
				if encErr != nil {
					return nil, false, encErr
				}
				return &Key{mode: Private, buf: enc}, true, nil
			}
		default:
			if nb, ok := NextGreaterBytes(lastBytes); ok {
				out := append([]byte(nil), head...)
				out = append(out, nb...)
				return &Key{mode: Private, buf: out}, true, nil
			}
		}

		offsets = offsets[:len(offsets)-1]
	}

	return nil, false, nil
}
