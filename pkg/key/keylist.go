package key

import (
	"bytes"

	"github.com/nainya/ordkey/pkg/keycoder"
)

// KeyListFromRaw splits raw (after verifying and stripping prefix) into
// Keys at Sep boundaries, using the element-skip machinery so embedded
// bytes inside bit-expanded strings are never mistaken for a Sep. Each
// resulting Key is Shared (aliasing raw) if source is non-nil, else
// Private. The result is never empty when the input (after the prefix)
// has at least one element, and is exactly one empty-tuple Key when the
// input equals prefix exactly. It reports ok=false if prefix does not
// match raw.
func KeyListFromRaw(raw []byte, prefix []byte, source Source) (keys []*Key, ok bool, err error) {
	if len(raw) < len(prefix) || !bytes.Equal(raw[:len(prefix)], prefix) {
		return nil, false, nil
	}
	body := raw[len(prefix):]

	pos, start := 0, 0
	for {
		if pos >= len(body) {
			k, kerr := makeListKey(body[start:pos], source)
			if kerr != nil {
				return nil, false, kerr
			}
			keys = append(keys, k)
			break
		}
		if keycoder.Kind(body[pos]) == keycoder.KindSep {
			k, kerr := makeListKey(body[start:pos], source)
			if kerr != nil {
				return nil, false, kerr
			}
			keys = append(keys, k)
			pos++
			start = pos
			continue
		}
		adv, serr := keycoder.SkipElement(body[pos:])
		if serr != nil {
			return nil, false, serr
		}
		pos += adv
	}
	return keys, true, nil
}

func makeListKey(segment []byte, source Source) (*Key, error) {
	if source == nil {
		cp := make([]byte, len(segment))
		copy(cp, segment)
		return &Key{mode: Private, buf: cp}, nil
	}
	k := &Key{mode: Shared, buf: segment, source: source}
	k.cancel = source.Subscribe(k.materialize)
	return k, nil
}
