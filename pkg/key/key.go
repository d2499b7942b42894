package key

import (
	"bytes"
	"encoding/hex"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/nainya/ordkey/pkg/keycoder"
)

// MaxLen is the largest encoded byte length a Key may hold.
const MaxLen = 65535

// Mode is a Key's storage mode: which of the three lifetimes its byte
// buffer has.
type Mode int

const (
	// Private: the byte buffer is owned by this Key alone.
	Private Mode = iota
	// Shared: the byte buffer is borrowed from a Source that may
	// invalidate it; the Key is registered for notification.
	Shared
	// Copied: formerly Shared, the source invalidated the buffer and
	// the Key now owns an independent copy.
	Copied
)

// Key is an immutable handle over an encoded tuple. Its length is capped
// at MaxLen bytes. Comparison, hashing and element access all operate on
// the encoded bytes: unsigned lexicographic order of those bytes equals
// the natural order of the decoded tuple.
type Key struct {
	mu     sync.Mutex
	mode   Mode
	buf    []byte
	source Source
	cancel func()

	hashOnce sync.Once
	hash     uint64
}

var codec = keycoder.NewCodec()

// FromTuple encodes elements into a new Private Key.
func FromTuple(elements []keycoder.Element) (*Key, error) {
	enc, err := keycoder.EncodeTuple(elements)
	if err != nil {
		return nil, err
	}
	if len(enc) > MaxLen {
		return nil, &keycoder.RangeError{Reason: "encoded key exceeds maximum length"}
	}
	return &Key{mode: Private, buf: enc}, nil
}

// FromKey returns k unchanged — constructing a Key from an existing Key
// is a no-op, matching the source library's tuplize-style convenience.
func FromKey(k *Key) *Key { return k }

// FromRaw verifies raw starts with prefix, then returns a Private Key
// over the remainder. It returns (nil, false, nil) if the prefix does
// not match.
func FromRaw(raw []byte, prefix []byte) (*Key, bool, error) {
	if len(raw) < len(prefix) || !bytes.Equal(raw[:len(prefix)], prefix) {
		return nil, false, nil
	}
	body := raw[len(prefix):]
	if len(body) > MaxLen {
		return nil, false, &keycoder.RangeError{Reason: "encoded key exceeds maximum length"}
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	return &Key{mode: Private, buf: cp}, true, nil
}

// FromRawShared is FromRaw but aliases raw's remainder directly instead
// of copying it, registering with source for invalidation. If source is
// nil the Key is Private, same as FromRaw.
func FromRawShared(raw []byte, prefix []byte, source Source) (*Key, bool, error) {
	if source == nil {
		return FromRaw(raw, prefix)
	}
	if len(raw) < len(prefix) || !bytes.Equal(raw[:len(prefix)], prefix) {
		return nil, false, nil
	}
	body := raw[len(prefix):]
	if len(body) > MaxLen {
		return nil, false, &keycoder.RangeError{Reason: "encoded key exceeds maximum length"}
	}
	k := &Key{mode: Shared, buf: body, source: source}
	k.cancel = source.Subscribe(k.materialize)
	return k, true, nil
}

// materialize is called by a Key's source immediately before the
// aliased buffer becomes invalid. It copies the bytes out and
// transitions the Key to Copied before returning, so the source never
// observes a torn read.
func (k *Key) materialize() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.mode != Shared {
		return
	}
	cp := make([]byte, len(k.buf))
	copy(cp, k.buf)
	k.buf = cp
	k.mode = Copied
	k.source = nil
	k.cancel = nil
}

// Bytes returns the Key's encoded form. Callers must not retain a
// reference past the lifetime of a Shared source's buffer without
// copying it themselves.
func (k *Key) Bytes() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.buf
}

func (k *Key) Mode() Mode {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mode
}

// Len decodes no elements; it only skips over them, since length
// requires a linear scan of the encoded form.
func (k *Key) Len() (int, error) {
	buf := k.Bytes()
	n, pos := 0, 0
	for pos < len(buf) {
		adv, err := keycoder.SkipElement(buf[pos:])
		if err != nil {
			return 0, err
		}
		if adv == 0 {
			break
		}
		pos += adv
		n++
	}
	return n, nil
}

// At decodes the i-th element. A negative i counts from the end.
func (k *Key) At(i int) (keycoder.Element, error) {
	buf := k.Bytes()
	if i < 0 {
		n, err := k.Len()
		if err != nil {
			return keycoder.Element{}, err
		}
		i += n
		if i < 0 {
			return keycoder.Element{}, &keycoder.RangeError{Reason: "index out of range"}
		}
	}
	pos := 0
	for idx := 0; ; idx++ {
		if pos >= len(buf) {
			return keycoder.Element{}, &keycoder.RangeError{Reason: "index out of range"}
		}
		if idx == i {
			e, _, err := codec.DecodeElement(buf[pos:])
			return e, err
		}
		adv, err := keycoder.SkipElement(buf[pos:])
		if err != nil {
			return keycoder.Element{}, err
		}
		if adv == 0 {
			return keycoder.Element{}, &keycoder.RangeError{Reason: "index out of range"}
		}
		pos += adv
	}
}

// Slice returns a new Private Key holding the element subsequence
// [i, j).
func (k *Key) Slice(i, j int) (*Key, error) {
	buf := k.Bytes()
	offsets := []int{0}
	pos := 0
	for pos < len(buf) {
		adv, err := keycoder.SkipElement(buf[pos:])
		if err != nil {
			return nil, err
		}
		if adv == 0 {
			break
		}
		pos += adv
		offsets = append(offsets, pos)
	}
	n := len(offsets) - 1
	if i < 0 {
		i += n
	}
	if j < 0 {
		j += n
	}
	if i < 0 || j < i || j > n {
		return nil, &keycoder.RangeError{Reason: "slice index out of range"}
	}
	cp := make([]byte, offsets[j]-offsets[i])
	copy(cp, buf[offsets[i]:offsets[j]])
	return &Key{mode: Private, buf: cp}, nil
}

// Concat appends other's bytes to k's, returning a new Private Key.
func (k *Key) Concat(other *Key) *Key {
	a, b := k.Bytes(), other.Bytes()
	cp := make([]byte, 0, len(a)+len(b))
	cp = append(cp, a...)
	cp = append(cp, b...)
	return &Key{mode: Private, buf: cp}
}

// ConcatTuple encodes elements and appends them to k's bytes, returning
// a new Private Key.
func (k *Key) ConcatTuple(elements []keycoder.Element) (*Key, error) {
	enc, err := keycoder.EncodeTuple(elements)
	if err != nil {
		return nil, err
	}
	a := k.Bytes()
	cp := make([]byte, 0, len(a)+len(enc))
	cp = append(cp, a...)
	cp = append(cp, enc...)
	return &Key{mode: Private, buf: cp}, nil
}

// Iter returns a finite, single-pass element cursor over k.
func (k *Key) Iter() *Iter {
	return &Iter{buf: k.Bytes()}
}

// Iter is a single-pass cursor produced by Key.Iter. It is not
// restartable; callers needing a second pass take a fresh Iter.
type Iter struct {
	buf []byte
	pos int
}

// Next decodes the next element, or returns ok=false at end of input.
func (it *Iter) Next() (e keycoder.Element, ok bool, err error) {
	if it.pos >= len(it.buf) {
		return keycoder.Element{}, false, nil
	}
	e, n, err := codec.DecodeElement(it.buf[it.pos:])
	if err != nil {
		return keycoder.Element{}, false, err
	}
	it.pos += n
	return e, true, nil
}

// Hash returns a cache hash of k's encoded bytes, computed once.
func (k *Key) Hash() uint64 {
	k.hashOnce.Do(func() {
		k.hash = xxhash.Sum64(k.Bytes())
	})
	return k.hash
}

// Compare returns -1, 0, or 1 comparing k and other by unsigned
// lexicographic order of their encoded bytes.
func (k *Key) Compare(other *Key) int {
	return bytes.Compare(k.Bytes(), other.Bytes())
}

// Equal reports whether k and other encode to the same bytes.
func (k *Key) Equal(other *Key) bool {
	return k.Compare(other) == 0
}

// CompareTuple compares k against the encoded form of tuple, streaming
// the tuple's encoding element by element and short-circuiting as soon
// as a byte difference or length mismatch is found — so a tuple that
// differs early need not be fully encoded.
func (k *Key) CompareTuple(tuple []keycoder.Element) (int, error) {
	kb := k.Bytes()
	pos := 0
	for _, e := range tuple {
		enc, err := keycoder.EncodeElement(nil, e)
		if err != nil {
			return 0, err
		}
		avail := kb[pos:]
		m := len(enc)
		if len(avail) < m {
			m = len(avail)
		}
		if c := bytes.Compare(avail[:m], enc[:m]); c != 0 {
			return c, nil
		}
		if len(avail) != len(enc) {
			if len(avail) < len(enc) {
				return -1, nil
			}
			return 1, nil
		}
		pos += len(enc)
	}
	if pos < len(kb) {
		return 1, nil
	}
	return 0, nil
}

// ToRaw returns prefix concatenated with k's encoded bytes.
func (k *Key) ToRaw(prefix []byte) []byte {
	b := k.Bytes()
	out := make([]byte, 0, len(prefix)+len(b))
	out = append(out, prefix...)
	out = append(out, b...)
	return out
}

// ToHex renders k's encoded bytes as lowercase ASCII hex.
func (k *Key) ToHex() string {
	return hex.EncodeToString(k.Bytes())
}

// FromHex decodes a hex string produced by ToHex into a Private Key.
func FromHex(s string) (*Key, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, &keycoder.DecodeError{Reason: "invalid hex: " + err.Error()}
	}
	return &Key{mode: Private, buf: raw}, nil
}

// NextGreater returns the smallest Key strictly greater than k, or
// ok=false if k's entire encoding is already 0xFF bytes (the maximum
// key).
func (k *Key) NextGreater() (next *Key, ok bool) {
	nb, ok := NextGreaterBytes(k.Bytes())
	if !ok {
		return nil, false
	}
	return &Key{mode: Private, buf: nb}, true
}
