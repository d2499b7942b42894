package keycoder

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ElementKind discriminates the closed set of primitive values an
// Element may hold.
type ElementKind int

const (
	Null ElementKind = iota
	Bool
	Int
	Bytes
	Text
	Uuid
	Time
)

// Element is a tagged value from the codec's closed vocabulary: Null,
// Bool, Int, Bytes, Text, Uuid, or Time. Callers build one with the
// New* constructors and inspect Kind before reading the matching field.
type Element struct {
	Kind ElementKind

	BoolVal bool

	// Int is represented as sign + magnitude so the full uint64 range
	// is addressable on both sides of zero, matching the wire format's
	// split between PosInt and NegInt.
	Neg    bool
	Mag    uint64
	Bytes  []byte
	Text   string
	Uuid   uuid.UUID
	Time   time.Time
}

func NewNull() Element { return Element{Kind: Null} }
func NewBool(v bool) Element { return Element{Kind: Bool, BoolVal: v} }

func NewInt(v int64) Element {
	if v < 0 {
		return Element{Kind: Int, Neg: true, Mag: uint64(-v)}
	}
	return Element{Kind: Int, Mag: uint64(v)}
}

func NewUint(v uint64) Element { return Element{Kind: Int, Mag: v} }

func NewBytes(v []byte) Element { return Element{Kind: Bytes, Bytes: v} }
func NewText(v string) Element  { return Element{Kind: Text, Text: v} }
func NewUuid(v uuid.UUID) Element { return Element{Kind: Uuid, Uuid: v} }
func NewTime(v time.Time) Element { return Element{Kind: Time, Time: v} }

// Int64 reconstructs a signed value from the element's sign/magnitude
// pair. It returns a RangeError if the magnitude does not fit in an
// int64.
func (e Element) Int64() (int64, error) {
	if e.Kind != Int {
		return 0, &TypeError{Reason: "element is not Int"}
	}
	if e.Neg {
		if e.Mag > 1<<63 {
			return 0, &RangeError{Reason: "negative magnitude overflows int64"}
		}
		return -int64(e.Mag), nil
	}
	if e.Mag > 1<<63-1 {
		return 0, &RangeError{Reason: "magnitude overflows int64"}
	}
	return int64(e.Mag), nil
}

func (e Element) Equal(o Element) bool {
	if e.Kind != o.Kind {
		return false
	}
	switch e.Kind {
	case Null:
		return true
	case Bool:
		return e.BoolVal == o.BoolVal
	case Int:
		return e.Neg == o.Neg && e.Mag == o.Mag
	case Bytes:
		return string(e.Bytes) == string(o.Bytes)
	case Text:
		return e.Text == o.Text
	case Uuid:
		return e.Uuid == o.Uuid
	case Time:
		return e.Time.Equal(o.Time)
	}
	return false
}

// EncodeElement appends the wire form of e to dst. Encoding never needs
// the per-codec offset cache (only decoding Time does), so this is a
// free function rather than a Codec method.
func EncodeElement(dst []byte, e Element) ([]byte, error) {
	switch e.Kind {
	case Null:
		return append(dst, byte(KindNull)), nil
	case Bool:
		dst = append(dst, byte(KindBool))
		if e.BoolVal {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case Int:
		if e.Neg {
			dst = append(dst, byte(KindNegInt))
			return appendNegVarint(dst, e.Mag), nil
		}
		dst = append(dst, byte(KindPosInt))
		return appendUvarint(dst, e.Mag), nil
	case Bytes:
		dst = append(dst, byte(KindBytes))
		return appendBitstream(dst, e.Bytes), nil
	case Text:
		if !utf8.ValidString(e.Text) {
			return nil, &TypeError{Reason: "text element is not valid UTF-8"}
		}
		dst = append(dst, byte(KindText))
		return appendBitstream(dst, []byte(e.Text)), nil
	case Uuid:
		dst = append(dst, byte(KindUuid))
		return append(dst, e.Uuid[:]...), nil
	case Time:
		composite, offsetQ, err := encodeTimeComposite(e.Time)
		_ = offsetQ
		if err != nil {
			return nil, err
		}
		if composite < 0 {
			dst = append(dst, byte(KindNegTime))
			return appendNegVarint(dst, uint64(-composite)), nil
		}
		dst = append(dst, byte(KindTime))
		return appendUvarint(dst, uint64(composite)), nil
	default:
		return nil, &TypeError{Reason: fmt.Sprintf("unsupported element kind %d", e.Kind)}
	}
}

// EncodeInt appends u as a plain order-preserving varint with no kind
// tag, matching the codec's exported encode_int(u64) primitive.
func EncodeInt(dst []byte, u uint64) []byte {
	return appendUvarint(dst, u)
}

// SkipElement advances past one element without decoding it, returning
// the number of bytes consumed. It stops (returns 0, nil) if it meets a
// Sep byte without consuming it, letting tuple decoding detect the
// boundary.
func SkipElement(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, ErrTruncated
	}
	switch Kind(b[0]) {
	case KindSep:
		return 0, nil
	case KindNull:
		return 1, nil
	case KindBool:
		if len(b) < 2 {
			return 0, newDecodeError(1, "truncated bool body")
		}
		return 2, nil
	case KindPosInt:
		if len(b) < 2 {
			return 0, newDecodeError(1, "truncated int body")
		}
		n := varintTotalLen(b[1])
		if len(b) < 1+n {
			return 0, newDecodeError(1, "truncated int body")
		}
		return 1 + n, nil
	case KindNegInt:
		if len(b) < 2 {
			return 0, newDecodeError(1, "truncated negint body")
		}
		n := varintTotalLen(b[1] ^ 0xff)
		if len(b) < 1+n {
			return 0, newDecodeError(1, "truncated negint body")
		}
		return 1 + n, nil
	case KindBytes, KindText:
		n := skipBitstream(b[1:])
		return 1 + n, nil
	case KindUuid:
		if len(b) < 17 {
			return 0, newDecodeError(1, "truncated uuid body")
		}
		return 17, nil
	case KindTime:
		if len(b) < 2 {
			return 0, newDecodeError(1, "truncated time body")
		}
		n := varintTotalLen(b[1])
		if len(b) < 1+n {
			return 0, newDecodeError(1, "truncated time body")
		}
		return 1 + n, nil
	case KindNegTime:
		if len(b) < 2 {
			return 0, newDecodeError(1, "truncated negtime body")
		}
		n := varintTotalLen(b[1] ^ 0xff)
		if len(b) < 1+n {
			return 0, newDecodeError(1, "truncated negtime body")
		}
		return 1 + n, nil
	default:
		return 0, newDecodeError(0, "bad kind 0x%02x; key corrupt?", b[0])
	}
}

// Codec holds the per-instance state needed to decode Time elements: a
// lazily populated cache of the 128 possible quantised-UTC-offset
// time.Locations. It is a construction-time dependency, not a process
// global, per the no-global-interned-refs design guidance.
type Codec struct {
	mu      sync.Mutex
	offsets [128]*time.Location
}

func NewCodec() *Codec { return &Codec{} }

// DefaultCodec is a package-provided convenience instance for callers
// that don't need their own offset cache; it is not consulted by
// EncodeElement, which needs no codec state at all.
var DefaultCodec = NewCodec()

func (c *Codec) location(offsetQ int) *time.Location {
	offsetSecs := (offsetQ - 64) * 900
	if offsetQ < 0 || offsetQ > 127 {
		return time.FixedZone(offsetName(offsetSecs), offsetSecs)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offsets[offsetQ] == nil {
		c.offsets[offsetQ] = time.FixedZone(offsetName(offsetSecs), offsetSecs)
	}
	return c.offsets[offsetQ]
}

func offsetName(offsetSecs int) string {
	sign := '+'
	if offsetSecs < 0 {
		sign = '-'
		offsetSecs = -offsetSecs
	}
	return fmt.Sprintf("%c%02d:%02d", sign, offsetSecs/3600, (offsetSecs%3600)/60)
}

// encodeTimeComposite computes composite = (utc_millis << 7) | offset_q
// per the wire format, returning the signed composite and the quantised
// offset actually used.
func encodeTimeComposite(t time.Time) (composite int64, offsetQ int, err error) {
	_, offsetSecs := t.Zone()
	offsetQ = offsetSecs/900 + 64
	if offsetQ < 0 || offsetQ > 127 {
		return 0, 0, &RangeError{Reason: fmt.Sprintf("utc offset %ds is outside the representable +/-64 quanta range", offsetSecs)}
	}
	utcMillis := t.Unix()*1000 + int64(t.Nanosecond())/1_000_000
	composite = utcMillis*128 + int64(offsetQ)
	return composite, offsetQ, nil
}

// decodeTimeComposite reverses encodeTimeComposite.
func decodeTimeComposite(composite int64) time.Time {
	utcMillis, offsetQ := floorDivMod(composite, 128)
	utcSecs, ms := floorDivMod(utcMillis, 1000)
	return time.Unix(utcSecs, ms*int64(time.Millisecond)).UTC()
}

func floorDivMod(a, b int64) (q, r int64) {
	q = a / b
	r = a % b
	if r != 0 && (r < 0) != (b < 0) {
		q--
		r += b
	}
	return q, r
}

// DecodeElement decodes one element from the front of b, returning it
// along with the number of bytes consumed.
func (c *Codec) DecodeElement(b []byte) (Element, int, error) {
	if len(b) == 0 {
		return Element{}, 0, ErrTruncated
	}
	switch Kind(b[0]) {
	case KindNull:
		return NewNull(), 1, nil
	case KindBool:
		if len(b) < 2 {
			return Element{}, 0, newDecodeError(1, "truncated bool body")
		}
		return NewBool(b[1] != 0), 2, nil
	case KindPosInt:
		mag, n, err := decodeUvarint(b[1:])
		if err != nil {
			return Element{}, 0, err
		}
		return NewUint(mag), 1 + n, nil
	case KindNegInt:
		mag, n, err := decodeNegVarint(b[1:])
		if err != nil {
			return Element{}, 0, err
		}
		return Element{Kind: Int, Neg: true, Mag: mag}, 1 + n, nil
	case KindBytes:
		body, n := decodeBitstream(b[1:])
		return NewBytes(body), 1 + n, nil
	case KindText:
		body, n := decodeBitstream(b[1:])
		if !utf8.Valid(body) {
			return Element{}, 0, newDecodeError(1, "text body is not valid UTF-8")
		}
		return NewText(string(body)), 1 + n, nil
	case KindUuid:
		if len(b) < 17 {
			return Element{}, 0, newDecodeError(1, "truncated uuid body")
		}
		var u uuid.UUID
		copy(u[:], b[1:17])
		return NewUuid(u), 17, nil
	case KindTime, KindNegTime:
		var mag uint64
		var n int
		var err error
		if Kind(b[0]) == KindTime {
			mag, n, err = decodeUvarint(b[1:])
		} else {
			mag, n, err = decodeNegVarint(b[1:])
		}
		if err != nil {
			return Element{}, 0, err
		}
		composite := int64(mag)
		if Kind(b[0]) == KindNegTime {
			composite = -composite
		}
		t := decodeTimeComposite(composite)
		_, offsetQ := floorDivMod(composite, 128)
		return NewTime(t.In(c.location(int(offsetQ)))), 1 + n, nil
	default:
		return Element{}, 0, newDecodeError(0, "bad kind 0x%02x; key corrupt?", b[0])
	}
}
