package keycoder

import "fmt"

// EncodeTuple writes each element's wire form in order with no
// separator between elements.
func EncodeTuple(elements []Element) ([]byte, error) {
	var dst []byte
	for _, e := range elements {
		var err error
		dst, err = EncodeElement(dst, e)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// EncodeList joins the encoded form of each tuple with a Sep byte; this
// is the form key.KeyListFromRaw splits back apart.
func EncodeList(tuples [][]Element) ([]byte, error) {
	var dst []byte
	for i, t := range tuples {
		if i > 0 {
			dst = append(dst, byte(KindSep))
		}
		enc, err := EncodeTuple(t)
		if err != nil {
			return nil, err
		}
		dst = append(dst, enc...)
	}
	return dst, nil
}

// DecodeTuple reads elements from the front of b until it runs out of
// input or meets a Sep byte, which it consumes. It returns the decoded
// elements and the number of bytes consumed (including any Sep).
func (c *Codec) DecodeTuple(b []byte) ([]Element, int, error) {
	var out []Element
	pos := 0
	for pos < len(b) {
		if Kind(b[pos]) == KindSep {
			pos++
			return out, pos, nil
		}
		e, n, err := c.DecodeElement(b[pos:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
		pos += n
	}
	return out, pos, nil
}

// DecodeList splits b into tuples at Sep boundaries, decoding every
// element of every tuple.
func (c *Codec) DecodeList(b []byte) ([][]Element, error) {
	var out [][]Element
	pos := 0
	for pos < len(b) {
		t, n, err := c.DecodeTuple(b[pos:])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		pos += n
	}
	return out, nil
}

// SkipTuple advances past one Sep-delimited tuple without decoding its
// elements, returning the number of bytes consumed (including any Sep).
func SkipTuple(b []byte) (int, error) {
	pos := 0
	for pos < len(b) {
		if Kind(b[pos]) == KindSep {
			return pos + 1, nil
		}
		n, err := SkipElement(b[pos:])
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
		pos += n
	}
	return pos, nil
}

// DecodeOffsets decodes a varint-prefixed list of delta-encoded offsets:
// the first varint is a count, each subsequent varint is a delta added
// to a running position (starting at 0). It returns the cumulative
// absolute offsets (with a leading 0) and the number of bytes consumed.
func DecodeOffsets(b []byte) ([]int, int, error) {
	count, n, err := decodeUvarint(b)
	if err != nil {
		return nil, 0, err
	}
	pos := n
	out := make([]int, 0, count+1)
	out = append(out, 0)
	var running uint64
	for i := uint64(0); i < count; i++ {
		delta, dn, err := decodeUvarint(b[pos:])
		if err != nil {
			return nil, 0, err
		}
		running += delta
		out = append(out, int(running))
		pos += dn
	}
	return out, pos, nil
}

// Pack is the convenience entry point matching the public surface's
// pack(value, prefix?): it prepends prefix, then encodes value according
// to its runtime shape — a single Element, a tuple ([]Element), or a
// list of tuples ([][]Element).
func Pack(prefix []byte, value any) ([]byte, error) {
	dst := append([]byte(nil), prefix...)
	switch v := value.(type) {
	case Element:
		return EncodeElement(dst, v)
	case []Element:
		enc, err := EncodeTuple(v)
		if err != nil {
			return nil, err
		}
		return append(dst, enc...), nil
	case [][]Element:
		enc, err := EncodeList(v)
		if err != nil {
			return nil, err
		}
		return append(dst, enc...), nil
	default:
		return nil, &TypeError{Reason: fmt.Sprintf("pack(): got unsupported %T", value)}
	}
}
