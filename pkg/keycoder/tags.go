// Package keycoder implements the order-preserving binary element and
// tuple codec: the wire format whose unsigned lexicographic byte order
// equals the natural order of the decoded tuples.
package keycoder

// Kind is the one-byte tag that opens every encoded element. Tag values
// are fixed and observable in persisted keys; they must sort in the
// order Null < NegInt < PosInt < Bool < Bytes < Text < Uuid < NegTime < Time
// so that elements of different kinds compare correctly inside a tuple.
type Kind byte

const (
	KindNull    Kind = 0x0F
	KindNegInt  Kind = 0x14
	KindPosInt  Kind = 0x15
	KindBool    Kind = 0x1E
	KindBytes   Kind = 0x28
	KindText    Kind = 0x32
	KindUuid    Kind = 0x5A
	KindNegTime Kind = 0x5B
	KindTime    Kind = 0x5C
	// Sep separates tuples inside an encoded list; it never appears
	// inside a single encoded tuple.
	KindSep Kind = 0x66
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindNegInt:
		return "NegInt"
	case KindPosInt:
		return "PosInt"
	case KindBool:
		return "Bool"
	case KindBytes:
		return "Bytes"
	case KindText:
		return "Text"
	case KindUuid:
		return "Uuid"
	case KindNegTime:
		return "NegTime"
	case KindTime:
		return "Time"
	case KindSep:
		return "Sep"
	default:
		return "Unknown"
	}
}
