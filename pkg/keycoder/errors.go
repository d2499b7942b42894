package keycoder

import "fmt"

// DecodeError reports malformed input: truncated body, unknown kind,
// invalid UTF-8, or a key exceeding the maximum length. The offending
// byte position is attached so callers scanning many keys can report
// which physical record was corrupt.
type DecodeError struct {
	Pos    int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("keycoder: decode error at byte %d: %s", e.Pos, e.Reason)
}

func newDecodeError(pos int, reason string, args ...any) error {
	return &DecodeError{Pos: pos, Reason: fmt.Sprintf(reason, args...)}
}

// TypeError reports an encode call given an unsupported Go value, or an
// iterator bound setter given an input that cannot be converted to a Key.
type TypeError struct {
	Reason string
}

func (e *TypeError) Error() string { return "keycoder: type error: " + e.Reason }

// RangeError reports an integer outside the representable varint range,
// or an out-of-bounds index/slice operation.
type RangeError struct {
	Reason string
}

func (e *RangeError) Error() string { return "keycoder: range error: " + e.Reason }

// OverflowError reports a non-negative varint encode given a negative
// input.
type OverflowError struct {
	Reason string
}

func (e *OverflowError) Error() string { return "keycoder: overflow: " + e.Reason }

// ErrTruncated is returned by DecodeElement/SkipElement when the input
// is empty at the point a new element was expected: there is no partial
// element to attach a byte position to, unlike the *DecodeError cases
// produced mid-element (truncated bool/int/uuid/... body), which carry
// Pos so a caller scanning many keys can report which record broke.
var ErrTruncated = &DecodeError{Reason: "truncated input"}
