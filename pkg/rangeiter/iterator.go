// Package rangeiter implements the range-iterator state machine: a
// composable iterator that accepts lower/upper bounds, a prefix
// constraint, a direction, and a result cap, and drives an underlying
// storage cursor to yield decoded logical keys while respecting those
// bounds.
package rangeiter

import (
	"bytes"
	"errors"

	"github.com/nainya/ordkey/pkg/key"
)

// Cursor is one step of an engine's physical iteration: a (key, value)
// pair, or exhaustion.
type Cursor interface {
	// Next advances the cursor and reports whether a record is
	// available. It must be called before the first Key/Value access.
	Next() bool
	Key() []byte
	Value() []byte
	// Err reports any error encountered during iteration; call after
	// Next returns false.
	Err() error
	// Close releases any resources the cursor holds.
	Close() error
}

// Engine is the storage collaborator the core consumes: it returns a
// Cursor starting at the least key >= start when reverse is false, or
// the greatest key <= start when reverse is true. A nil start is a
// sentinel for "unbounded at this end": the very first key when
// reverse is false, the very last key when reverse is true.
type Engine interface {
	Iter(start []byte, reverse bool) Cursor
}

// Source is the optional capability an Engine may additionally
// implement to let yielded keys alias the engine's own buffers via
// key.Source instead of being copied.
type Source interface {
	key.Source
}

// Predicate is one of the four bound comparisons.
type Predicate int

const (
	LE Predicate = iota
	LT
	GT
	GE
)

// Bound pairs a Key with the predicate it constrains iteration by.
type Bound struct {
	Key  *key.Key
	Pred Predicate
}

func (b Bound) test(logical []byte) bool {
	c := bytes.Compare(logical, b.Key.Bytes())
	switch b.Pred {
	case LE:
		return c <= 0
	case LT:
		return c < 0
	case GT:
		return c > 0
	case GE:
		return c >= 0
	}
	return false
}

// State is the iterator's lifecycle stage.
type State int

const (
	Configured State = iota
	Running
	Halted
)

// ErrInvalidState reports an iterator advanced before a direction was
// chosen via Forward or Reverse.
var ErrInvalidState = errors.New("rangeiter: Next called before Forward/Reverse")

// RangeIterator drives engine cursors to yield logical keys under
// bounds, direction and a result cap. Configure it with SetLo/SetHi/
// SetPrefix/SetExact/SetMax, then call Forward or Reverse exactly once,
// then Next repeatedly.
type RangeIterator struct {
	engine Engine
	source Source
	prefix []byte

	lo  *Bound
	hi  *Bound
	max int
	hasMax bool

	state    State
	reverse  bool
	cursor   Cursor
	stop     *Bound
	first    bool

	keys []*key.Key
	data []byte
	err  error
}

// New creates an iterator over engine restricted to keys whose physical
// form starts with prefix.
func New(engine Engine, prefix []byte) *RangeIterator {
	return &RangeIterator{engine: engine, prefix: prefix, state: Configured}
}

// WithSource attaches an optional memory-source capability so yielded
// keys may be Shared rather than copied.
func (it *RangeIterator) WithSource(s Source) *RangeIterator {
	it.source = s
	return it
}

func (it *RangeIterator) SetLo(k *key.Key, closed bool) *RangeIterator {
	pred := GT
	if closed {
		pred = GE
	}
	it.lo = &Bound{Key: k, Pred: pred}
	return it
}

func (it *RangeIterator) SetHi(k *key.Key, closed bool) *RangeIterator {
	pred := LT
	if closed {
		pred = LE
	}
	it.hi = &Bound{Key: k, Pred: pred}
	return it
}

// SetPrefix constrains iteration to keys with tuple-prefix k:
// lo = (k, >=), hi = (next_greater(k), <).
func (it *RangeIterator) SetPrefix(k *key.Key) *RangeIterator {
	it.lo = &Bound{Key: k, Pred: GE}
	if ng, ok := k.NextGreater(); ok {
		it.hi = &Bound{Key: ng, Pred: LT}
	} else {
		it.hi = nil
	}
	return it
}

// SetExact constrains iteration to exactly k: lo = (k, >=), hi = (k, <=).
func (it *RangeIterator) SetExact(k *key.Key) *RangeIterator {
	it.lo = &Bound{Key: k, Pred: GE}
	it.hi = &Bound{Key: k, Pred: LE}
	return it
}

func (it *RangeIterator) SetMax(max int) *RangeIterator {
	it.max = max
	it.hasMax = true
	return it
}

// Forward transitions Configured -> Running, iterating least-to-greatest.
func (it *RangeIterator) Forward() error {
	if it.state != Configured {
		return ErrInvalidState
	}
	it.reverse = false
	start := append([]byte(nil), it.prefix...)
	if it.lo != nil {
		start = append(start, it.lo.Key.Bytes()...)
	}
	it.stop = it.hi
	return it.open(start, false, it.lo != nil && it.lo.Pred == GT)
}

// Reverse transitions Configured -> Running, iterating greatest-to-least.
func (it *RangeIterator) Reverse() error {
	if it.state != Configured {
		return ErrInvalidState
	}
	it.reverse = true
	var start []byte
	if it.hi != nil {
		start = append(append([]byte(nil), it.prefix...), it.hi.Key.Bytes()...)
	} else if ng, ok := key.NextGreaterBytes(it.prefix); ok {
		start = ng
	} else {
		// prefix itself has no next-greater representation (empty, or
		// all 0xFF): signal "start at the very end" with a nil start.
		start = nil
	}
	it.stop = it.lo
	return it.open(start, true, it.hi != nil && it.hi.Pred == LT)
}

func (it *RangeIterator) open(start []byte, reverse bool, skipIfFenceFails bool) error {
	it.cursor = it.engine.Iter(start, reverse)
	it.first = true

	for {
		if !it.cursor.Next() {
			if err := it.cursor.Err(); err != nil {
				it.state = Halted
				it.err = err
				return err
			}
			it.state = Halted
			return nil
		}
		phys := it.cursor.Key()
		if !bytes.HasPrefix(phys, it.prefix) {
			it.state = Halted
			return nil
		}
		keys, ok, err := key.KeyListFromRaw(phys, it.prefix, keySource(it.source))
		if err != nil {
			it.state = Halted
			it.err = err
			return err
		}
		if !ok {
			it.state = Halted
			return nil
		}
		it.keys = keys
		it.data = it.cursor.Value()

		if skipIfFenceFails && len(keys) > 0 {
			fence := it.lo
			if reverse {
				fence = it.hi
			}
			if fence != nil && !fence.test(keys[0].Bytes()) {
				skipIfFenceFails = false
				continue
			}
		}
		it.state = Running
		return nil
	}
}

func keySource(s Source) key.Source {
	if s == nil {
		return nil
	}
	return s
}

// Next advances to the next record. It returns false once the iterator
// halts (bound failure, prefix mismatch, cap exhaustion, or engine
// exhaustion); call Err to distinguish a clean halt from a failure.
func (it *RangeIterator) Next() bool {
	if it.state == Configured {
		it.err = ErrInvalidState
		return false
	}
	if it.state == Halted {
		return false
	}

	if !it.first {
		if !it.cursor.Next() {
			if err := it.cursor.Err(); err != nil {
				it.err = err
			}
			it.state = Halted
			return false
		}
		phys := it.cursor.Key()
		if !bytes.HasPrefix(phys, it.prefix) {
			it.state = Halted
			return false
		}
		keys, ok, err := key.KeyListFromRaw(phys, it.prefix, keySource(it.source))
		if err != nil {
			it.err = err
			it.state = Halted
			return false
		}
		if !ok {
			it.state = Halted
			return false
		}
		it.keys = keys
		it.data = it.cursor.Value()
	}
	it.first = false

	if it.hasMax {
		if it.max <= 0 {
			it.state = Halted
			return false
		}
	}

	if it.stop != nil && len(it.keys) > 0 {
		if !it.stop.test(it.keys[0].Bytes()) {
			it.state = Halted
			return false
		}
	}

	if it.hasMax {
		it.max--
	}
	return true
}

// Key returns the first logical key of the current physical record.
func (it *RangeIterator) Key() *key.Key {
	if len(it.keys) == 0 {
		return nil
	}
	return it.keys[0]
}

// Keys returns every logical key decoded from the current physical
// record (more than one when keys were concatenated with Sep).
func (it *RangeIterator) Keys() []*key.Key { return it.keys }

// Data returns the raw value bytes of the current physical record.
func (it *RangeIterator) Data() []byte { return it.data }

// Err returns any error that halted the iterator. A clean halt (bound
// failure, prefix mismatch, normal exhaustion) reports nil.
func (it *RangeIterator) Err() error { return it.err }

// Close releases the underlying engine cursor. Safe to call multiple
// times.
func (it *RangeIterator) Close() error {
	if it.cursor == nil {
		return nil
	}
	c := it.cursor
	it.cursor = nil
	it.state = Halted
	return c.Close()
}
