// Package key implements the Key value type: an immutable, hashable,
// comparable, sliceable handle over an encoded tuple, plus the KeyList
// splitter and the bound arithmetic used by range iteration.
package key

// Source is the capability an engine may expose to let a Key alias the
// engine's own cursor buffer instead of copying it. A source is not
// owned by the Keys that subscribe to it — the relationship is a
// revocable alias, not ownership: each subscriber holds a strong
// reference back to the source only for the lifetime of that alias.
//
// Subscribe registers onInvalidate to be called synchronously,
// immediately before any buffer the source handed out becomes invalid,
// giving the subscriber a chance to copy its bytes out first. It
// returns a cancel function for O(1) unsubscription once a Key no
// longer needs the alias (for example, because it already materialised
// its own copy).
type Source interface {
	Subscribe(onInvalidate func()) (cancel func())
}
