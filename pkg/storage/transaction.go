// ABOUTME: Transaction support for atomic multi-key operations
// ABOUTME: Implements Begin/Commit/Abort with copy-on-write atomicity

package storage

import (
	"github.com/nainya/ordkey/pkg/btree"
	"github.com/nainya/ordkey/pkg/key"
)

// KVTX represents a key-value transaction
type KVTX struct {
	db   *KV
	meta []byte // Saved meta for rollback
}

// Begin starts a new transaction
func (db *KV) Begin() *KVTX {
	tx := &KVTX{
		db:   db,
		meta: db.saveMeta(),
	}
	return tx
}

// Commit commits the transaction atomically
func (tx *KVTX) Commit() error {
	return tx.db.updateOrRevert(tx.meta)
}

// Abort rolls back the transaction
func (tx *KVTX) Abort() {
	// Revert in-memory state
	tx.db.loadMeta(tx.meta)

	// Discard temporary pages
	tx.db.page.temp = tx.db.page.temp[:0]
	tx.db.page.updates = make(map[uint64][]byte)
}

// Get retrieves a value within the transaction
func (tx *KVTX) Get(key []byte) ([]byte, bool) {
	return tx.db.tree.Get(key)
}

// Set inserts or updates a key-value pair within the transaction. The
// write is rejected, without mutating the transaction's pending state,
// if key/val exceed the page layout's size limits (see btree.Insert).
func (tx *KVTX) Set(key []byte, val []byte) error {
	return tx.db.tree.Insert(key, val)
}

// Del deletes a key within the transaction
func (tx *KVTX) Del(key []byte) bool {
	return tx.db.tree.Delete(key)
}

// Scan performs a range scan within the transaction
func (tx *KVTX) Scan(start []byte, callback func(key, val []byte) bool) {
	tx.db.tree.Scan(start, callback)
}

// NewIterator creates an iterator within the transaction
func (tx *KVTX) NewIterator() *btree.BIter {
	return tx.db.tree.NewIterator()
}

// GetKey is the pkg/key-aware counterpart to Get: it encodes k under
// prefix into a physical key and looks it up within the transaction,
// so callers working in terms of logical tuples never hand-roll the
// ToRaw call themselves.
func (tx *KVTX) GetKey(k *key.Key, prefix []byte) ([]byte, bool) {
	return tx.Get(k.ToRaw(prefix))
}

// SetKey is the pkg/key-aware counterpart to Set.
func (tx *KVTX) SetKey(k *key.Key, prefix []byte, val []byte) error {
	return tx.Set(k.ToRaw(prefix), val)
}

// DelKey is the pkg/key-aware counterpart to Del.
func (tx *KVTX) DelKey(k *key.Key, prefix []byte) bool {
	return tx.Del(k.ToRaw(prefix))
}
