// Package index maintains secondary B+Tree indexes over a primary
// key/value store whose keys are ordkey/pkg/key-encoded tuples. Each
// index stores, for every indexed record, a key built from the record's
// indexed columns followed by its primary key (to guarantee uniqueness
// and to let the primary key be recovered from an index scan).
package index

import (
	"fmt"

	"github.com/nainya/ordkey/pkg/btree"
	"github.com/nainya/ordkey/pkg/key"
	"github.com/nainya/ordkey/pkg/keycoder"
	"github.com/nainya/ordkey/pkg/rangeiter"
)

// Engine is the page-store capability an index's B+Tree needs: reading,
// allocating and freeing pages. pkg/storage's *KV satisfies this.
type Engine interface {
	PageRead(ptr uint64) []byte
	PageAlloc(node []byte) uint64
	PageFree(ptr uint64)
}

// Def defines a secondary index: which element positions of a record's
// value tuple to index, in order, and a byte prefix that scopes this
// index's physical keys away from the primary tree and other indexes.
type Def struct {
	Name    string
	Columns []int
	Prefix  []byte
}

// Manager owns a primary KV-like engine and a set of secondary indexes
// built over it.
type Manager struct {
	engine  Engine
	primary *btree.BTree
	indexes map[string]*info
}

type info struct {
	def  Def
	tree *btree.BTree
}

// New creates a Manager over engine, with primary as the primary-key
// storage tree.
func New(engine Engine, primary *btree.BTree) *Manager {
	return &Manager{engine: engine, primary: primary, indexes: make(map[string]*info)}
}

// AddIndex registers a new secondary index, backed by its own B+Tree
// sharing the engine's page pool.
func (m *Manager) AddIndex(def Def) error {
	if _, exists := m.indexes[def.Name]; exists {
		return fmt.Errorf("index %s already exists", def.Name)
	}
	tree := &btree.BTree{}
	tree.SetCallbacks(m.engine.PageRead, m.engine.PageAlloc, m.engine.PageFree)
	m.indexes[def.Name] = &info{def: def, tree: tree}
	return nil
}

// Put refreshes every secondary index entry for primaryKey, removing the
// old entries first if oldRecord is non-nil (an update). It writes only
// the index trees; the primary record itself is not stored by Put.
func (m *Manager) Put(primaryKey *key.Key, record []keycoder.Element, oldRecord []keycoder.Element) error {
	for _, ix := range m.indexes {
		if oldRecord != nil {
			oldIxKey, err := indexKey(ix.def, oldRecord, primaryKey)
			if err != nil {
				return err
			}
			ix.tree.Delete(oldIxKey.ToRaw(ix.def.Prefix))
		}
		newIxKey, err := indexKey(ix.def, record, primaryKey)
		if err != nil {
			return err
		}
		if err := ix.tree.Insert(newIxKey.ToRaw(ix.def.Prefix), []byte{}); err != nil {
			return fmt.Errorf("index %s: %w", ix.def.Name, err)
		}
	}
	return nil
}

// Remove deletes every secondary index entry pointing at primaryKey,
// whose current record is oldRecord.
func (m *Manager) Remove(primaryKey *key.Key, oldRecord []keycoder.Element) error {
	for _, ix := range m.indexes {
		oldIxKey, err := indexKey(ix.def, oldRecord, primaryKey)
		if err != nil {
			return err
		}
		ix.tree.Delete(oldIxKey.ToRaw(ix.def.Prefix))
	}
	return nil
}

// Iter returns a rangeiter.Engine scoped to the named index's physical
// keyspace, or an error if the index is unknown. Callers build a
// rangeiter.RangeIterator over the result to scan matching records; the
// logical keys it yields are (indexed columns..., primary key) tuples.
func (m *Manager) Iter(name string) (rangeiter.Engine, []byte, error) {
	ix, ok := m.indexes[name]
	if !ok {
		return nil, nil, fmt.Errorf("index %s not found", name)
	}
	return &treeEngine{tree: ix.tree}, ix.def.Prefix, nil
}

// treeEngine adapts a btree.BTree to rangeiter.Engine.
type treeEngine struct {
	tree *btree.BTree
}

func (e *treeEngine) Iter(start []byte, reverse bool) rangeiter.Cursor {
	it := e.tree.NewIterator()
	var ok bool
	if !reverse {
		ok = it.SeekGE(start)
	} else if start == nil {
		ok = it.SeekLE(maxIndexKey)
	} else {
		ok = it.SeekLE(start)
	}
	return &treeCursor{it: it, reverse: reverse, positioned: ok}
}

// maxIndexKey sorts above any real index key; its length matches
// btree.BTREE_MAX_KEY_SIZE for the same reason as pkg/storage's
// maxPhysicalKey.
var maxIndexKey = func() []byte {
	b := make([]byte, btree.BTREE_MAX_KEY_SIZE)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}()

type treeCursor struct {
	it         *btree.BIter
	reverse    bool
	positioned bool
	started    bool
}

// Next steps to the next index entry, stepping over the tree's empty
// sentinel key so that it is never yielded.
func (c *treeCursor) Next() bool {
	for {
		var ok bool
		if !c.started {
			c.started = true
			ok = c.positioned && c.it.Valid()
		} else if c.reverse {
			ok = c.it.Prev()
		} else {
			ok = c.it.Next()
		}
		if !ok || len(c.it.Key()) > 0 {
			return ok
		}
	}
}

func (c *treeCursor) Key() []byte   { return c.it.Key() }
func (c *treeCursor) Value() []byte { return c.it.Val() }
func (c *treeCursor) Err() error    { return nil }
func (c *treeCursor) Close() error  { return nil }

// indexKey builds the physical key for an index entry: the indexed
// columns of record, in def.Columns order, followed by the primary key
// tuple — the primary key suffix guarantees uniqueness across records
// that share the same indexed column values.
func indexKey(def Def, record []keycoder.Element, primaryKey *key.Key) (*key.Key, error) {
	cols := make([]keycoder.Element, 0, len(def.Columns))
	for _, c := range def.Columns {
		if c < 0 || c >= len(record) {
			return nil, fmt.Errorf("index %s: column %d out of range", def.Name, c)
		}
		cols = append(cols, record[c])
	}
	k, err := key.FromTuple(cols)
	if err != nil {
		return nil, err
	}
	return k.Concat(primaryKey), nil
}
