// ABOUTME: Tests for secondary index maintenance and scans
// ABOUTME: Covers index population, prefix scans, updates, and removal

package index

import (
	"os"
	"testing"

	"github.com/nainya/ordkey/pkg/key"
	"github.com/nainya/ordkey/pkg/keycoder"
	"github.com/nainya/ordkey/pkg/rangeiter"
	"github.com/nainya/ordkey/pkg/storage"
)

func openTestDB(t *testing.T, path string) *storage.KV {
	t.Helper()
	db := &storage.KV{Path: path}
	if err := db.Open(); err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
		os.Remove(path + ".wal.000")
	})
	return db
}

func mustKey(t *testing.T, elements ...keycoder.Element) *key.Key {
	t.Helper()
	k, err := key.FromTuple(elements)
	if err != nil {
		t.Fatalf("failed to build key: %v", err)
	}
	return k
}

func TestAddIndexRejectsDuplicateName(t *testing.T) {
	db := openTestDB(t, "/tmp/test_index_dup.db")
	mgr := New(db, db.Tree())

	def := Def{Name: "by_status", Columns: []int{1}, Prefix: []byte("idx\x01")}
	if err := mgr.AddIndex(def); err != nil {
		t.Fatalf("first AddIndex failed: %v", err)
	}
	if err := mgr.AddIndex(def); err == nil {
		t.Fatal("expected error registering duplicate index name")
	}
}

func TestPutPopulatesIndexAndIterYieldsMatches(t *testing.T) {
	db := openTestDB(t, "/tmp/test_index_put.db")
	mgr := New(db, db.Tree())

	if err := mgr.AddIndex(Def{
		Name:    "by_status",
		Columns: []int{1},
		Prefix:  []byte("idx_status\x01"),
	}); err != nil {
		t.Fatalf("AddIndex failed: %v", err)
	}

	records := []struct {
		id     string
		status string
	}{
		{"POL-001", "active"},
		{"POL-002", "draft"},
		{"POL-003", "active"},
	}

	for _, r := range records {
		pk := mustKey(t, keycoder.NewText(r.id))
		record := []keycoder.Element{keycoder.NewText(r.id), keycoder.NewText(r.status)}
		if err := mgr.Put(pk, record, nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	engine, prefix, err := mgr.Iter("by_status")
	if err != nil {
		t.Fatalf("Iter failed: %v", err)
	}

	active := mustKey(t, keycoder.NewText("active"))
	it := rangeiter.New(engine, prefix).SetPrefix(active)
	if err := it.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	var ids []string
	for it.Next() {
		n, err := it.Key().Len()
		if err != nil {
			t.Fatalf("Len failed: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2-element index tuple (status, id), got %d", n)
		}
		e, err := it.Key().At(1)
		if err != nil {
			t.Fatalf("At(1) failed: %v", err)
		}
		ids = append(ids, e.Text)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}

	if len(ids) != 2 || ids[0] != "POL-001" || ids[1] != "POL-003" {
		t.Fatalf("expected [POL-001 POL-003], got %v", ids)
	}
}

func TestPutUpdatesIndexWhenOldRecordGiven(t *testing.T) {
	db := openTestDB(t, "/tmp/test_index_update.db")
	mgr := New(db, db.Tree())

	if err := mgr.AddIndex(Def{
		Name:    "by_status",
		Columns: []int{1},
		Prefix:  []byte("idx_status\x01"),
	}); err != nil {
		t.Fatalf("AddIndex failed: %v", err)
	}

	pk := mustKey(t, keycoder.NewText("POL-001"))
	oldRecord := []keycoder.Element{keycoder.NewText("POL-001"), keycoder.NewText("draft")}
	if err := mgr.Put(pk, oldRecord, nil); err != nil {
		t.Fatalf("initial Put failed: %v", err)
	}

	newRecord := []keycoder.Element{keycoder.NewText("POL-001"), keycoder.NewText("active")}
	if err := mgr.Put(pk, newRecord, oldRecord); err != nil {
		t.Fatalf("update Put failed: %v", err)
	}

	engine, prefix, err := mgr.Iter("by_status")
	if err != nil {
		t.Fatalf("Iter failed: %v", err)
	}

	draft := mustKey(t, keycoder.NewText("draft"))
	it := rangeiter.New(engine, prefix).SetPrefix(draft)
	if err := it.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if it.Next() {
		t.Fatal("expected no entries under the old status after update")
	}

	active := mustKey(t, keycoder.NewText("active"))
	it = rangeiter.New(engine, prefix).SetPrefix(active)
	if err := it.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !it.Next() {
		t.Fatal("expected one entry under the new status")
	}
}

func TestRemoveDeletesIndexEntries(t *testing.T) {
	db := openTestDB(t, "/tmp/test_index_remove.db")
	mgr := New(db, db.Tree())

	if err := mgr.AddIndex(Def{
		Name:    "by_status",
		Columns: []int{1},
		Prefix:  []byte("idx_status\x01"),
	}); err != nil {
		t.Fatalf("AddIndex failed: %v", err)
	}

	pk := mustKey(t, keycoder.NewText("POL-001"))
	record := []keycoder.Element{keycoder.NewText("POL-001"), keycoder.NewText("active")}
	if err := mgr.Put(pk, record, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := mgr.Remove(pk, record); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	engine, prefix, err := mgr.Iter("by_status")
	if err != nil {
		t.Fatalf("Iter failed: %v", err)
	}
	active := mustKey(t, keycoder.NewText("active"))
	it := rangeiter.New(engine, prefix).SetPrefix(active)
	if err := it.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if it.Next() {
		t.Fatal("expected no entries after Remove")
	}
}

func TestIterUnknownIndexErrors(t *testing.T) {
	db := openTestDB(t, "/tmp/test_index_unknown.db")
	mgr := New(db, db.Tree())

	if _, _, err := mgr.Iter("nonexistent"); err == nil {
		t.Fatal("expected error for unknown index name")
	}
}
