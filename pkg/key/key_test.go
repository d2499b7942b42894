package key

import (
	"testing"

	"github.com/nainya/ordkey/pkg/keycoder"
)

func mustKey(t *testing.T, elements ...keycoder.Element) *Key {
	t.Helper()
	k, err := FromTuple(elements)
	if err != nil {
		t.Fatalf("FromTuple: %v", err)
	}
	return k
}

func TestKeyOrderMatchesTupleOrder(t *testing.T) {
	a := mustKey(t, keycoder.NewInt(1), keycoder.NewInt(2))
	b := mustKey(t, keycoder.NewInt(1), keycoder.NewInt(3))
	c := mustKey(t, keycoder.NewInt(2), keycoder.NewInt(0))
	if !(a.Compare(b) < 0 && b.Compare(c) < 0) {
		t.Fatalf("expected (1,2) < (1,3) < (2,0)")
	}
}

func TestKeyLenAtSlice(t *testing.T) {
	k := mustKey(t, keycoder.NewText("a"), keycoder.NewText("b"), keycoder.NewText("c"))
	n, err := k.Len()
	if err != nil || n != 3 {
		t.Fatalf("Len = %d, %v, want 3", n, err)
	}
	last, err := k.At(-1)
	if err != nil || last.Text != "c" {
		t.Fatalf("At(-1) = %+v, %v", last, err)
	}
	sub, err := k.Slice(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	subN, _ := sub.Len()
	if subN != 2 {
		t.Fatalf("slice len = %d, want 2", subN)
	}
	first, _ := sub.At(0)
	if first.Text != "b" {
		t.Fatalf("slice[0] = %+v, want b", first)
	}
}

func TestKeyConcat(t *testing.T) {
	a := mustKey(t, keycoder.NewInt(1))
	b := mustKey(t, keycoder.NewInt(2))
	c := a.Concat(b)
	n, _ := c.Len()
	if n != 2 {
		t.Fatalf("concat len = %d, want 2", n)
	}
	e0, _ := c.At(0)
	e1, _ := c.At(1)
	v0, _ := e0.Int64()
	v1, _ := e1.Int64()
	if v0 != 1 || v1 != 2 {
		t.Fatalf("concat elements = %d, %d", v0, v1)
	}
}

func TestToHexFromHex(t *testing.T) {
	k := mustKey(t, keycoder.NewText("round-trip"))
	hx := k.ToHex()
	k2, err := FromHex(hx)
	if err != nil {
		t.Fatal(err)
	}
	if !k.Equal(k2) {
		t.Fatalf("hex round trip mismatch")
	}
}

func TestFromRawPrefixMismatch(t *testing.T) {
	k := mustKey(t, keycoder.NewInt(5))
	raw := k.ToRaw([]byte("tbl1:"))
	if _, ok, err := FromRaw(raw, []byte("tbl2:")); err != nil || ok {
		t.Fatalf("expected prefix mismatch, got ok=%v err=%v", ok, err)
	}
	got, ok, err := FromRaw(raw, []byte("tbl1:"))
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	if !got.Equal(k) {
		t.Fatalf("round trip mismatch")
	}
}

func TestHashEqualImpliesSameHash(t *testing.T) {
	a := mustKey(t, keycoder.NewInt(42), keycoder.NewText("x"))
	b := mustKey(t, keycoder.NewInt(42), keycoder.NewText("x"))
	if !a.Equal(b) {
		t.Fatal("expected equal keys")
	}
	if a.Hash() != b.Hash() {
		t.Fatal("equal keys must hash equal")
	}
}

func TestNextGreaterAllFF(t *testing.T) {
	k := &Key{mode: Private, buf: []byte{0xFF, 0xFF}}
	if _, ok := k.NextGreater(); ok {
		t.Fatal("expected no next-greater for all-0xFF key")
	}
}

func TestNextGreaterIncrementsLastNonFF(t *testing.T) {
	k := &Key{mode: Private, buf: []byte{0x01, 0xFF}}
	next, ok := k.NextGreater()
	if !ok {
		t.Fatal("expected a next-greater key")
	}
	want := []byte{0x02}
	got := next.Bytes()
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("next = % x, want % x", got, want)
	}
}

func TestPrefixBoundOrdering(t *testing.T) {
	prefixKey := mustKey(t, keycoder.NewText("user"))
	bound, ok, err := PrefixBound(prefixKey)
	if err != nil || !ok {
		t.Fatalf("PrefixBound: ok=%v err=%v", ok, err)
	}
	inside := mustKey(t, keycoder.NewText("user"), keycoder.NewInt(99999999))
	outside := mustKey(t, keycoder.NewText("usfr"))
	if inside.Compare(bound) >= 0 {
		t.Fatalf("expected (user,99999999) < prefix_bound(user)")
	}
	if outside.Compare(bound) < 0 {
		t.Fatalf("expected (usfr) >= prefix_bound(user)")
	}
}

func TestKeyListFromRawSplitsAtSep(t *testing.T) {
	enc, err := keycoder.EncodeList([][]keycoder.Element{
		{keycoder.NewInt(1)},
		{keycoder.NewInt(2), keycoder.NewText("x")},
	})
	if err != nil {
		t.Fatal(err)
	}
	keys, ok, err := KeyListFromRaw(enc, nil, nil)
	if err != nil || !ok {
		t.Fatalf("KeyListFromRaw: ok=%v err=%v", ok, err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	n0, _ := keys[0].Len()
	n1, _ := keys[1].Len()
	if n0 != 1 || n1 != 2 {
		t.Fatalf("element counts = %d, %d, want 1, 2", n0, n1)
	}
}

func TestKeyListFromRawEmptyInputProducesOneEmptyTuple(t *testing.T) {
	keys, ok, err := KeyListFromRaw([]byte("p:"), []byte("p:"), nil)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if len(keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(keys))
	}
	n, _ := keys[0].Len()
	if n != 0 {
		t.Fatalf("expected empty tuple, got %d elements", n)
	}
}

type fakeSource struct {
	invalidate func()
}

func (s *fakeSource) Subscribe(onInvalidate func()) func() {
	s.invalidate = onInvalidate
	return func() { s.invalidate = nil }
}

func TestSharedKeyMaterializesOnInvalidation(t *testing.T) {
	src := &fakeSource{}
	raw := make([]byte, 4)
	copy(raw, []byte{byte(keycoder.KindPosInt), 0x01, 0, 0})
	k, ok, err := FromRawShared(raw, nil, src)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if k.Mode() != Shared {
		t.Fatalf("expected Shared mode")
	}
	src.invalidate()
	if k.Mode() != Copied {
		t.Fatalf("expected Copied mode after invalidation")
	}
	v, err := k.At(0)
	if err != nil {
		t.Fatal(err)
	}
	mag, _ := v.Int64()
	if mag != 1 {
		t.Fatalf("materialized value = %d, want 1", mag)
	}
}
