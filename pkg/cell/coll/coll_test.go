package coll

import (
	"testing"

	"convex.dev/node/pkg/cell"
)

func longRef(n int64) cell.Ref { return cell.NewRef(cell.LongCell(n)) }

func TestVectorConjGetCount(t *testing.T) {
	v := Empty
	for i := int64(0); i < 40; i++ {
		v = v.Conj(longRef(i))
	}
	if v.Count() != 40 {
		t.Fatalf("count = %d, want 40", v.Count())
	}
	for i := int64(0); i < 40; i++ {
		r, ok := v.Get(uint64(i))
		if !ok {
			t.Fatalf("missing index %d", i)
		}
		got, _ := r.Value()
		if got.(cell.LongCell) != cell.LongCell(i) {
			t.Fatalf("index %d = %v, want %d", i, got, i)
		}
	}
}

func TestVectorAssocAppend(t *testing.T) {
	v := NewVector(longRef(1), longRef(2), longRef(3))
	v2, err := v.Assoc(1, longRef(99))
	if err != nil {
		t.Fatal(err)
	}
	got, _ := mustGet(t, v2, 1)
	if got != 99 {
		t.Fatalf("assoc value = %d, want 99", got)
	}
	// assoc at count appends, growing the vector by one
	v3, err := v2.Assoc(v2.Count(), longRef(4))
	if err != nil {
		t.Fatal(err)
	}
	if v3.Count() != 4 {
		t.Fatalf("count after append-assoc = %d, want 4", v3.Count())
	}
	if _, err := v3.Assoc(99, longRef(0)); err == nil {
		t.Fatal("expected error asserting out-of-range assoc")
	}
}

func mustGet(t *testing.T, v Vector, i uint64) (int64, bool) {
	t.Helper()
	r, ok := v.Get(i)
	if !ok {
		return 0, false
	}
	c, _ := r.Value()
	return int64(c.(cell.LongCell)), true
}

func TestVectorRoundTrip(t *testing.T) {
	v := Empty
	for i := int64(0); i < 30; i++ {
		v = v.Conj(longRef(i))
	}
	enc := cell.Encode(v)
	dec, err := cell.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	v2 := dec.(Vector)
	if v2.Count() != v.Count() {
		t.Fatalf("round trip count = %d, want %d", v2.Count(), v.Count())
	}
	for i := uint64(0); i < v.Count(); i++ {
		got, _ := mustGet(t, v2, i)
		want, _ := mustGet(t, v, i)
		if got != want {
			t.Fatalf("index %d = %d, want %d", i, got, want)
		}
	}
}

func kw(t *testing.T, s string) cell.Ref {
	t.Helper()
	k, err := cell.NewKeyword(s)
	if err != nil {
		t.Fatal(err)
	}
	return cell.NewRef(k)
}

func TestHashMapAssocGetDissoc(t *testing.T) {
	m := EmptyMap
	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}
	for i, k := range keys {
		m = m.Assoc(kw(t, k), longRef(int64(i)))
	}
	if m.Count() != uint64(len(keys)) {
		t.Fatalf("count = %d, want %d", m.Count(), len(keys))
	}
	for i, k := range keys {
		v, ok := m.Get(kw(t, k))
		if !ok {
			t.Fatalf("missing key %q", k)
		}
		got, _ := v.Value()
		if int64(got.(cell.LongCell)) != int64(i) {
			t.Fatalf("key %q = %v, want %d", k, got, i)
		}
	}
	// re-assoc of an existing key must not change count
	m2 := m.Assoc(kw(t, "alpha"), longRef(100))
	if m2.Count() != m.Count() {
		t.Fatalf("re-assoc changed count: %d vs %d", m2.Count(), m.Count())
	}
	m3 := m.Dissoc(kw(t, "beta"))
	if m3.Count() != m.Count()-1 {
		t.Fatalf("dissoc count = %d, want %d", m3.Count(), m.Count()-1)
	}
	if _, ok := m3.Get(kw(t, "beta")); ok {
		t.Fatal("beta still present after dissoc")
	}
	// dissoc of an absent key is a no-op
	m4 := m3.Dissoc(kw(t, "beta"))
	if m4.Count() != m3.Count() {
		t.Fatalf("dissoc of absent key changed count")
	}
}

func TestHashMapRoundTrip(t *testing.T) {
	m := EmptyMap
	for i := 0; i < 25; i++ {
		m = m.Assoc(longRef(int64(i)), longRef(int64(i*i)))
	}
	enc := cell.Encode(m)
	dec, err := cell.Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	m2 := dec.(HashMap)
	if m2.Count() != m.Count() {
		t.Fatalf("round trip count = %d, want %d", m2.Count(), m.Count())
	}
	for i := 0; i < 25; i++ {
		v, ok := m2.Get(longRef(int64(i)))
		if !ok {
			t.Fatalf("missing key %d after round trip", i)
		}
		got, _ := v.Value()
		if int64(got.(cell.LongCell)) != int64(i*i) {
			t.Fatalf("key %d = %v, want %d", i, got, i*i)
		}
	}
}

func TestHashSetAddContainsRemove(t *testing.T) {
	s := EmptySet
	s = s.Add(longRef(1)).Add(longRef(2)).Add(longRef(3))
	if s.Count() != 3 {
		t.Fatalf("count = %d, want 3", s.Count())
	}
	if !s.Contains(longRef(2)) {
		t.Fatal("expected set to contain 2")
	}
	s2 := s.Remove(longRef(2))
	if s2.Contains(longRef(2)) {
		t.Fatal("2 still present after remove")
	}
	if s2.Count() != 2 {
		t.Fatalf("count after remove = %d, want 2", s2.Count())
	}
}

func TestBlobMapAssocGetLexicographicOrder(t *testing.T) {
	m := EmptyBlobMap
	addrs := []uint64{5, 1, 100, 2, 50}
	for _, a := range addrs {
		key := cell.NewRef(cell.AddressCell(a))
		m = m.Assoc(key, longRef(int64(a)))
	}
	if m.Count() != uint64(len(addrs)) {
		t.Fatalf("count = %d, want %d", m.Count(), len(addrs))
	}
	for _, a := range addrs {
		v, ok := m.Get(cell.NewRef(cell.AddressCell(a)))
		if !ok {
			t.Fatalf("missing address %d", a)
		}
		got, _ := v.Value()
		if uint64(got.(cell.LongCell)) != a {
			t.Fatalf("address %d = %v, want %d", a, got, a)
		}
	}
	entries := m.Entries()
	if len(entries) != len(addrs) {
		t.Fatalf("entries len = %d, want %d", len(entries), len(addrs))
	}
	var prev []byte
	for _, e := range entries {
		kv, _ := e.Key().Value()
		b := cell.Encode(kv)
		if prev != nil && string(b) < string(prev) {
			t.Fatalf("entries not in lexicographic order: %x before %x", prev, b)
		}
		prev = b
	}
}
