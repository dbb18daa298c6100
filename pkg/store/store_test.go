package store

import (
	"testing"

	"convex.dev/node/pkg/cell"
)

func TestMemStorePutGet(t *testing.T) {
	s := NewMemStore()
	c := cell.LongCell(42)
	r := s.Put(c, cell.StatusStored)
	got, ok := s.Get(r.Hash())
	if !ok {
		t.Fatal("expected cell to be present")
	}
	v, _ := got.Value()
	if v.(cell.LongCell) != 42 {
		t.Fatalf("got %v, want 42", v)
	}
}

func TestMemStoreStatusMonotonic(t *testing.T) {
	s := NewMemStore()
	c := cell.LongCell(7)
	r := s.Put(c, cell.StatusStored)
	s.UpdateStatus(r.Hash(), cell.StatusUnknown) // must not downgrade
	got, _ := s.Get(r.Hash())
	if got.Status() != cell.StatusStored {
		t.Fatalf("status regressed to %v", got.Status())
	}
	s.UpdateStatus(r.Hash(), cell.StatusAnnounced)
	got, _ = s.Get(r.Hash())
	if got.Status() != cell.StatusAnnounced {
		t.Fatalf("status = %v, want ANNOUNCED", got.Status())
	}
}

func TestMemStoreRoot(t *testing.T) {
	s := NewMemStore()
	if _, ok := s.Root(); ok {
		t.Fatal("expected no root before SetRoot")
	}
	r := s.SetRoot(cell.LongCell(1))
	root, ok := s.Root()
	if !ok {
		t.Fatal("expected root after SetRoot")
	}
	if root.Hash() != r.Hash() {
		t.Fatal("root hash mismatch")
	}
}

func TestResolveMissingData(t *testing.T) {
	s := NewMemStore()
	ref := cell.RefToHash(cell.Hash{1, 2, 3}, cell.StatusUnknown)
	if _, err := Resolve(s, ref); err == nil {
		t.Fatal("expected MissingDataError")
	}
}
