// Package store implements the content-addressed cell store: every
// cell a peer has ever seen, keyed by its hash, with a per-ref status
// tracking how far the cell has propagated.
package store

import (
	"sync"

	"convex.dev/node/pkg/cell"
)

// Store resolves hashes to cells and tracks a single root (the current
// consensus state, or whatever the caller designates). Implementations
// must be safe for concurrent use — the belief propagator, transaction
// handler and CVM executor loops all read and write through it.
type Store interface {
	// Get returns the cell stored under h, if present.
	Get(h cell.Hash) (cell.Ref, bool)

	// Put stores c (embedding it under its own hash) with at least the
	// given status, returning the ref now on file — Put never downgrades
	// an existing ref's status.
	Put(c cell.Cell, status cell.RefStatus) cell.Ref

	// UpdateStatus upgrades the status of an already-stored hash, a
	// no-op if h is unknown to this store.
	UpdateStatus(h cell.Hash, status cell.RefStatus)

	// Root returns the store's designated root cell, if one has been set.
	Root() (cell.Ref, bool)

	// SetRoot designates c (already Put, or stored as a side effect) as
	// the new root.
	SetRoot(c cell.Cell) cell.Ref
}

// Resolve walks r, fetching its value from s if r is a bare hash pointer.
// It returns cell.ErrMissingData if the store does not hold it.
func Resolve(s Store, r cell.Ref) (cell.Cell, error) {
	if v, ok := r.Value(); ok {
		return v, nil
	}
	got, ok := s.Get(r.Hash())
	if !ok {
		return nil, cell.ErrMissingData(r.Hash())
	}
	v, ok := got.Value()
	if !ok {
		return nil, cell.ErrMissingData(r.Hash())
	}
	return v, nil
}

// MemStore is an in-memory Store: a mutex-guarded map keyed by cell
// hash, for tests and single-process demos that don't need durability.
type MemStore struct {
	mu    sync.Mutex
	cells map[cell.Hash]cell.Ref
	root  *cell.Hash
}

func NewMemStore() *MemStore {
	return &MemStore{cells: make(map[cell.Hash]cell.Ref)}
}

func (s *MemStore) Get(h cell.Hash) (cell.Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.cells[h]
	return r, ok
}

func (s *MemStore) Put(c cell.Cell, status cell.RefStatus) cell.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(c, status)
}

func (s *MemStore) putLocked(c cell.Cell, status cell.RefStatus) cell.Ref {
	h := cell.HashOf(c)
	r := cell.NewRef(c).WithStatus(status)
	if existing, ok := s.cells[h]; ok {
		r = existing.WithStatus(status)
	}
	s.cells[h] = r
	return r
}

func (s *MemStore) UpdateStatus(h cell.Hash, status cell.RefStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.cells[h]; ok {
		s.cells[h] = r.WithStatus(status)
	}
}

func (s *MemStore) Root() (cell.Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return cell.Ref{}, false
	}
	return s.cells[*s.root], true
}

func (s *MemStore) SetRoot(c cell.Cell) cell.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.putLocked(c, cell.StatusInternal)
	h := r.Hash()
	s.root = &h
	return r
}
