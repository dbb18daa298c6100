package store

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"convex.dev/node/pkg/cell"
)

// PebbleStore is a durable Store backed by pebble: a single-DB,
// prefixed-key layout where values are a cell's own canonical encoding
// (pkg/cell.Encode) rather than gob, since content-addressing already
// gives us a self-describing wire format.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Key layout: c:<32-byte-hash> for cells, s:<32-byte-hash> for a cell's
// status byte, r: for the designated root hash.
func kCell(h cell.Hash) []byte   { return append([]byte("c:"), h[:]...) }
func kStatus(h cell.Hash) []byte { return append([]byte("s:"), h[:]...) }
func kRoot() []byte              { return []byte("r:") }

func (s *PebbleStore) Get(h cell.Hash) (cell.Ref, bool) {
	val, closer, err := s.db.Get(kCell(h))
	if err != nil {
		if err == pebble.ErrNotFound {
			return cell.Ref{}, false
		}
		panic(fmt.Errorf("pebble get %s: %w", h, err))
	}
	defer closer.Close()
	c, err := cell.Decode(append([]byte(nil), val...))
	if err != nil {
		panic(fmt.Errorf("decode stored cell %s: %w", h, err))
	}
	return cell.NewRef(c).WithStatus(s.statusOf(h)), true
}

func (s *PebbleStore) statusOf(h cell.Hash) cell.RefStatus {
	val, closer, err := s.db.Get(kStatus(h))
	if err != nil {
		return cell.StatusStored
	}
	defer closer.Close()
	if len(val) == 0 {
		return cell.StatusStored
	}
	return cell.RefStatus(val[0])
}

func (s *PebbleStore) Put(c cell.Cell, status cell.RefStatus) cell.Ref {
	h := cell.HashOf(c)
	merged := status.Upgrade(s.statusOf(h))
	if err := s.db.Set(kCell(h), cell.Encode(c), pebble.Sync); err != nil {
		panic(fmt.Errorf("pebble put %s: %w", h, err))
	}
	if err := s.db.Set(kStatus(h), []byte{byte(merged)}, pebble.Sync); err != nil {
		panic(fmt.Errorf("pebble put status %s: %w", h, err))
	}
	return cell.NewRef(c).WithStatus(merged)
}

func (s *PebbleStore) UpdateStatus(h cell.Hash, status cell.RefStatus) {
	if _, ok := s.Get(h); !ok {
		return
	}
	merged := status.Upgrade(s.statusOf(h))
	if err := s.db.Set(kStatus(h), []byte{byte(merged)}, pebble.Sync); err != nil {
		panic(fmt.Errorf("pebble update status %s: %w", h, err))
	}
}

func (s *PebbleStore) Root() (cell.Ref, bool) {
	val, closer, err := s.db.Get(kRoot())
	if err != nil {
		return cell.Ref{}, false
	}
	defer closer.Close()
	var h cell.Hash
	copy(h[:], val)
	return s.Get(h)
}

func (s *PebbleStore) SetRoot(c cell.Cell) cell.Ref {
	r := s.Put(c, cell.StatusInternal)
	h := r.Hash()
	if err := s.db.Set(kRoot(), h[:], pebble.Sync); err != nil {
		panic(fmt.Errorf("pebble set root: %w", err))
	}
	return r
}
