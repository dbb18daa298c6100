package coll

import "convex.dev/node/pkg/cell"

func init() {
	cell.RegisterDecoder(cell.TagMapEntry, decodeMapEntry)
}

// MapEntry is a fixed key/value pair, always encoded as a 2-element vector
// body — no count prefix, since the arity is fixed by the tag.
type MapEntry struct {
	key cell.Ref
	val cell.Ref
}

func NewMapEntry(key, val cell.Ref) MapEntry { return MapEntry{key: key, val: val} }

func (e MapEntry) Key() cell.Ref   { return e.key }
func (e MapEntry) Value() cell.Ref { return e.val }

func (e MapEntry) Tag() cell.Tag { return cell.TagMapEntry }

func (e MapEntry) Encode(w *cell.Writer) {
	w.Ref(e.key)
	w.Ref(e.val)
}

func (e MapEntry) ChildRefs() []cell.Ref { return []cell.Ref{e.key, e.val} }

func (e MapEntry) MemSize() uint64 {
	size := uint64(1)
	for _, r := range e.ChildRefs() {
		if !r.IsEmbedded() {
			if v, ok := r.Value(); ok {
				size += v.MemSize()
			}
		}
	}
	return size
}

func decodeMapEntry(r *cell.Reader) (cell.Cell, error) {
	k, err := r.Ref()
	if err != nil {
		return nil, err
	}
	v, err := r.Ref()
	if err != nil {
		return nil, err
	}
	return MapEntry{key: k, val: v}, nil
}

// keyEqual compares two resolved key refs by their canonical encoding —
// structural equality for content-addressed cells.
func keyEqual(a, b cell.Ref) bool {
	av, aok := a.Value()
	bv, bok := b.Value()
	if aok && bok {
		return bytesEqual(cell.Encode(av), cell.Encode(bv))
	}
	return a.Hash() == b.Hash()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
