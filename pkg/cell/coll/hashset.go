package coll

import "convex.dev/node/pkg/cell"

func init() {
	cell.RegisterDecoder(cell.TagHashSet, decodeHashSet)
}

var nullRef = cell.NewRef(cell.Null)

// HashSet is a HashMap whose values are always the Null sentinel — the
// same trie shape as HashMap, dispatched under its own tag so Get
// vs Contains semantics stay distinct at the type level.
type HashSet struct {
	m HashMap
}

var EmptySet = HashSet{}

func (s HashSet) Count() uint64 { return s.m.count }

func (s HashSet) Contains(item cell.Ref) bool {
	_, ok := s.m.Get(item)
	return ok
}

func (s HashSet) Add(item cell.Ref) HashSet {
	return HashSet{m: s.m.Assoc(item, nullRef)}
}

func (s HashSet) Remove(item cell.Ref) HashSet {
	return HashSet{m: s.m.Dissoc(item)}
}

func (s HashSet) Tag() cell.Tag         { return cell.TagHashSet }
func (s HashSet) Encode(w *cell.Writer) { s.m.Encode(w) }
func (s HashSet) ChildRefs() []cell.Ref { return s.m.ChildRefs() }
func (s HashSet) MemSize() uint64       { return s.m.MemSize() }

func decodeHashSet(r *cell.Reader) (cell.Cell, error) {
	c, err := decodeHashMap(r)
	if err != nil {
		return nil, err
	}
	return HashSet{m: c.(HashMap)}, nil
}
