// Package coll implements Convex's persistent collections: Vector,
// HashMap, HashSet, BlobMap and MapEntry, all as cell trees built on
// pkg/cell's canonical encoding.
package coll

import (
	"convex.dev/node/pkg/cell"
)

const (
	branch    = 16 // 16-way radix
	leafShift = 0
)

func init() {
	cell.RegisterDecoder(cell.TagVectorFlat, decodeVectorFlat)
	cell.RegisterDecoder(cell.TagVectorTree, decodeVectorTree)
}

// Vector is a persistent, indexed sequence. Short vectors (<= branch
// elements) are a flat array; longer vectors are a 16-way tree where every
// node but the rightmost child at each level is fully packed — the
// invariant that makes Count derivable from shape and vector equality a
// structural check.
type Vector struct {
	flat     []cell.Ref // non-nil only for the flat form
	children []cell.Ref // non-nil only for the tree form; each child is itself a Vector ref
	shift    uint       // bits of index consumed above this node, tree form only
	count    uint64
}

func NewVector(items ...cell.Ref) Vector {
	v := Empty
	for _, it := range items {
		v = v.Conj(it)
	}
	return v
}

var Empty = Vector{count: 0}

func (v Vector) Count() uint64 { return v.count }

func (v Vector) isTree() bool { return v.flat == nil && v.count > 0 }

// Get returns the element at index i in O(log16 n).
func (v Vector) Get(i uint64) (cell.Ref, bool) {
	if i >= v.count {
		return cell.Ref{}, false
	}
	if !v.isTree() {
		return v.flat[i], true
	}
	idx := (i >> v.shift) & (branch - 1)
	child, ok := v.children[idx].Value()
	if !ok {
		return cell.Ref{}, false // caller must resolve via Store
	}
	return child.(Vector).Get(i &^ (uint64(branch-1) << v.shift))
}

// Assoc returns a new vector with index i set to val. i == Count() appends
//; i > Count() is an argument error.
func (v Vector) Assoc(i uint64, val cell.Ref) (Vector, error) {
	if i == v.count {
		return v.Conj(val), nil
	}
	if i > v.count {
		return Vector{}, cell.ErrArgument("assoc index %d > count %d", i, v.count)
	}
	if !v.isTree() {
		nf := append([]cell.Ref(nil), v.flat...)
		nf[i] = val
		return Vector{flat: nf, count: v.count}, nil
	}
	idx := (i >> v.shift) & (branch - 1)
	child, _ := v.children[idx].Value()
	nc, err := child.(Vector).Assoc(i&^(uint64(branch-1)<<v.shift), val)
	if err != nil {
		return Vector{}, err
	}
	children := append([]cell.Ref(nil), v.children...)
	children[idx] = cell.NewRef(nc)
	return Vector{children: children, shift: v.shift, count: v.count}, nil
}

// Conj appends val, growing the tree shape as needed).
func (v Vector) Conj(val cell.Ref) Vector {
	if v.count >= 1<<63 {
		panic(cell.ErrLimit("vector count exceeds 63 bits"))
	}
	if !v.isTree() {
		if uint64(len(v.flat)) < branch {
			nf := append(append([]cell.Ref(nil), v.flat...), val)
			return Vector{flat: nf, count: v.count + 1}
		}
		// promote flat -> tree of depth 1
		leaf := Vector{flat: v.flat, count: v.count}
		return Vector{
			children: []cell.Ref{cell.NewRef(leaf), cell.NewRef(Vector{flat: []cell.Ref{val}, count: 1})},
			shift:    shiftFor(branch),
			count:    v.count + 1,
		}
	}
	capacity := uint64(branch) << v.shift
	if v.count < capacity {
		idx := (v.count >> v.shift) & (branch - 1)
		if idx < uint64(len(v.children)) {
			child, _ := v.children[idx].Value()
			nc := child.(Vector).Conj(val)
			children := append([]cell.Ref(nil), v.children...)
			children[idx] = cell.NewRef(nc)
			return Vector{children: children, shift: v.shift, count: v.count + 1}
		}
		// new rightmost child
		nc := newLeafPath(v.shift-shiftFor(branch), val)
		children := append(append([]cell.Ref(nil), v.children...), cell.NewRef(nc))
		return Vector{children: children, shift: v.shift, count: v.count + 1}
	}
	// grow a new root level
	return Vector{
		children: []cell.Ref{cell.NewRef(v), cell.NewRef(newLeafPath(v.shift, val))},
		shift:    v.shift + shiftFor(branch),
		count:    v.count + 1,
	}
}

func shiftFor(_ int) uint { return 4 } // log2(branch)

func newLeafPath(shift uint, val cell.Ref) Vector {
	if shift == 0 {
		return Vector{flat: []cell.Ref{val}, count: 1}
	}
	return Vector{children: []cell.Ref{cell.NewRef(newLeafPath(shift-shiftFor(branch), val))}, shift: shift, count: 1}
}

// Slice returns the half-open range [start, end) as a new Vector.
func (v Vector) Slice(start, end uint64) (Vector, error) {
	if start > end || end > v.count {
		return Vector{}, cell.ErrArgument("slice [%d,%d) out of range for count %d", start, end, v.count)
	}
	out := Empty
	for i := start; i < end; i++ {
		r, ok := v.Get(i)
		if !ok {
			return Vector{}, cell.ErrMissingData(cell.Hash{})
		}
		out = out.Conj(r)
	}
	return out, nil
}

// Next returns the vector without its first element (used by sequence
// operations), or (Empty, false) if v is already empty.
func (v Vector) Next() (Vector, bool) {
	if v.count == 0 {
		return Empty, false
	}
	s, _ := v.Slice(1, v.count)
	return s, true
}

func (v Vector) Tag() cell.Tag {
	if v.isTree() {
		return cell.TagVectorTree
	}
	return cell.TagVectorFlat
}

func (v Vector) Encode(w *cell.Writer) {
	w.Uvarint(v.count)
	if v.isTree() {
		w.Uvarint(uint64(v.shift))
		w.Uvarint(uint64(len(v.children)))
		for _, c := range v.children {
			w.Ref(c)
		}
		return
	}
	for _, r := range v.flat {
		w.Ref(r)
	}
}

func (v Vector) ChildRefs() []cell.Ref {
	if v.isTree() {
		return v.children
	}
	return v.flat
}

func (v Vector) MemSize() uint64 {
	size := uint64(10)
	for _, r := range v.ChildRefs() {
		if !r.IsEmbedded() {
			if c, ok := r.Value(); ok {
				size += c.MemSize()
			}
		}
	}
	return size
}

func decodeVectorFlat(r *cell.Reader) (cell.Cell, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	items := make([]cell.Ref, 0, n)
	for i := uint64(0); i < n; i++ {
		ref, err := r.Ref()
		if err != nil {
			return nil, err
		}
		items = append(items, ref)
	}
	return Vector{flat: items, count: n}, nil
}

func decodeVectorTree(r *cell.Reader) (cell.Cell, error) {
	count, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	shift, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	children := make([]cell.Ref, 0, n)
	for i := uint64(0); i < n; i++ {
		ref, err := r.Ref()
		if err != nil {
			return nil, err
		}
		children = append(children, ref)
	}
	return Vector{children: children, shift: uint(shift), count: count}, nil
}
