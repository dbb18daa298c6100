package coll

import (
	"math/bits"

	"convex.dev/node/pkg/cell"
)

// maxHashDepth bounds HAMT descent at 60 nibbles (240 of the key hash's 256
// bits); a key collision surviving every nibble falls into a collision node
// rather than recursing forever.
const maxHashDepth = 60

func init() {
	cell.RegisterDecoder(cell.TagHashMap, decodeHashMap)
}

// hnode is one slot of a HashMap/HashSet trie: either a leaf entry or a
// pointer to a deeper trie node, distinguished by the leaf flag alongside
// the ref in the encoding.
type hnode struct {
	leaf bool
	ref  cell.Ref
}

// HashMap is a SHA3-keyed hash array mapped trie: each level dispatches on
// one 4-bit nibble of the key's cell hash, collecting set child positions
// in a 16-bit bitmap so empty slots cost nothing in the encoding.
type HashMap struct {
	depth  uint8
	bitmap uint16
	nodes  []hnode // one per set bit of bitmap, in ascending bit order
	// collision holds entries for keys whose hashes agree through
	// maxHashDepth nibbles; only used at depth == maxHashDepth.
	collision []cell.Ref
	count     uint64
}

var EmptyMap = HashMap{}

func (m HashMap) Count() uint64 { return m.count }

func nibbleAt(h cell.Hash, depth uint8) byte {
	byteIdx := depth / 2
	if int(byteIdx) >= len(h) {
		return 0
	}
	b := h[byteIdx]
	if depth%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

func slotIndex(bitmap uint16, nib byte) (idx int, present bool) {
	mask := uint16(1) << nib
	if bitmap&mask == 0 {
		return 0, false
	}
	return bits.OnesCount16(bitmap & (mask - 1)), true
}

// Get looks up key, returning its value ref and true if present.
func (m HashMap) Get(key cell.Ref) (cell.Ref, bool) {
	if m.depth == maxHashDepth {
		for _, er := range m.collision {
			e, ok := er.Value()
			if !ok {
				continue
			}
			me := e.(MapEntry)
			if keyEqual(me.key, key) {
				return me.val, true
			}
		}
		return cell.Ref{}, false
	}
	h := keyHash(key)
	nib := nibbleAt(h, m.depth)
	idx, present := slotIndex(m.bitmap, nib)
	if !present {
		return cell.Ref{}, false
	}
	n := m.nodes[idx]
	if n.leaf {
		ev, ok := n.ref.Value()
		if !ok {
			return cell.Ref{}, false
		}
		me := ev.(MapEntry)
		if keyEqual(me.key, key) {
			return me.val, true
		}
		return cell.Ref{}, false
	}
	sub, ok := n.ref.Value()
	if !ok {
		return cell.Ref{}, false
	}
	return sub.(HashMap).Get(key)
}

func keyHash(key cell.Ref) cell.Hash {
	if v, ok := key.Value(); ok {
		return cell.HashOf(v)
	}
	return key.Hash()
}

// Assoc returns a new map with key bound to val.
func (m HashMap) Assoc(key, val cell.Ref) HashMap {
	entry := cell.NewRef(NewMapEntry(key, val))

	if m.depth == maxHashDepth {
		for i, er := range m.collision {
			e, ok := er.Value()
			if ok && keyEqual(e.(MapEntry).key, key) {
				nc := append([]cell.Ref(nil), m.collision...)
				nc[i] = entry
				return HashMap{depth: m.depth, collision: nc, count: m.count}
			}
		}
		nc := append(append([]cell.Ref(nil), m.collision...), entry)
		return HashMap{depth: m.depth, collision: nc, count: m.count + 1}
	}

	h := keyHash(key)
	nib := nibbleAt(h, m.depth)
	idx, present := slotIndex(m.bitmap, nib)

	if !present {
		insertAt, _ := slotIndex(m.bitmap|(1<<nib), nib)
		nodes := make([]hnode, 0, len(m.nodes)+1)
		nodes = append(nodes, m.nodes[:insertAt]...)
		nodes = append(nodes, hnode{leaf: true, ref: entry})
		nodes = append(nodes, m.nodes[insertAt:]...)
		return HashMap{depth: m.depth, bitmap: m.bitmap | (1 << nib), nodes: nodes, count: m.count + 1}
	}

	existing := m.nodes[idx]
	nodes := append([]hnode(nil), m.nodes...)

	if existing.leaf {
		ev, _ := existing.ref.Value()
		me := ev.(MapEntry)
		if keyEqual(me.key, key) {
			nodes[idx] = hnode{leaf: true, ref: entry}
			return HashMap{depth: m.depth, bitmap: m.bitmap, nodes: nodes, count: m.count}
		}
		sub := HashMap{depth: m.depth + 1}
		sub = sub.Assoc(me.key, me.val)
		sub = sub.Assoc(key, val)
		nodes[idx] = hnode{leaf: false, ref: cell.NewRef(sub)}
		return HashMap{depth: m.depth, bitmap: m.bitmap, nodes: nodes, count: m.count + 1}
	}

	sv, _ := existing.ref.Value()
	sub := sv.(HashMap)
	before := sub.count
	nsub := sub.Assoc(key, val)
	nodes[idx] = hnode{leaf: false, ref: cell.NewRef(nsub)}
	return HashMap{depth: m.depth, bitmap: m.bitmap, nodes: nodes, count: m.count + (nsub.count - before)}
}

// Dissoc returns a new map with key removed, or m unchanged (count equal)
// if key was absent.
func (m HashMap) Dissoc(key cell.Ref) HashMap {
	if m.depth == maxHashDepth {
		for i, er := range m.collision {
			e, ok := er.Value()
			if ok && keyEqual(e.(MapEntry).key, key) {
				nc := append(append([]cell.Ref(nil), m.collision[:i]...), m.collision[i+1:]...)
				return HashMap{depth: m.depth, collision: nc, count: m.count - 1}
			}
		}
		return m
	}
	h := keyHash(key)
	nib := nibbleAt(h, m.depth)
	idx, present := slotIndex(m.bitmap, nib)
	if !present {
		return m
	}
	n := m.nodes[idx]
	if n.leaf {
		ev, _ := n.ref.Value()
		if !keyEqual(ev.(MapEntry).key, key) {
			return m
		}
		nodes := append(append([]hnode(nil), m.nodes[:idx]...), m.nodes[idx+1:]...)
		return HashMap{depth: m.depth, bitmap: m.bitmap &^ (1 << nib), nodes: nodes, count: m.count - 1}
	}
	sv, _ := n.ref.Value()
	sub := sv.(HashMap)
	nsub := sub.Dissoc(key)
	if nsub.count == sub.count {
		return m
	}
	nodes := append([]hnode(nil), m.nodes...)
	if nsub.count == 0 {
		nodes = append(append([]hnode(nil), m.nodes[:idx]...), m.nodes[idx+1:]...)
		return HashMap{depth: m.depth, bitmap: m.bitmap &^ (1 << nib), nodes: nodes, count: m.count - 1}
	}
	nodes[idx] = hnode{leaf: false, ref: cell.NewRef(nsub)}
	return HashMap{depth: m.depth, bitmap: m.bitmap, nodes: nodes, count: m.count - 1}
}

func (m HashMap) Tag() cell.Tag { return cell.TagHashMap }

func (m HashMap) Encode(w *cell.Writer) {
	w.Byte(m.depth)
	w.Uvarint(m.count)
	if m.depth == maxHashDepth {
		w.Uvarint(uint64(len(m.collision)))
		for _, e := range m.collision {
			w.Ref(e)
		}
		return
	}
	w.Uvarint(uint64(m.bitmap))
	for _, n := range m.nodes {
		if n.leaf {
			w.Byte(0)
		} else {
			w.Byte(1)
		}
		w.Ref(n.ref)
	}
}

func (m HashMap) ChildRefs() []cell.Ref {
	if m.depth == maxHashDepth {
		return m.collision
	}
	refs := make([]cell.Ref, len(m.nodes))
	for i, n := range m.nodes {
		refs[i] = n.ref
	}
	return refs
}

func (m HashMap) MemSize() uint64 {
	size := uint64(4)
	for _, r := range m.ChildRefs() {
		if !r.IsEmbedded() {
			if v, ok := r.Value(); ok {
				size += v.MemSize()
			}
		}
	}
	return size
}

func decodeHashMap(r *cell.Reader) (cell.Cell, error) {
	depth, err := r.Byte()
	if err != nil {
		return nil, err
	}
	count, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if depth == maxHashDepth {
		n, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		entries := make([]cell.Ref, 0, n)
		for i := uint64(0); i < n; i++ {
			ref, err := r.Ref()
			if err != nil {
				return nil, err
			}
			entries = append(entries, ref)
		}
		return HashMap{depth: depth, collision: entries, count: count}, nil
	}
	bm, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	n := bits.OnesCount16(uint16(bm))
	nodes := make([]hnode, 0, n)
	for i := 0; i < n; i++ {
		kind, err := r.Byte()
		if err != nil {
			return nil, err
		}
		ref, err := r.Ref()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, hnode{leaf: kind == 0, ref: ref})
	}
	return HashMap{depth: depth, bitmap: uint16(bm), nodes: nodes, count: count}, nil
}
