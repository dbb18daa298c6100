package coll

import "convex.dev/node/pkg/cell"

func init() {
	cell.RegisterDecoder(cell.TagBlobMap, decodeBlobMap)
}

// BlobMap is a binary radix trie keyed on the bits of a key's canonical
// encoding, used where callers need lexicographic key ordering (the
// peer-status and scheduled-transaction tables) rather than HashMap's
// hash-scattered order.
type BlobMap struct {
	depth  uint32 // bits of the key already consumed
	bitmap uint8  // which of the 2 children (bit 0 / bit 1) are present
	nodes  []hnode
	count  uint64
}

var EmptyBlobMap = BlobMap{}

func (m BlobMap) Count() uint64 { return m.count }

func keyBits(key cell.Ref) []byte {
	if v, ok := key.Value(); ok {
		return cell.Encode(v)
	}
	h := key.Hash()
	return h[:]
}

func bitAt(b []byte, depth uint32) byte {
	byteIdx := depth / 8
	if int(byteIdx) >= len(b) {
		return 0
	}
	shift := 7 - depth%8
	return (b[byteIdx] >> shift) & 1
}

func bmSlot(bitmap uint8, bit byte) (idx int, present bool) {
	mask := uint8(1) << bit
	if bitmap&mask == 0 {
		return 0, false
	}
	if bit == 1 && bitmap&1 != 0 {
		return 1, true
	}
	return 0, true
}

func (m BlobMap) Get(key cell.Ref) (cell.Ref, bool) {
	kb := keyBits(key)
	bit := bitAt(kb, m.depth)
	idx, present := bmSlot(m.bitmap, bit)
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
	return sub.(BlobMap).Get(key)
}

func (m BlobMap) Assoc(key, val cell.Ref) BlobMap {
	entry := cell.NewRef(NewMapEntry(key, val))
	kb := keyBits(key)
	bit := bitAt(kb, m.depth)
	idx, present := bmSlot(m.bitmap, bit)

	if !present {
		nb := m.bitmap | (1 << bit)
		insertAt := 0
		if bit == 1 && m.bitmap&1 != 0 {
			insertAt = 1
		}
		nodes := make([]hnode, 0, len(m.nodes)+1)
		nodes = append(nodes, m.nodes[:insertAt]...)
		nodes = append(nodes, hnode{leaf: true, ref: entry})
		nodes = append(nodes, m.nodes[insertAt:]...)
		return BlobMap{depth: m.depth, bitmap: nb, nodes: nodes, count: m.count + 1}
	}

	nodes := append([]hnode(nil), m.nodes...)
	existing := m.nodes[idx]
	if existing.leaf {
		ev, _ := existing.ref.Value()
		me := ev.(MapEntry)
		if keyEqual(me.key, key) {
			nodes[idx] = hnode{leaf: true, ref: entry}
			return BlobMap{depth: m.depth, bitmap: m.bitmap, nodes: nodes, count: m.count}
		}
		sub := BlobMap{depth: m.depth + 1}
		sub = sub.Assoc(me.key, me.val)
		sub = sub.Assoc(key, val)
		nodes[idx] = hnode{leaf: false, ref: cell.NewRef(sub)}
		return BlobMap{depth: m.depth, bitmap: m.bitmap, nodes: nodes, count: m.count + 1}
	}
	sv, _ := existing.ref.Value()
	sub := sv.(BlobMap)
	before := sub.count
	nsub := sub.Assoc(key, val)
	nodes[idx] = hnode{leaf: false, ref: cell.NewRef(nsub)}
	return BlobMap{depth: m.depth, bitmap: m.bitmap, nodes: nodes, count: m.count + (nsub.count - before)}
}

func (m BlobMap) Dissoc(key cell.Ref) BlobMap {
	kb := keyBits(key)
	bit := bitAt(kb, m.depth)
	idx, present := bmSlot(m.bitmap, bit)
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
		return BlobMap{depth: m.depth, bitmap: m.bitmap &^ (1 << bit), nodes: nodes, count: m.count - 1}
	}
	sv, _ := n.ref.Value()
	sub := sv.(BlobMap)
	nsub := sub.Dissoc(key)
	if nsub.count == sub.count {
		return m
	}
	if nsub.count == 0 {
		nodes := append(append([]hnode(nil), m.nodes[:idx]...), m.nodes[idx+1:]...)
		return BlobMap{depth: m.depth, bitmap: m.bitmap &^ (1 << bit), nodes: nodes, count: m.count - 1}
	}
	nodes := append([]hnode(nil), m.nodes...)
	nodes[idx] = hnode{leaf: false, ref: cell.NewRef(nsub)}
	return BlobMap{depth: m.depth, bitmap: m.bitmap, nodes: nodes, count: m.count - 1}
}

// Entries walks the trie in key-ascending (lexicographic) order — the
// property that distinguishes BlobMap from HashMap's hash-scattered order.
func (m BlobMap) Entries() []MapEntry {
	var out []MapEntry
	for bit := byte(0); bit < 2; bit++ {
		idx, present := bmSlot(m.bitmap, bit)
		if !present {
			continue
		}
		n := m.nodes[idx]
		if n.leaf {
			if ev, ok := n.ref.Value(); ok {
				out = append(out, ev.(MapEntry))
			}
			continue
		}
		if sv, ok := n.ref.Value(); ok {
			out = append(out, sv.(BlobMap).Entries()...)
		}
	}
	return out
}

func (m BlobMap) Tag() cell.Tag { return cell.TagBlobMap }

func (m BlobMap) Encode(w *cell.Writer) {
	w.Uvarint(uint64(m.depth))
	w.Uvarint(m.count)
	w.Byte(m.bitmap)
	for _, n := range m.nodes {
		if n.leaf {
			w.Byte(0)
		} else {
			w.Byte(1)
		}
		w.Ref(n.ref)
	}
}

func (m BlobMap) ChildRefs() []cell.Ref {
	refs := make([]cell.Ref, len(m.nodes))
	for i, n := range m.nodes {
		refs[i] = n.ref
	}
	return refs
}

func (m BlobMap) MemSize() uint64 {
	size := uint64(6)
	for _, r := range m.ChildRefs() {
		if !r.IsEmbedded() {
			if v, ok := r.Value(); ok {
				size += v.MemSize()
			}
		}
	}
	return size
}

func decodeBlobMap(r *cell.Reader) (cell.Cell, error) {
	depth, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	count, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	bm, err := r.Byte()
	if err != nil {
		return nil, err
	}
	n := 0
	if bm&1 != 0 {
		n++
	}
	if bm&2 != 0 {
		n++
	}
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
	return BlobMap{depth: uint32(depth), bitmap: bm, nodes: nodes, count: count}, nil
}
