package cell

import "unicode/utf8"

// ChunkSize is the maximum length of a flat Blob/String leaf; longer values
// are chunked into a tree of ChunkSize leaves.
const ChunkSize = 4096

func init() {
	registerDecoder(TagBlob, decodeBlobFlat)
	registerDecoder(TagBlobTree, decodeBlobTree)
	registerDecoder(TagString, decodeString)
}

// ---- Blob ----

// BlobCell is opaque byte data: a flat array at or below ChunkSize, or a
// tree of ChunkSize-byte flat leaves above it.
type BlobCell struct {
	flat     []byte // nil if this is a tree node
	children []Ref  // nil if this is a flat leaf
	count    uint64 // total byte length
}

// NewBlob builds the canonical BlobCell for b, chunking into a tree if
// b is longer than ChunkSize.
func NewBlob(b []byte) BlobCell {
	if len(b) <= ChunkSize {
		cp := append([]byte(nil), b...)
		return BlobCell{flat: cp, count: uint64(len(b))}
	}
	var children []Ref
	for off := 0; off < len(b); off += ChunkSize {
		end := off + ChunkSize
		if end > len(b) {
			end = len(b)
		}
		leaf := NewBlob(b[off:end])
		children = append(children, NewRef(leaf))
	}
	return BlobCell{children: children, count: uint64(len(b))}
}

func (b BlobCell) IsTree() bool { return b.flat == nil }
func (b BlobCell) Len() int     { return int(b.count) }

// Bytes materializes the full byte sequence. For tree blobs this requires
// every child to already be resolved (embedded or pre-fetched); callers
// walking a lazily-loaded tree should resolve via a Store first.
func (b BlobCell) Bytes() []byte {
	if !b.IsTree() {
		return append([]byte(nil), b.flat...)
	}
	out := make([]byte, 0, b.count)
	for _, r := range b.children {
		v, ok := r.Value()
		if !ok {
			continue // caller must resolve via Store; return partial data
		}
		out = append(out, v.(BlobCell).Bytes()...)
	}
	return out
}

func (b BlobCell) Tag() Tag {
	if b.IsTree() {
		return TagBlobTree
	}
	return TagBlob
}

func (b BlobCell) Encode(w *Writer) {
	if !b.IsTree() {
		w.Uvarint(b.count)
		w.Bytes(b.flat)
		return
	}
	w.Uvarint(b.count)
	w.Uvarint(uint64(len(b.children)))
	for _, r := range b.children {
		w.Ref(r)
	}
}

func (b BlobCell) ChildRefs() []Ref {
	if b.IsTree() {
		return b.children
	}
	return nil
}

func (b BlobCell) MemSize() uint64 {
	if !b.IsTree() {
		return uint64(2 + len(b.flat))
	}
	size := uint64(2)
	for _, r := range b.children {
		if !r.IsEmbedded() {
			if v, ok := r.Value(); ok {
				size += v.(Cell).MemSize()
			}
		}
	}
	return size
}

func decodeBlobFlat(r *Reader) (Cell, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n > ChunkSize {
		return nil, ErrInvalidData("flat blob exceeds chunk size: %d", n)
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return nil, err
	}
	return NewBlob(b), nil
}

func decodeBlobTree(r *Reader) (Cell, error) {
	count, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if count > 1<<63 {
		return nil, ErrLimit("blob length exceeds 63 bits")
	}
	nChildren, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	children := make([]Ref, 0, nChildren)
	for i := uint64(0); i < nChildren; i++ {
		ref, err := r.Ref()
		if err != nil {
			return nil, err
		}
		children = append(children, ref)
	}
	return BlobCell{children: children, count: count}, nil
}

// ---- String ----

// StringCell is a UTF-8 string, stored the same chunked way as BlobCell.
type StringCell struct {
	blob BlobCell
}

func NewString(s string) (StringCell, error) {
	if !utf8.ValidString(s) {
		return StringCell{}, ErrInvalidData("string is not valid UTF-8")
	}
	return StringCell{blob: NewBlob([]byte(s))}, nil
}

func (s StringCell) String() string { return string(s.blob.Bytes()) }
func (s StringCell) Len() int       { return s.blob.Len() }

func (s StringCell) Tag() Tag            { return TagString }
func (s StringCell) Encode(w *Writer)    { s.blob.Encode(w) }
func (s StringCell) ChildRefs() []Ref    { return s.blob.ChildRefs() }
func (s StringCell) MemSize() uint64  { return s.blob.MemSize() }

func decodeString(r *Reader) (Cell, error) {
	// String reuses the Blob payload layout but is framed under its own
	// tag, so read the same flat-vs-tree shape directly rather than
	// recursing through decodeTagged (which would expect a leading tag
	// byte we've already consumed).
	save := r.pos
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n <= ChunkSize {
		b, err := r.Bytes(int(n))
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, ErrInvalidData("string is not valid UTF-8")
		}
		return StringCell{blob: NewBlob(b)}, nil
	}
	r.pos = save
	bc, err := decodeBlobTreeBody(r)
	if err != nil {
		return nil, err
	}
	return StringCell{blob: bc}, nil
}

func decodeBlobTreeBody(r *Reader) (BlobCell, error) {
	c, err := decodeBlobTree(r)
	if err != nil {
		return BlobCell{}, err
	}
	return c.(BlobCell), nil
}
