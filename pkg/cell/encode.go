package cell

// Writer accumulates a cell's canonical encoding: a tag byte followed by
// type-specific raw bytes, with each child ref contributing either its full
// encoding (embedded) or a 1-byte ref tag plus 32-byte hash (non-embedded).
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Byte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) Bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) Uvarint(x uint64) { w.buf = putUvarint(w.buf, x) }

func (w *Writer) Varint(x int64) { w.buf = putVarint(w.buf, x) }

// Ref appends r's contribution to the enclosing cell's encoding: the full
// child encoding if embedded, otherwise a ref marker plus hash.
func (w *Writer) Ref(r Ref) {
	if v, ok := r.Value(); ok {
		w.Byte(byte(v.Tag()))
		v.Encode(w)
		return
	}
	w.Byte(byte(TagRef))
	h := r.Hash()
	w.Bytes(h[:])
}

func (w *Writer) Bytes_() []byte { return w.buf }

// Encode returns c's canonical byte encoding: tag byte followed by raw
// payload.
func Encode(c Cell) []byte {
	w := NewWriter()
	w.Byte(byte(c.Tag()))
	c.Encode(w)
	return w.buf
}

// Reader consumes a canonical encoding produced by Encode.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) Byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrBadFormat("truncated: expected a byte")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) Bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, ErrBadFormat("truncated: expected %d bytes", n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) Uvarint() (uint64, error) {
	x, n, ok := getUvarint(r.buf[r.pos:])
	if !ok {
		return 0, ErrBadFormat("truncated or invalid varint")
	}
	r.pos += n
	return x, nil
}

func (r *Reader) Varint() (int64, error) {
	x, n, ok := getVarint(r.buf[r.pos:])
	if !ok {
		return 0, ErrBadFormat("truncated or invalid varint")
	}
	r.pos += n
	return x, nil
}

// Ref reads a single child ref: either a full embedded cell encoding or a
// ref marker plus 32-byte hash.
func (r *Reader) Ref() (Ref, error) {
	if r.Remaining() == 0 {
		return Ref{}, ErrBadFormat("truncated: expected a ref")
	}
	tag := Tag(r.buf[r.pos])
	if tag == TagRef {
		r.pos++
		hb, err := r.Bytes(32)
		if err != nil {
			return Ref{}, err
		}
		var h Hash
		copy(h[:], hb)
		return RefToHash(h, StatusUnknown), nil
	}
	c, err := decodeTagged(r)
	if err != nil {
		return Ref{}, err
	}
	return NewRef(c), nil
}

// Decode parses a single cell (tag byte + payload) from b and verifies the
// whole input was consumed, enforcing the round-trip contract
// decode(encode(x)) = x / encode(decode(b)) = b.
func Decode(b []byte) (Cell, error) {
	r := NewReader(b)
	c, err := decodeTagged(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, ErrBadFormat("trailing bytes after cell")
	}
	return c, nil
}

func decodeTagged(r *Reader) (Cell, error) {
	tb, err := r.Byte()
	if err != nil {
		return nil, err
	}
	tag := Tag(tb)
	dec, ok := decoders[tag]
	if !ok {
		return nil, ErrBadFormat("unknown tag %d", tb)
	}
	return dec(r)
}

// decoders is populated by each primitive/collection file's init(), keyed
// by tag, so Decode can dispatch without a giant switch spanning packages.
var decoders = map[Tag]func(*Reader) (Cell, error){}

func registerDecoder(t Tag, fn func(*Reader) (Cell, error)) {
	decoders[t] = fn
}

// RegisterDecoder lets a cell type defined outside this package (e.g. the
// persistent collections in pkg/cell/coll) participate in Decode's tag
// dispatch.
func RegisterDecoder(t Tag, fn func(*Reader) (Cell, error)) {
	registerDecoder(t, fn)
}
