package cell

// RecordKind distinguishes the fixed-keyword structs built on Record:
// State, AccountStatus, PeerStatus, Order, Belief, Block, Result,
// SignedData.
type RecordKind byte

const (
	RecordState RecordKind = iota
	RecordAccountStatus
	RecordPeerStatus
	RecordOrder
	RecordBelief
	RecordBlock
	RecordResult
	RecordSignedData
)

func init() {
	registerDecoder(TagRecord, decodeRecord)
}

// RecordCell is a fixed-arity tuple of named fields. The core never needs
// an open record system — the kind plus field order fully describes a
// value's shape, matching the "closed tagged union, dispatch on tag byte"
// design note extended one level down to record kinds.
type RecordCell struct {
	kind   RecordKind
	fields []Ref
}

func NewRecord(kind RecordKind, fields []Ref) RecordCell {
	return RecordCell{kind: kind, fields: fields}
}

func (r RecordCell) Kind() RecordKind { return r.kind }
func (r RecordCell) Field(i int) Ref  { return r.fields[i] }
func (r RecordCell) NumFields() int   { return len(r.fields) }

func (r RecordCell) Tag() Tag { return TagRecord }

func (r RecordCell) Encode(w *Writer) {
	w.Byte(byte(r.kind))
	w.Uvarint(uint64(len(r.fields)))
	for _, f := range r.fields {
		w.Ref(f)
	}
}

func (r RecordCell) ChildRefs() []Ref { return r.fields }

func (r RecordCell) MemSize() uint64 {
	size := uint64(2)
	for _, f := range r.fields {
		if !f.IsEmbedded() {
			if v, ok := f.Value(); ok {
				size += v.MemSize()
			}
		}
	}
	return size
}

func decodeRecord(r *Reader) (Cell, error) {
	kb, err := r.Byte()
	if err != nil {
		return nil, err
	}
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	fields := make([]Ref, 0, n)
	for i := uint64(0); i < n; i++ {
		ref, err := r.Ref()
		if err != nil {
			return nil, err
		}
		fields = append(fields, ref)
	}
	return RecordCell{kind: RecordKind(kb), fields: fields}, nil
}

// SyntaxCell pairs a value with a metadata map, used for compiler
// provenance (source position, doc strings) attached to forms.
type SyntaxCell struct {
	value Ref
	meta  Ref // a HashMap ref; Null if no metadata
}

func NewSyntax(value, meta Ref) SyntaxCell { return SyntaxCell{value: value, meta: meta} }

func (s SyntaxCell) Value() Ref { return s.value }
func (s SyntaxCell) Meta() Ref  { return s.meta }

func (s SyntaxCell) Tag() Tag { return TagSyntax }
func (s SyntaxCell) Encode(w *Writer) {
	w.Ref(s.value)
	w.Ref(s.meta)
}
func (s SyntaxCell) ChildRefs() []Ref { return []Ref{s.value, s.meta} }
func (s SyntaxCell) MemSize() uint64 {
	size := uint64(1)
	for _, f := range s.ChildRefs() {
		if !f.IsEmbedded() {
			if v, ok := f.Value(); ok {
				size += v.MemSize()
			}
		}
	}
	return size
}

func init() {
	registerDecoder(TagSyntax, decodeSyntax)
}

func decodeSyntax(r *Reader) (Cell, error) {
	v, err := r.Ref()
	if err != nil {
		return nil, err
	}
	m, err := r.Ref()
	if err != nil {
		return nil, err
	}
	return SyntaxCell{value: v, meta: m}, nil
}
