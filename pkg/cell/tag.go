// Package cell implements Convex's content-addressed value model: immutable
// cells with a canonical binary encoding and a SHA3-256 hash, the substrate
// every larger structure (collections, account records, VM ops, state) is
// built from.
package cell

// Tag identifies a cell's type in its canonical encoding. The tag space is
// a stable wire constant: once assigned, a tag is never reused for another
// shape.
type Tag byte

const (
	TagNull Tag = iota
	TagBoolFalse
	TagBoolTrue
	TagByte
	TagChar
	TagLong
	TagBigInt
	TagDouble
	TagString
	TagBlob
	TagBlobTree
	TagAddress
	TagAccountKey
	TagHash
	TagKeyword
	TagSymbol
	TagVectorFlat
	TagVectorTree
	TagList
	TagHashMap
	TagHashSet
	TagBlobMap
	TagMapEntry
	TagSyntax
	TagRecord
	TagRef // non-embedded child: tag byte followed by 32-byte hash

	// Op tags (component F): compiled program nodes. These cells are never
	// stored independently of their enclosing op tree but share the same
	// encode/hash/embed machinery as data cells.
	TagOpConstant
	TagOpLookup
	TagOpDo
	TagOpCond
	TagOpLet
	TagOpLambda
	TagOpInvoke
	TagOpLocal
	TagOpSet
	TagOpDef
	TagOpSpecial
	TagOpSchedule
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "Null"
	case TagBoolFalse, TagBoolTrue:
		return "Bool"
	case TagByte:
		return "Byte"
	case TagChar:
		return "Char"
	case TagLong:
		return "Long"
	case TagBigInt:
		return "BigInt"
	case TagDouble:
		return "Double"
	case TagString:
		return "String"
	case TagBlob, TagBlobTree:
		return "Blob"
	case TagAddress:
		return "Address"
	case TagAccountKey:
		return "AccountKey"
	case TagHash:
		return "Hash"
	case TagKeyword:
		return "Keyword"
	case TagSymbol:
		return "Symbol"
	case TagVectorFlat, TagVectorTree:
		return "Vector"
	case TagList:
		return "List"
	case TagHashMap:
		return "HashMap"
	case TagHashSet:
		return "HashSet"
	case TagBlobMap:
		return "BlobMap"
	case TagMapEntry:
		return "MapEntry"
	case TagSyntax:
		return "Syntax"
	case TagRecord:
		return "Record"
	default:
		return "Unknown"
	}
}

// EmbedLimit is the maximum encoding length, in bytes, a cell may have and
// still be embedded (inlined) wherever it appears as a child ref.
const EmbedLimit = 140

// Cell is the closed tagged union every Convex value belongs to. Dispatch on
// Tag is sufficient; there is no open class hierarchy. Behavior that is
// per-variant (encode, child refs, validation) is factored through this
// small capability interface rather than a shared base type.
type Cell interface {
	Tag() Tag

	// Encode appends this cell's payload (the canonical encoding after the
	// tag byte, each child written through Writer.Ref) to w; cell.Encode
	// writes the tag byte first.
	Encode(w *Writer)

	// ChildRefs returns the Refs this cell directly contains, in encoding
	// order. Leaves return nil.
	ChildRefs() []Ref

	// MemSize is the accounting size used by the memory metering:
	// the cell's own encoded size plus the memory size of every
	// non-embedded child (embedded children cost nothing extra, their
	// bytes are already counted in the parent's own encoding).
	MemSize() uint64
}

// Embedded reports whether c's full encoding is short enough, and free of
// non-embedded children, to be inlined in a parent's encoding rather than
// stored by hash.
func Embedded(c Cell) bool {
	for _, r := range c.ChildRefs() {
		if !r.IsEmbedded() {
			return false
		}
	}
	return len(Encode(c)) <= EmbedLimit
}

// RefCount is the number of non-embedded child references in c's encoding.
func RefCount(c Cell) int {
	n := 0
	for _, r := range c.ChildRefs() {
		if !r.IsEmbedded() {
			n++
		}
	}
	return n
}

// MemorySize returns the cell's billable memory-accounting size.
func MemorySize(c Cell) uint64 {
	return c.MemSize()
}
