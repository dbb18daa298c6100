package cell

// RefStatus tracks how far a Ref's novelty has propagated. Statuses form a
// monotonic lattice: Upgrade never moves a ref backwards.
type RefStatus int8

const (
	StatusUnknown RefStatus = iota
	StatusStored
	StatusPersisted
	StatusAnnounced
	StatusInternal
)

func (s RefStatus) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusStored:
		return "STORED"
	case StatusPersisted:
		return "PERSISTED"
	case StatusAnnounced:
		return "ANNOUNCED"
	case StatusInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Upgrade returns the stronger of s and other.
func (s RefStatus) Upgrade(other RefStatus) RefStatus {
	if other > s {
		return other
	}
	return s
}

// Ref is either an embedded cell value or a hash pointer with a lifecycle
// status. Embedded refs carry their cell directly; non-embedded refs carry
// only a Hash until resolved through a Store.
type Ref struct {
	value  Cell
	hash   Hash
	status RefStatus
}

// NewRef builds a Ref for c, embedding it inline when Embedded(c) holds and
// otherwise keeping only its hash.
func NewRef(c Cell) Ref {
	if Embedded(c) {
		return Ref{value: c, status: StatusInternal}
	}
	return Ref{hash: HashOf(c), status: StatusUnknown}
}

// RefToHash builds a non-embedded Ref that only carries a hash pointer,
// e.g. while decoding before the referenced cell has been fetched.
func RefToHash(h Hash, status RefStatus) Ref {
	return Ref{hash: h, status: status}
}

func (r Ref) IsEmbedded() bool { return r.value != nil }

// Hash returns the ref's cell hash, computing it from the embedded value if
// necessary.
func (r Ref) Hash() Hash {
	if r.IsEmbedded() {
		return HashOf(r.value)
	}
	return r.hash
}

func (r Ref) Status() RefStatus { return r.status }

func (r Ref) WithStatus(s RefStatus) Ref {
	r.status = r.status.Upgrade(s)
	return r
}

// Value returns the embedded cell and true, or (nil, false) if this ref is
// a bare hash pointer that must be resolved through a Store.
func (r Ref) Value() (Cell, bool) {
	return r.value, r.value != nil
}
