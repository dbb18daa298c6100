package state

import (
	"encoding/binary"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cell/coll"
)

// Globals is the fixed 6-element record backing state.globals.
type Globals struct {
	Timestamp      uint64
	Fees           uint64
	JuicePrice     uint64
	MemoryPoolMem  uint64
	MemoryPoolCVX  uint64
	Protocol       uint64
}

// ScheduledOp pairs the address a scheduled operation runs as with the
// compiled op itself. Op is an
// opaque compiled op tree (ops.Op in the cvm/ops package); it is held as
// any here rather than a concrete type to keep state free of a dependency
// on the op evaluator, which itself depends on state.
type ScheduledOp struct {
	Address Address
	Op      any
}

// OpEncoder turns a ScheduledOp.Op payload into its canonical bytes, for
// the schedule table's own cell encoding. state cannot import the op
// evaluator package directly (op.go imports state, so the reverse would
// cycle), so the op package installs this hook in an init() instead —
// the same "opaque payload, wired from outside" shape ScheduledOp itself
// already documents.
var OpEncoder func(op any) ([]byte, error)

func encodeScheduledOp(op any) []byte {
	if OpEncoder == nil {
		return nil
	}
	b, err := OpEncoder(op)
	if err != nil {
		return nil
	}
	return b
}

// State is Convex's world state: accounts, peers, globals, and the
// scheduled-op table. States are produced only by NewGenesis or a
// state-transition step, never mutated in place.
type State struct {
	accounts []AccountStatus // vector of AccountStatus, indexed by Address
	// peerMap backs the peer table, logically a BlobMap keyed by
	// AccountKey; Peer/WithPeer use this Go map keyed by the key's hash,
	// and record() builds the BlobMap from it whenever the state is
	// encoded or hashed — see DESIGN.md.
	peerMap  map[cell.Hash]PeerStatus
	globals  Globals
	schedule map[uint64][]ScheduledOp // keyed by timestamp, BlobMap semantics simulated with an ordered map
}

// NewGenesis builds the initial state: an empty accounts vector, no
// peers, zeroed globals except juice_price, and an empty schedule.
func NewGenesis(juicePrice uint64) State {
	return State{
		peerMap:  make(map[cell.Hash]PeerStatus),
		globals:  Globals{JuicePrice: juicePrice},
		schedule: make(map[uint64][]ScheduledOp),
	}
}

// State is modeled as a cell.RecordCell under RecordState: the accounts
// vector, peer table and schedule each become the matching cell
// collection (coll.Vector / coll.BlobMap), letting the whole world state
// hash and persist through pkg/store.Store exactly like any other cell.
// The Go-side accessors above are untouched — record/Encode/ChildRefs
// derive the wire shape from them on demand rather than state carrying
// two parallel representations.
func (s State) record() cell.RecordCell {
	accounts := coll.Empty
	for _, a := range s.accounts {
		accounts = accounts.Conj(cell.NewRef(a))
	}

	peers := coll.EmptyBlobMap
	for h, p := range s.peerMap {
		peers = peers.Assoc(cell.NewRef(cell.NewBlob(h[:])), cell.NewRef(p))
	}

	schedule := coll.EmptyBlobMap
	for t, ops := range s.schedule {
		entries := coll.Empty
		for _, op := range ops {
			tuple := coll.NewVector(cell.NewRef(op.Address.Cell()), cell.NewRef(cell.NewBlob(encodeScheduledOp(op.Op))))
			entries = entries.Conj(cell.NewRef(tuple))
		}
		schedule = schedule.Assoc(cell.NewRef(cell.LongCell(int64(t))), cell.NewRef(entries))
	}

	g := s.globals
	return cell.NewRecord(cell.RecordState, []cell.Ref{
		cell.NewRef(accounts),
		cell.NewRef(peers),
		cell.NewRef(schedule),
		cell.NewRef(cell.LongCell(int64(g.Timestamp))),
		cell.NewRef(cell.LongCell(int64(g.Fees))),
		cell.NewRef(cell.LongCell(int64(g.JuicePrice))),
		cell.NewRef(cell.LongCell(int64(g.MemoryPoolMem))),
		cell.NewRef(cell.LongCell(int64(g.MemoryPoolCVX))),
		cell.NewRef(cell.LongCell(int64(g.Protocol))),
	})
}

func (s State) Tag() cell.Tag         { return cell.TagRecord }
func (s State) Encode(w *cell.Writer) { s.record().Encode(w) }
func (s State) ChildRefs() []cell.Ref { return s.record().ChildRefs() }

// MemSize is the world state's total billable memory-accounting size:
// the sum of every account's own MemSize. Peers and the schedule carry
// no per-account memory allowance and are not billable.
func (s State) MemSize() uint64 {
	var total uint64
	for _, a := range s.accounts {
		total += a.MemSize()
	}
	return total
}

// Hash is the state's content hash, the state_hash a STATUS reply and
// consensus convergence checks compare peers by.
func (s State) Hash() cell.Hash { return cell.HashOf(s) }

func (s State) Accounts() []AccountStatus { return append([]AccountStatus(nil), s.accounts...) }

func (s State) Account(addr Address) (AccountStatus, bool) {
	if int(addr) >= len(s.accounts) {
		return AccountStatus{}, false
	}
	return s.accounts[addr], true
}

// NextAddress is always the current accounts count.
func (s State) NextAddress() Address { return Address(len(s.accounts)) }

// CreateAccount appends a new AccountStatus and returns the updated state
// plus its freshly assigned address.
func (s State) CreateAccount(a AccountStatus) (State, Address) {
	addr := s.NextAddress()
	ns := s
	ns.accounts = append(append([]AccountStatus(nil), s.accounts...), a)
	return ns, addr
}

// WithAccount returns a new state with addr's account replaced by a.
// addr must already exist; use CreateAccount to grow the vector.
func (s State) WithAccount(addr Address, a AccountStatus) State {
	ns := s
	ns.accounts = append([]AccountStatus(nil), s.accounts...)
	ns.accounts[addr] = a
	return ns
}

func (s State) Peer(key cell.AccountKeyCell) (PeerStatus, bool) {
	p, ok := s.peerMap[cell.HashOf(key)]
	return p, ok
}

func (s State) WithPeer(key cell.AccountKeyCell, p PeerStatus) State {
	ns := s
	ns.peerMap = make(map[cell.Hash]PeerStatus, len(s.peerMap)+1)
	for k, v := range s.peerMap {
		ns.peerMap[k] = v
	}
	ns.peerMap[cell.HashOf(key)] = p
	return ns
}

func (s State) Globals() Globals { return s.globals }

func (s State) WithGlobals(g Globals) State {
	ns := s
	ns.globals = g
	return ns
}

// ScheduleOp inserts op to run as addr at time, keyed the way an
// 8-byte big-endian timestamp would key a BlobMap.
func (s State) ScheduleOp(time uint64, addr Address, op any) State {
	ns := s
	ns.schedule = make(map[uint64][]ScheduledOp, len(s.schedule)+1)
	for k, v := range s.schedule {
		ns.schedule[k] = v
	}
	ns.schedule[time] = append(append([]ScheduledOp(nil), s.schedule[time]...), ScheduledOp{Address: addr, Op: op})
	return ns
}

// DrainSchedule removes and returns, in ascending-timestamp then
// insertion order, up to maxCount scheduled ops at or before cutoff —
// the BlobMap lexicographic-order guarantee applied to the schedule's
// big-endian timestamp keys.
func (s State) DrainSchedule(cutoff uint64, maxCount int) (State, []ScheduledOp) {
	var due []uint64
	for t := range s.schedule {
		if t <= cutoff {
			due = append(due, t)
		}
	}
	sortUint64s(due)

	var drained []ScheduledOp
	ns := s
	ns.schedule = make(map[uint64][]ScheduledOp, len(s.schedule))
	for k, v := range s.schedule {
		ns.schedule[k] = v
	}
	for _, t := range due {
		for i, op := range ns.schedule[t] {
			if len(drained) >= maxCount {
				ns.schedule[t] = ns.schedule[t][i:]
				return ns, drained
			}
			drained = append(drained, op)
		}
		delete(ns.schedule, t)
	}
	return ns, drained
}

func sortUint64s(xs []uint64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// scheduleKey returns t as an 8-byte big-endian key. It has no callers:
// record() keys the schedule's BlobMap by LongCell timestamps.
func scheduleKey(t uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], t)
	return b
}
