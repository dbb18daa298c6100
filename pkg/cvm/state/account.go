// Package state implements Convex's world state: the
// accounts vector, peer table, globals and schedule, and the memory-pool
// swap-pricing function. State mutation is purely functional — every
// setter returns a new State sharing unchanged subtrees with the old one.
package state

import (
	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cell/coll"
)

// Address indexes the accounts vector. Addresses are assigned
// sequentially; the next address is always the accounts count.
type Address uint64

func (a Address) Cell() cell.AddressCell { return cell.AddressCell(a) }

// Controller is either a plain address or an address scoped by an
// arbitrary value, or absent (nil) for an uncontrolled account.
type Controller struct {
	Address Address
	Scope   cell.Ref
	Scoped  bool
}

// ref encodes ctl as the 2-element [address, scope] vector its
// AccountStatus record field holds, or a Null ref for an uncontrolled
// account.
func (ctl *Controller) ref() cell.Ref {
	if ctl == nil {
		return cell.NewRef(cell.Null)
	}
	scope := ctl.Scope
	if !ctl.Scoped {
		scope = cell.NewRef(cell.Null)
	}
	return cell.NewRef(coll.NewVector(cell.NewRef(ctl.Address.Cell()), scope))
}

func controllerFromRef(r cell.Ref) *Controller {
	v, ok := r.Value()
	if !ok {
		return nil
	}
	if _, isNull := v.(cell.NullCell); isNull {
		return nil
	}
	vec, ok := v.(coll.Vector)
	if !ok || vec.Count() != 2 {
		return nil
	}
	addrRef, _ := vec.Get(0)
	scopeRef, _ := vec.Get(1)
	addrVal, ok := addrRef.Value()
	if !ok {
		return nil
	}
	addrCell, ok := addrVal.(cell.AddressCell)
	if !ok {
		return nil
	}
	if scopeVal, ok := scopeRef.Value(); ok {
		if _, isNull := scopeVal.(cell.NullCell); isNull {
			return &Controller{Address: Address(addrCell)}
		}
	}
	return &Controller{Address: Address(addrCell), Scope: scopeRef, Scoped: true}
}

// AccountStatus is one account's record, modeled as a Go struct with
// accessor methods wrapping private fields rather than bare exported
// ones.
type AccountStatus struct {
	sequence          uint64
	balance           uint64
	memory            uint64
	accountKey        *cell.AccountKeyCell // nil for a pure actor
	controller        *Controller
	environment       coll.HashMap // symbol -> value
	metadata          coll.HashMap // symbol -> meta-map
	holdings          coll.BlobMap // observer address -> arbitrary value
	callableFunctions coll.HashSet // derived from metadata :callable? entries
}

func NewAccountStatus(key *cell.AccountKeyCell) AccountStatus {
	return AccountStatus{
		accountKey:  key,
		environment: coll.EmptyMap,
		metadata:    coll.EmptyMap,
		holdings:    coll.EmptyBlobMap,
		callableFunctions: coll.EmptySet,
	}
}

func (a AccountStatus) Sequence() uint64              { return a.sequence }
func (a AccountStatus) Balance() uint64                { return a.balance }
func (a AccountStatus) Memory() uint64                 { return a.memory }
func (a AccountStatus) AccountKey() *cell.AccountKeyCell { return a.accountKey }
func (a AccountStatus) Controller() *Controller        { return a.controller }
func (a AccountStatus) Environment() coll.HashMap      { return a.environment }
func (a AccountStatus) Metadata() coll.HashMap         { return a.metadata }
func (a AccountStatus) Holdings() coll.BlobMap         { return a.holdings }
func (a AccountStatus) IsActor() bool                  { return a.accountKey == nil }

// IsCallable reports whether sym is in this account's derived callable
// set.
func (a AccountStatus) IsCallable(sym cell.SymbolCell) bool {
	return a.callableFunctions.Contains(cell.NewRef(sym))
}

func (a AccountStatus) WithBalance(b uint64) AccountStatus {
	a.balance = b
	return a
}

func (a AccountStatus) WithMemory(m uint64) AccountStatus {
	a.memory = m
	return a
}

func (a AccountStatus) WithSequenceIncremented() AccountStatus {
	a.sequence++
	return a
}

func (a AccountStatus) WithDef(sym cell.SymbolCell, val cell.Ref, callable bool) AccountStatus {
	a.environment = a.environment.Assoc(cell.NewRef(sym), val)
	if callable {
		a.callableFunctions = a.callableFunctions.Add(cell.NewRef(sym))
	}
	return a
}

func (a AccountStatus) WithHolding(observer Address, value cell.Ref) AccountStatus {
	a.holdings = a.holdings.Assoc(cell.NewRef(observer.Cell()), value)
	return a
}

// MemSize is this account's contribution to world-state memory accounting:
// its own scalar fields plus the memory size of its non-embedded
// collections.
func (a AccountStatus) MemSize() uint64 {
	size := uint64(40)
	size += collMemSize(a.environment)
	size += collMemSize(a.metadata)
	size += collMemSize(a.holdings)
	return size
}

func collMemSize(c cell.Cell) uint64 {
	if cell.Embedded(c) {
		return uint64(len(cell.Encode(c)))
	}
	return c.MemSize()
}

// AccountStatus is modeled as a cell.RecordCell under RecordAccountStatus
// so it hashes and persists through pkg/store.Store the same way any
// other cell does — Tag/Encode/ChildRefs delegate to that record rather
// than the account reimplementing the canonical encoding itself.
func (a AccountStatus) record() cell.RecordCell {
	keyRef := cell.NewRef(cell.Null)
	if a.accountKey != nil {
		keyRef = cell.NewRef(*a.accountKey)
	}
	return cell.NewRecord(cell.RecordAccountStatus, []cell.Ref{
		cell.NewRef(cell.LongCell(int64(a.sequence))),
		cell.NewRef(cell.LongCell(int64(a.balance))),
		cell.NewRef(cell.LongCell(int64(a.memory))),
		keyRef,
		a.controller.ref(),
		cell.NewRef(a.environment),
		cell.NewRef(a.metadata),
		cell.NewRef(a.holdings),
		cell.NewRef(a.callableFunctions),
	})
}

func (a AccountStatus) Tag() cell.Tag         { return cell.TagRecord }
func (a AccountStatus) Encode(w *cell.Writer) { a.record().Encode(w) }
func (a AccountStatus) ChildRefs() []cell.Ref { return a.record().ChildRefs() }

// Hash is the account's content hash, the value its RecordAccountStatus
// ref carries inside the accounts vector of a hashed State.
func (a AccountStatus) Hash() cell.Hash { return cell.HashOf(a) }

// AccountStatusFromRecord rebuilds an AccountStatus from a
// RecordAccountStatus cell previously produced by record/Encode, the
// read side of the Store round trip.
func AccountStatusFromRecord(r cell.RecordCell) (AccountStatus, error) {
	if r.Kind() != cell.RecordAccountStatus || r.NumFields() != 9 {
		return AccountStatus{}, cell.ErrBadFormat("state: not an AccountStatus record")
	}
	seq, _ := longField(r.Field(0))
	bal, _ := longField(r.Field(1))
	mem, _ := longField(r.Field(2))

	var key *cell.AccountKeyCell
	if v, ok := r.Field(3).Value(); ok {
		if k, ok := v.(cell.AccountKeyCell); ok {
			key = &k
		}
	}

	a := AccountStatus{
		sequence:          uint64(seq),
		balance:           uint64(bal),
		memory:            uint64(mem),
		accountKey:        key,
		controller:        controllerFromRef(r.Field(4)),
		environment:       coll.EmptyMap,
		metadata:          coll.EmptyMap,
		holdings:          coll.EmptyBlobMap,
		callableFunctions: coll.EmptySet,
	}
	if v, ok := r.Field(5).Value(); ok {
		if m, ok := v.(coll.HashMap); ok {
			a.environment = m
		}
	}
	if v, ok := r.Field(6).Value(); ok {
		if m, ok := v.(coll.HashMap); ok {
			a.metadata = m
		}
	}
	if v, ok := r.Field(7).Value(); ok {
		if m, ok := v.(coll.BlobMap); ok {
			a.holdings = m
		}
	}
	if v, ok := r.Field(8).Value(); ok {
		if s, ok := v.(coll.HashSet); ok {
			a.callableFunctions = s
		}
	}
	return a, nil
}

func longField(r cell.Ref) (int64, bool) {
	v, ok := r.Value()
	if !ok {
		return 0, false
	}
	l, ok := v.(cell.LongCell)
	if !ok {
		return 0, false
	}
	return int64(l), true
}
