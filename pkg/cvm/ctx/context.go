package ctx

import (
	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/state"
)

// LogEntry is one append-only context.log record: the address that
// logged and the values it logged.
type LogEntry struct {
	Address state.Address
	Values  []cell.Ref
}

// Context is the mutable view of one in-progress transaction.
// Forking (Fork) is an O(1) shallow copy — the only heap growth is the
// new slice headers, passing small structs by value rather than behind
// a pointer receiver for the per-transaction (single-threaded) half of
// the engine.
type Context struct {
	State state.State

	Origin  state.Address
	Caller  *state.Address
	Address state.Address
	Offer   uint64
	Scope   cell.Ref

	JuiceUsed  uint64
	JuiceLimit uint64
	Depth      int
	MaxDepth   int

	// Accepted is how much of Offer this context's code has pulled into
	// its own balance via accept; the offer refund on a normal actor_call
	// return is Offer minus Accepted, not the whole Offer.
	Accepted uint64

	Locals        []cell.Ref
	CompilerState map[cell.SymbolCell]int

	Result    cell.Ref
	Exception *Exception

	Log []LogEntry
}

// New builds the top-level context for a transaction: caller is nil,
// address equals origin, depth is zero.
func New(s state.State, origin state.Address, juiceLimit uint64, maxDepth int) *Context {
	return &Context{
		State:      s,
		Origin:     origin,
		Address:    origin,
		JuiceLimit: juiceLimit,
		MaxDepth:   maxDepth,
	}
}

// Charge debits cost juice, clamping juice_used at juice_limit and
// setting an uncatchable :JUICE exception on overrun. It returns
// false if the context is now exhausted, so callers can stop evaluating.
func (c *Context) Charge(cost uint64) bool {
	if c.Exception != nil {
		return false
	}
	c.JuiceUsed += cost
	if c.JuiceUsed > c.JuiceLimit {
		c.JuiceUsed = c.JuiceLimit
		c.Exception = &Exception{Kind: ErrJuice, Message: "juice limit exceeded"}
		return false
	}
	return true
}

// PushLocal appends v to the local-binding stack and returns its index,
// the slot a subsequent Local(i) op reads from.
func (c *Context) PushLocal(v cell.Ref) int {
	c.Locals = append(c.Locals, v)
	return len(c.Locals) - 1
}

func (c *Context) Local(i int) (cell.Ref, bool) {
	if i < 0 || i >= len(c.Locals) {
		return cell.Ref{}, false
	}
	return c.Locals[i], true
}

func (c *Context) SetLocal(i int, v cell.Ref) bool {
	if i < 0 || i >= len(c.Locals) {
		return false
	}
	c.Locals[i] = v
	return true
}

func (c *Context) AppendLog(addr state.Address, values []cell.Ref) {
	c.Log = append(c.Log, LogEntry{Address: addr, Values: values})
}

// SetResult records a normal (non-exceptional) op result, clearing any
// prior exception — result and exception are mutually exclusive.
func (c *Context) SetResult(v cell.Ref) {
	c.Result = v
	c.Exception = nil
}

func (c *Context) SetException(e *Exception) {
	c.Exception = e
	c.Result = cell.Ref{}
}

func (c *Context) HasException() bool { return c.Exception != nil }

// Fork produces the child context for an actor_call target:
// a new address/caller/offer/scope, depth incremented, locals cleared.
// The fork is a plain value copy — rollback on error is simply discarding
// the forked Context and keeping the parent's.
func (c *Context) Fork(target state.Address, offer uint64, scope cell.Ref) *Context {
	caller := c.Address
	return &Context{
		State:         c.State,
		Origin:        c.Origin,
		Caller:        &caller,
		Address:       target,
		Offer:         offer,
		Scope:         scope,
		JuiceUsed:     c.JuiceUsed,
		JuiceLimit:    c.JuiceLimit,
		Depth:         c.Depth + 1,
		MaxDepth:      c.MaxDepth,
		CompilerState: c.CompilerState,
	}
}

// Merge folds a completed (non-erroring) fork's state and juice usage
// back into the parent context, the "on normal return" path. The
// parent's locals and depth are untouched — only the effects that
// survive a call boundary propagate.
func (c *Context) Merge(child *Context) {
	c.State = child.State
	c.JuiceUsed = child.JuiceUsed
}

// DepthExceeded reports whether one more call-depth increment would
// violate MaxDepth.
func (c *Context) DepthExceeded() bool {
	return c.Depth >= c.MaxDepth
}
