// Package fn implements Convex's built-in core function library: the native
// functions every genesis environment is seeded with, wrapped as
// ops.NativeFn so Invoke dispatches to them exactly like a user closure.
package fn

import (
	"bytes"
	"math"
	"math/big"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cell/coll"
	"convex.dev/node/pkg/cvm/ctx"
	"convex.dev/node/pkg/cvm/ops"
	"convex.dev/node/pkg/cvm/state"
)

var twoPow64 = new(big.Int).Lsh(big.NewInt(1), 64)

// asAddress resolves r as an account address: an AddressCell directly, or
// a non-negative Long cast to one.
func asAddress(r cell.Ref) (state.Address, bool) {
	v, ok := r.Value()
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case cell.AddressCell:
		return state.Address(n), true
	case cell.LongCell:
		if n < 0 {
			return 0, false
		}
		return state.Address(n), true
	default:
		return 0, false
	}
}

// asFloat widens any numeric cell to a float64 for magnitude comparison.
// Long and BigInt values outside float64's exact range lose precision,
// the same tradeoff == and min accept for cross-type comparison.
func asFloat(r cell.Ref) (float64, bool) {
	v, ok := r.Value()
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case cell.LongCell:
		return float64(n), true
	case cell.BigIntCell:
		f, _ := new(big.Float).SetInt(n.Value()).Float64()
		return f, true
	case cell.DoubleCell:
		return float64(n), true
	default:
		return 0, false
	}
}

// cellEqual is value (structural) equality: two resolved cells are equal
// iff they encode identically, so (= 0.0 -0.0) is false even though
// they compare == as numbers.
func cellEqual(a, b cell.Ref) bool {
	av, aok := a.Value()
	bv, bok := b.Value()
	if !aok || !bok {
		return false
	}
	return bytes.Equal(cell.Encode(av), cell.Encode(bv))
}

func asNumber(r cell.Ref) (*big.Int, bool) {
	v, ok := r.Value()
	if !ok {
		return nil, false
	}
	switch n := v.(type) {
	case cell.LongCell:
		return big.NewInt(int64(n)), true
	case cell.BigIntCell:
		return n.Value(), true
	default:
		return nil, false
	}
}

func numericFold(name string, init int64, op func(a, b *big.Int) *big.Int) ops.NativeFn {
	return ops.NativeFn{Name: name, Fn: func(c *ctx.Context, args []cell.Ref) {
		acc := big.NewInt(init)
		for _, a := range args {
			n, ok := asNumber(a)
			if !ok {
				c.SetException(ctx.NewException(ctx.ErrCast, "%s: argument is not a number", name))
				return
			}
			acc = op(acc, n)
		}
		c.SetResult(cell.NewRef(cell.NewNumber(acc)))
	}}
}

// Plus, Minus, Times are the `+`, `-`, `*` core functions.
var Plus = numericFold("+", 0, func(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) })
var Times = numericFold("*", 1, func(a, b *big.Int) *big.Int { return new(big.Int).Mul(a, b) })

var Minus = ops.NativeFn{Name: "-", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) == 0 {
		c.SetException(ctx.NewException(ctx.ErrArity, "-: requires at least one argument"))
		return
	}
	first, ok := asNumber(args[0])
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "-: argument is not a number"))
		return
	}
	if len(args) == 1 {
		c.SetResult(cell.NewRef(cell.NewNumber(new(big.Int).Neg(first))))
		return
	}
	acc := new(big.Int).Set(first)
	for _, a := range args[1:] {
		n, ok := asNumber(a)
		if !ok {
			c.SetException(ctx.NewException(ctx.ErrCast, "-: argument is not a number"))
			return
		}
		acc.Sub(acc, n)
	}
	c.SetResult(cell.NewRef(cell.NewNumber(acc)))
}}

// Count returns the element count of a Vector, HashMap, HashSet, or
// BlobMap argument).
var Count = ops.NativeFn{Name: "count", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) != 1 {
		c.SetException(ctx.NewException(ctx.ErrArity, "count: expects exactly one argument"))
		return
	}
	v, ok := args[0].Value()
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "count: unresolved reference"))
		return
	}
	var n uint64
	switch coll := v.(type) {
	case cell.BlobCell:
		n = uint64(coll.Len())
	case cell.StringCell:
		n = uint64(coll.Len())
	case interface{ Count() uint64 }:
		n = coll.Count()
	default:
		c.SetException(ctx.NewException(ctx.ErrCast, "count: argument is not a countable collection"))
		return
	}
	c.SetResult(cell.NewRef(cell.LongCell(n)))
}}

// Get looks up a key in a map-like collection, returning Null if absent
// (or the supplied default, a 3rd argument).
var Get = ops.NativeFn{Name: "get", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) < 2 || len(args) > 3 {
		c.SetException(ctx.NewException(ctx.ErrArity, "get: expects 2 or 3 arguments"))
		return
	}
	v, ok := args[0].Value()
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "get: unresolved reference"))
		return
	}
	getter, ok := v.(interface {
		Get(cell.Ref) (cell.Ref, bool)
	})
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "get: argument is not a map"))
		return
	}
	val, found := getter.Get(args[1])
	if !found {
		if len(args) == 3 {
			c.SetResult(args[2])
			return
		}
		c.SetResult(cell.NewRef(cell.Null))
		return
	}
	c.SetResult(val)
}}

// Assoc returns a new map/vector with key bound to val.
var Assoc = ops.NativeFn{Name: "assoc", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) != 3 {
		c.SetException(ctx.NewException(ctx.ErrArity, "assoc: expects exactly 3 arguments"))
		return
	}
	v, ok := args[0].Value()
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "assoc: unresolved reference"))
		return
	}
	switch m := v.(type) {
	case coll.HashMap:
		c.SetResult(cell.NewRef(m.Assoc(args[1], args[2])))
	case coll.BlobMap:
		c.SetResult(cell.NewRef(m.Assoc(args[1], args[2])))
	case coll.Vector:
		idx, ok := asNumber(args[1])
		if !ok {
			c.SetException(ctx.NewException(ctx.ErrCast, "assoc: vector index is not a number"))
			return
		}
		nv, err := m.Assoc(idx.Uint64(), args[2])
		if err != nil {
			c.SetException(ctx.NewException(ctx.ErrArgument, "%s", err))
			return
		}
		c.SetResult(cell.NewRef(nv))
	default:
		c.SetException(ctx.NewException(ctx.ErrCast, "assoc: argument does not support assoc"))
	}
}}

// Cons prepends val to a vector-like sequence, returning a new Vector
// built by rebuilding with val at the front.
var Cons = ops.NativeFn{Name: "cons", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) != 2 {
		c.SetException(ctx.NewException(ctx.ErrArity, "cons: expects exactly 2 arguments"))
		return
	}
	v, ok := args[1].Value()
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "cons: unresolved reference"))
		return
	}
	vec, ok := v.(coll.Vector)
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "cons: second argument is not a sequence"))
		return
	}
	out := coll.NewVector(args[0])
	for i := uint64(0); i < vec.Count(); i++ {
		r, _ := vec.Get(i)
		out = out.Conj(r)
	}
	c.SetResult(cell.NewRef(out))
}}

// Min returns the smallest of its arguments by numeric magnitude. Any
// NaN argument poisons the result to NaN, matching IEEE 754 rather than
// Go's own math.Min two-argument behavior.
var Min = ops.NativeFn{Name: "min", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) == 0 {
		c.SetException(ctx.NewException(ctx.ErrArity, "min: requires at least one argument"))
		return
	}
	best := args[0]
	bestF, ok := asFloat(args[0])
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "min: argument is not a number"))
		return
	}
	nan := math.IsNaN(bestF)
	for _, a := range args[1:] {
		f, ok := asFloat(a)
		if !ok {
			c.SetException(ctx.NewException(ctx.ErrCast, "min: argument is not a number"))
			return
		}
		if math.IsNaN(f) {
			nan = true
		}
		if f < bestF {
			bestF = f
			best = a
		}
	}
	if nan {
		c.SetResult(cell.NewRef(cell.NewDouble(math.NaN())))
		return
	}
	c.SetResult(best)
}}

// Long casts its argument to a signed 64-bit integer, truncating via
// two's-complement wraparound for values outside the Long range (so
// (long 0xffffffffffffffff) yields -1) rather than erroring.
var Long = ops.NativeFn{Name: "long", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) != 1 {
		c.SetException(ctx.NewException(ctx.ErrArity, "long: expects exactly one argument"))
		return
	}
	v, ok := args[0].Value()
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "long: unresolved reference"))
		return
	}
	switch n := v.(type) {
	case cell.LongCell:
		c.SetResult(cell.NewRef(n))
	case cell.BigIntCell:
		mod := new(big.Int).Mod(n.Value(), twoPow64)
		c.SetResult(cell.NewRef(cell.LongCell(int64(mod.Uint64()))))
	case cell.DoubleCell:
		c.SetResult(cell.NewRef(cell.LongCell(int64(n))))
	case cell.ByteCell:
		c.SetResult(cell.NewRef(cell.LongCell(int64(n))))
	case cell.CharCell:
		c.SetResult(cell.NewRef(cell.LongCell(int64(n))))
	default:
		c.SetException(ctx.NewException(ctx.ErrCast, "long: argument cannot be cast to long"))
	}
}}

// NumEq is `==`, numeric equality by magnitude: values of different
// numeric types compare equal if they denote the same number, and NaN
// is equal to nothing including itself.
var NumEq = ops.NativeFn{Name: "==", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) == 0 {
		c.SetException(ctx.NewException(ctx.ErrArity, "==: requires at least one argument"))
		return
	}
	first, ok := asFloat(args[0])
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "==: argument is not a number"))
		return
	}
	eq := true
	for _, a := range args[1:] {
		f, ok := asFloat(a)
		if !ok {
			c.SetException(ctx.NewException(ctx.ErrCast, "==: argument is not a number"))
			return
		}
		if f != first {
			eq = false
		}
	}
	c.SetResult(cell.NewRef(cell.NewBool(eq)))
}}

// ValEq is `=`, structural value equality: arguments are equal only if
// they encode identically, so distinct representations of the same
// number (0.0 and -0.0, or a Long and an equal-valued Double) are not =.
var ValEq = ops.NativeFn{Name: "=", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) == 0 {
		c.SetException(ctx.NewException(ctx.ErrArity, "=: requires at least one argument"))
		return
	}
	eq := true
	for _, a := range args[1:] {
		if !cellEqual(args[0], a) {
			eq = false
			break
		}
	}
	c.SetResult(cell.NewRef(cell.NewBool(eq)))
}}

// Transfer moves amount from the executing account's balance to
// target's, returning the amount transferred.
var Transfer = ops.NativeFn{Name: "transfer", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) != 2 {
		c.SetException(ctx.NewException(ctx.ErrArity, "transfer: expects exactly 2 arguments"))
		return
	}
	target, ok := asAddress(args[0])
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "transfer: first argument is not an address"))
		return
	}
	amt, ok := asNumber(args[1])
	if !ok || amt.Sign() < 0 || !amt.IsInt64() {
		c.SetException(ctx.NewException(ctx.ErrCast, "transfer: amount is not a non-negative integer"))
		return
	}
	amount := uint64(amt.Int64())
	if _, ok := c.State.Account(target); !ok {
		c.SetException(ctx.NewException(ctx.ErrNobody, "transfer: no such account: %d", target))
		return
	}
	sender, _ := c.State.Account(c.Address)
	if sender.Balance() < amount {
		c.SetException(ctx.NewException(ctx.ErrFunds, "transfer: insufficient balance"))
		return
	}
	c.State = c.State.WithAccount(c.Address, sender.WithBalance(sender.Balance()-amount))
	receiver, _ := c.State.Account(target)
	c.State = c.State.WithAccount(target, receiver.WithBalance(receiver.Balance()+amount))
	c.SetResult(cell.NewRef(cell.LongCell(int64(amount))))
}}

// Accept pulls amount out of the current call's unspent *offer* into the
// executing account's own balance, returning the amount accepted.
var Accept = ops.NativeFn{Name: "accept", Fn: func(c *ctx.Context, args []cell.Ref) {
	if len(args) != 1 {
		c.SetException(ctx.NewException(ctx.ErrArity, "accept: expects exactly one argument"))
		return
	}
	amt, ok := asNumber(args[0])
	if !ok || amt.Sign() < 0 || !amt.IsInt64() {
		c.SetException(ctx.NewException(ctx.ErrCast, "accept: amount is not a non-negative integer"))
		return
	}
	amount := uint64(amt.Int64())
	available := c.Offer - c.Accepted
	if amount > available {
		c.SetException(ctx.NewException(ctx.ErrFunds, "accept: amount exceeds unaccepted offer"))
		return
	}
	acct, _ := c.State.Account(c.Address)
	c.State = c.State.WithAccount(c.Address, acct.WithBalance(acct.Balance()+amount))
	c.Accepted += amount
	c.SetResult(cell.NewRef(cell.LongCell(int64(amount))))
}}

// Fail raises an :ASSERT exception by default, or the kind named by a
// leading keyword argument, with an optional message.
var Fail = ops.NativeFn{Name: "fail", Fn: func(c *ctx.Context, args []cell.Ref) {
	kind := ctx.ErrAssert
	message := "assertion failed"
	switch len(args) {
	case 0:
	case 1:
		if v, ok := args[0].Value(); ok {
			switch tv := v.(type) {
			case cell.KeywordCell:
				kind = ctx.ErrorKind(tv)
			case cell.StringCell:
				message = tv.String()
			}
		}
	case 2:
		if v, ok := args[0].Value(); ok {
			if kw, ok := v.(cell.KeywordCell); ok {
				kind = ctx.ErrorKind(kw)
			}
		}
		if v, ok := args[1].Value(); ok {
			if s, ok := v.(cell.StringCell); ok {
				message = s.String()
			}
		}
	default:
		c.SetException(ctx.NewException(ctx.ErrArity, "fail: expects 0, 1, or 2 arguments"))
		return
	}
	c.SetException(ctx.NewException(kind, "%s", message))
}}
