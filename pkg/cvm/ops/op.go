// Package ops implements Convex's compiled op tree and its tree-walking
// evaluator: Constant, Lookup, Do, Cond, Let, Lambda, Invoke,
// Local, Set, Def, Special, plus the closure/trampoline machinery that
// Invoke drives.
package ops

import (
	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/ctx"
	"convex.dev/node/pkg/cvm/state"
	"convex.dev/node/params"
)

// OpTag identifies an op node's kind, dispatched over a closed switch
// rather than an interface method table.
type OpTag byte

const (
	OpConstant OpTag = iota
	OpLookup
	OpDo
	OpCond
	OpLet
	OpLambda
	OpInvoke
	OpLocal
	OpSet
	OpDef
	OpSpecial
	OpSchedule
)

// Op is one compiled program node. Eval consumes juice from c and sets
// exactly one of c.Result / c.Exception before returning.
type Op interface {
	OpTag() OpTag
	Eval(c *ctx.Context, juice params.Juice)
}

// Run evaluates op against c, returning true if a normal result (no
// exception) was produced.
func Run(op Op, c *ctx.Context, juice params.Juice) bool {
	if c.HasException() {
		return false
	}
	op.Eval(c, juice)
	return !c.HasException()
}

// SpecialTag enumerates the context fields readable via Special.
type SpecialTag string

const (
	SpecialAddress    SpecialTag = "*address*"
	SpecialOrigin     SpecialTag = "*origin*"
	SpecialCaller     SpecialTag = "*caller*"
	SpecialJuice      SpecialTag = "*juice*"
	SpecialJuiceLimit SpecialTag = "*juice-limit*"
	SpecialJuicePrice SpecialTag = "*juice-price*"
	SpecialBalance    SpecialTag = "*balance*"
	SpecialMemory     SpecialTag = "*memory*"
	SpecialOffer      SpecialTag = "*offer*"
	SpecialScope      SpecialTag = "*scope*"
	SpecialState      SpecialTag = "*state*"
	SpecialHoldings   SpecialTag = "*holdings*"
	SpecialTimestamp  SpecialTag = "*timestamp*"
	SpecialDepth      SpecialTag = "*depth*"
	SpecialKey        SpecialTag = "*key*"
	SpecialResult     SpecialTag = "*result*"
)

// lookupEnv resolves sym in addr's environment (or c.Address's if addr is
// nil), the dynamic lookup the Lookup op performs.
func lookupEnv(c *ctx.Context, addr *state.Address, sym cell.SymbolCell) (cell.Ref, bool) {
	target := c.Address
	if addr != nil {
		target = *addr
	}
	acct, ok := c.State.Account(target)
	if !ok {
		return cell.Ref{}, false
	}
	return acct.Environment().Get(cell.NewRef(sym))
}
