package ops

import (
	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/ctx"
	"convex.dev/node/pkg/cvm/state"
	"convex.dev/node/params"
)

// ---- Constant ----

type Constant struct{ Value cell.Ref }

func (Constant) OpTag() OpTag { return OpConstant }

func (o Constant) Eval(c *ctx.Context, j params.Juice) {
	if !c.Charge(j.Constant) {
		return
	}
	c.SetResult(o.Value)
}

// ---- Lookup ----

type Lookup struct {
	Symbol  cell.SymbolCell
	Address *state.Address // nil = current c.Address
}

func (Lookup) OpTag() OpTag { return OpLookup }

func (o Lookup) Eval(c *ctx.Context, j params.Juice) {
	if !c.Charge(j.LookupDynamic) {
		return
	}
	v, ok := lookupEnv(c, o.Address, o.Symbol)
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrUndeclared, "undeclared symbol: %s", o.Symbol))
		return
	}
	c.SetResult(v)
}

// ---- Local ----

type Local struct{ Index int }

func (Local) OpTag() OpTag { return OpLocal }

func (o Local) Eval(c *ctx.Context, j params.Juice) {
	if !c.Charge(j.Lookup) {
		return
	}
	v, ok := c.Local(o.Index)
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrBounds, "local binding %d out of range", o.Index))
		return
	}
	c.SetResult(v)
}

// ---- Do ----

type Do struct{ Ops []Op }

func (Do) OpTag() OpTag { return OpDo }

func (o Do) Eval(c *ctx.Context, j params.Juice) {
	var last cell.Ref
	for _, sub := range o.Ops {
		if !Run(sub, c, j) {
			return
		}
		last = c.Result
	}
	c.SetResult(last)
}

// ---- Cond ----

// Clause is one test/then pair; a Cond with an odd trailing Op treats it
// as the else branch.
type Clause struct {
	Test Op
	Then Op
}

type Cond struct {
	Clauses []Clause
	Else    Op // nil if absent; evaluates to Null
}

func (Cond) OpTag() OpTag { return OpCond }

func (o Cond) Eval(c *ctx.Context, j params.Juice) {
	if !c.Charge(j.Cond) {
		return
	}
	for _, cl := range o.Clauses {
		if !Run(cl.Test, c, j) {
			return
		}
		if cell.Truthy(mustValue(c.Result)) {
			Run(cl.Then, c, j)
			return
		}
	}
	if o.Else != nil {
		Run(o.Else, c, j)
		return
	}
	c.SetResult(cell.NewRef(cell.Null))
}

func mustValue(r cell.Ref) cell.Cell {
	v, ok := r.Value()
	if !ok {
		return cell.Null // unresolved ref reads as Null, which is falsy; real lookup happens via Store elsewhere
	}
	return v
}

// ---- Let ----

// Let binds each Bindings op's result to a fresh local in order, then
// runs Body; Loop establishes a recur target scoped to this form.
type Let struct {
	Bindings []Op
	Body     []Op
	Loop     bool
}

func (Let) OpTag() OpTag { return OpLet }

func (o Let) Eval(c *ctx.Context, j params.Juice) {
	base := len(c.Locals)
	for _, b := range o.Bindings {
		if !Run(b, c, j) {
			return
		}
		c.PushLocal(c.Result)
	}
	var last cell.Ref
	for i := 0; i < len(o.Body); i++ {
		if !Run(o.Body[i], c, j) {
			if o.Loop && c.Exception != nil && c.Exception.Kind == ctx.CtlRecur {
				newArgs, _ := c.Exception.Payload.([]cell.Ref)
				c.Exception = nil
				for k, v := range newArgs {
					if base+k < len(c.Locals) {
						c.SetLocal(base+k, v)
					}
				}
				i = -1 // re-enter the loop body with rebound locals
				continue
			}
			return
		}
		last = c.Result
	}
	c.SetResult(last)
}

// ---- Set ----

type Set struct {
	Index int
	Value Op
}

func (Set) OpTag() OpTag { return OpSet }

func (o Set) Eval(c *ctx.Context, j params.Juice) {
	if !Run(o.Value, c, j) {
		return
	}
	if !c.SetLocal(o.Index, c.Result) {
		c.SetException(ctx.NewException(ctx.ErrBounds, "set: local %d out of range", o.Index))
		return
	}
	c.SetResult(c.Result)
}

// ---- Def ----

type Def struct {
	Symbol cell.SymbolCell
	Value  Op
}

func (Def) OpTag() OpTag { return OpDef }

func (o Def) Eval(c *ctx.Context, j params.Juice) {
	if !c.Charge(j.Def) {
		return
	}
	if !Run(o.Value, c, j) {
		return
	}
	acct, ok := c.State.Account(c.Address)
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrState, "def: executing account %d does not exist", c.Address))
		return
	}
	callable := false
	val := c.Result
	if sv, ok := mustValue(val).(cell.SyntaxCell); ok {
		meta, mok := sv.Meta().Value()
		if mok {
			if hm, ok := meta.(interface {
				Get(cell.Ref) (cell.Ref, bool)
			}); ok {
				kw, _ := cell.NewKeyword("callable?")
				if cv, found := hm.Get(cell.NewRef(kw)); found {
					callable = cell.Truthy(mustValue(cv))
				}
			}
		}
		val = sv.Value()
	}
	acct = acct.WithDef(o.Symbol, val, callable)
	c.State = c.State.WithAccount(c.Address, acct)
	c.SetResult(val)
}

// ---- Schedule ----

// Schedule evaluates Time now but leaves Body uncompiled-but-unevaluated,
// storing it in the schedule table to run as the current account at the
// resulting timestamp — the one op whose second operand must not run
// immediately, so it cannot be a plain NativeFn the way transfer/accept
// are.
type Schedule struct {
	Time Op
	Body Op
}

func (Schedule) OpTag() OpTag { return OpSchedule }

func (o Schedule) Eval(c *ctx.Context, j params.Juice) {
	if !c.Charge(j.Def) {
		return
	}
	if !Run(o.Time, c, j) {
		return
	}
	t, ok := mustValue(c.Result).(cell.LongCell)
	if !ok || t < 0 {
		c.SetException(ctx.NewException(ctx.ErrCast, "schedule: time is not a non-negative integer"))
		return
	}
	c.State = c.State.ScheduleOp(uint64(t), c.Address, o.Body)
	c.SetResult(cell.NewRef(cell.Null))
}

// ---- Special ----

type Special struct{ Tag SpecialTag }

func (Special) OpTag() OpTag { return OpSpecial }

func (o Special) Eval(c *ctx.Context, j params.Juice) {
	if !c.Charge(j.Lookup) {
		return
	}
	switch o.Tag {
	case SpecialAddress:
		c.SetResult(cell.NewRef(c.Address.Cell()))
	case SpecialOrigin:
		c.SetResult(cell.NewRef(c.Origin.Cell()))
	case SpecialCaller:
		if c.Caller == nil {
			c.SetResult(cell.NewRef(cell.Null))
		} else {
			c.SetResult(cell.NewRef(c.Caller.Cell()))
		}
	case SpecialJuice:
		c.SetResult(cell.NewRef(cell.LongCell(c.JuiceUsed)))
	case SpecialJuiceLimit:
		c.SetResult(cell.NewRef(cell.LongCell(c.JuiceLimit)))
	case SpecialJuicePrice:
		c.SetResult(cell.NewRef(cell.LongCell(c.State.Globals().JuicePrice)))
	case SpecialBalance:
		acct, _ := c.State.Account(c.Address)
		c.SetResult(cell.NewRef(cell.LongCell(acct.Balance())))
	case SpecialMemory:
		acct, _ := c.State.Account(c.Address)
		c.SetResult(cell.NewRef(cell.LongCell(acct.Memory())))
	case SpecialOffer:
		c.SetResult(cell.NewRef(cell.LongCell(c.Offer)))
	case SpecialScope:
		c.SetResult(c.Scope)
	case SpecialState:
		c.SetResult(cell.NewRef(c.State))
	case SpecialHoldings:
		acct, _ := c.State.Account(c.Address)
		c.SetResult(cell.NewRef(acct.Holdings()))
	case SpecialKey:
		acct, _ := c.State.Account(c.Address)
		if acct.AccountKey() == nil {
			c.SetResult(cell.NewRef(cell.Null))
		} else {
			c.SetResult(cell.NewRef(*acct.AccountKey()))
		}
	case SpecialTimestamp:
		c.SetResult(cell.NewRef(cell.LongCell(c.State.Globals().Timestamp)))
	case SpecialDepth:
		c.SetResult(cell.NewRef(cell.LongCell(int64(c.Depth))))
	case SpecialResult:
		c.SetResult(c.Result)
	default:
		c.SetException(ctx.NewException(ctx.ErrCompile, "unsupported special: %s", o.Tag))
	}
}
