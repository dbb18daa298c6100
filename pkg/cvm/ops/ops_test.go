package ops

import (
	"testing"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/ctx"
	"convex.dev/node/pkg/cvm/state"
	"convex.dev/node/params"
)

func newCtx(t *testing.T) (*ctx.Context, state.Address) {
	t.Helper()
	s := state.NewGenesis(1)
	s, addr := s.CreateAccount(state.NewAccountStatus(nil))
	s = s.WithAccount(addr, mustAccount(s, addr).WithBalance(1000))
	return ctx.New(s, addr, 100000, 64), addr
}

func mustAccount(s state.State, a state.Address) state.AccountStatus {
	acc, _ := s.Account(a)
	return acc
}

func asLong(t *testing.T, r cell.Ref) int64 {
	t.Helper()
	v, ok := r.Value()
	if !ok {
		t.Fatal("expected embedded value")
	}
	l, ok := v.(cell.LongCell)
	if !ok {
		t.Fatalf("expected LongCell, got %T", v)
	}
	return int64(l)
}

func TestConstantEval(t *testing.T) {
	c, _ := newCtx(t)
	op := Constant{Value: cell.NewRef(cell.LongCell(42))}
	if !Run(op, c, params.Default().Juice) {
		t.Fatal(c.Exception)
	}
	if asLong(t, c.Result) != 42 {
		t.Fatalf("result = %d, want 42", asLong(t, c.Result))
	}
}

func TestDoPropagatesLastResult(t *testing.T) {
	c, _ := newCtx(t)
	j := params.Default().Juice
	op := Do{Ops: []Op{
		Constant{Value: cell.NewRef(cell.LongCell(1))},
		Constant{Value: cell.NewRef(cell.LongCell(2))},
		Constant{Value: cell.NewRef(cell.LongCell(3))},
	}}
	if !Run(op, c, j) {
		t.Fatal(c.Exception)
	}
	if asLong(t, c.Result) != 3 {
		t.Fatalf("result = %d, want 3", asLong(t, c.Result))
	}
}

func TestCondElseBranch(t *testing.T) {
	c, _ := newCtx(t)
	j := params.Default().Juice
	op := Cond{
		Clauses: []Clause{{
			Test: Constant{Value: cell.NewRef(cell.BoolCell(false))},
			Then: Constant{Value: cell.NewRef(cell.LongCell(1))},
		}},
		Else: Constant{Value: cell.NewRef(cell.LongCell(99))},
	}
	if !Run(op, c, j) {
		t.Fatal(c.Exception)
	}
	if asLong(t, c.Result) != 99 {
		t.Fatalf("result = %d, want 99", asLong(t, c.Result))
	}
}

func TestCondNoMatchReturnsNull(t *testing.T) {
	c, _ := newCtx(t)
	j := params.Default().Juice
	op := Cond{Clauses: []Clause{{
		Test: Constant{Value: cell.NewRef(cell.BoolCell(false))},
		Then: Constant{Value: cell.NewRef(cell.LongCell(1))},
	}}}
	if !Run(op, c, j) {
		t.Fatal(c.Exception)
	}
	v, _ := c.Result.Value()
	if _, ok := v.(cell.NullCell); !ok {
		t.Fatalf("result = %v, want Null", v)
	}
}

func TestLetBindsSequentialLocals(t *testing.T) {
	c, _ := newCtx(t)
	j := params.Default().Juice
	op := Let{
		Bindings: []Op{
			Constant{Value: cell.NewRef(cell.LongCell(10))},
			Constant{Value: cell.NewRef(cell.LongCell(20))},
		},
		Body: []Op{Local{Index: 1}},
	}
	if !Run(op, c, j) {
		t.Fatal(c.Exception)
	}
	if asLong(t, c.Result) != 20 {
		t.Fatalf("result = %d, want 20", asLong(t, c.Result))
	}
}

func TestInvokeSingleArityClosure(t *testing.T) {
	c, _ := newCtx(t)
	j := params.Default().Juice
	sym, _ := cell.NewSymbol("x")
	closure := Closure{Clauses: []Arity{{
		Params: ParamSpec{Params: []cell.SymbolCell{sym}},
		Body:   []Op{Local{Index: 0}},
	}}}
	op := Invoke{
		Fn:   Constant{Value: cell.NewRef(closure)},
		Args: []Op{Constant{Value: cell.NewRef(cell.LongCell(7))}},
	}
	if !Run(op, c, j) {
		t.Fatal(c.Exception)
	}
	if asLong(t, c.Result) != 7 {
		t.Fatalf("result = %d, want 7", asLong(t, c.Result))
	}
}

func TestInvokeArityMismatch(t *testing.T) {
	c, _ := newCtx(t)
	j := params.Default().Juice
	sym, _ := cell.NewSymbol("x")
	closure := Closure{Clauses: []Arity{{
		Params: ParamSpec{Params: []cell.SymbolCell{sym}},
		Body:   []Op{Local{Index: 0}},
	}}}
	op := Invoke{Fn: Constant{Value: cell.NewRef(closure)}}
	if Run(op, c, j) {
		t.Fatal("expected arity mismatch to fail")
	}
	if c.Exception.Kind != ctx.ErrArity {
		t.Fatalf("kind = %s, want ARITY", c.Exception.Kind)
	}
}

func TestDefThenLookup(t *testing.T) {
	c, addr := newCtx(t)
	j := params.Default().Juice
	sym, _ := cell.NewSymbol("answer")
	defOp := Def{Symbol: sym, Value: Constant{Value: cell.NewRef(cell.LongCell(42))}}
	if !Run(defOp, c, j) {
		t.Fatal(c.Exception)
	}
	lookup := Lookup{Symbol: sym, Address: &addr}
	if !Run(lookup, c, j) {
		t.Fatal(c.Exception)
	}
	if asLong(t, c.Result) != 42 {
		t.Fatalf("result = %d, want 42", asLong(t, c.Result))
	}
}

func TestActorCallHappyPathRefundsUnusedOffer(t *testing.T) {
	s := state.NewGenesis(1)
	s, caller := s.CreateAccount(state.NewAccountStatus(nil))
	s = s.WithAccount(caller, mustAccount(s, caller).WithBalance(1000))

	fnSym, _ := cell.NewSymbol("identity")
	closure := Closure{Clauses: []Arity{{
		Params: ParamSpec{},
		Body:   []Op{Constant{Value: cell.NewRef(cell.LongCell(5))}},
	}}}
	target := state.NewAccountStatus(nil).WithDef(fnSym, cell.NewRef(closure), true)
	s, targetAddr := s.CreateAccount(target)

	c := ctx.New(s, caller, 100000, 64)
	j := params.Default().Juice
	ActorCall(c, j, targetAddr, 100, fnSym, nil)
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	if asLong(t, c.Result) != 5 {
		t.Fatalf("result = %d, want 5", asLong(t, c.Result))
	}
	callerAcct, _ := c.State.Account(caller)
	if callerAcct.Balance() != 1000 {
		t.Fatalf("caller balance = %d, want 1000 (offer refunded)", callerAcct.Balance())
	}
}

func TestActorCallInsufficientFunds(t *testing.T) {
	s := state.NewGenesis(1)
	s, caller := s.CreateAccount(state.NewAccountStatus(nil))
	fnSym, _ := cell.NewSymbol("identity")
	target := state.NewAccountStatus(nil).WithDef(fnSym, cell.NewRef(Closure{}), true)
	s, targetAddr := s.CreateAccount(target)

	c := ctx.New(s, caller, 100000, 64)
	j := params.Default().Juice
	ActorCall(c, j, targetAddr, 100, fnSym, nil)
	if c.Exception == nil || c.Exception.Kind != ctx.ErrFunds {
		t.Fatalf("expected :FUNDS, got %v", c.Exception)
	}
}

func TestActorCallNobody(t *testing.T) {
	s := state.NewGenesis(1)
	s, caller := s.CreateAccount(state.NewAccountStatus(nil))
	c := ctx.New(s, caller, 100000, 64)
	j := params.Default().Juice
	fnSym, _ := cell.NewSymbol("identity")
	ActorCall(c, j, state.Address(99), 0, fnSym, nil)
	if c.Exception == nil || c.Exception.Kind != ctx.ErrNobody {
		t.Fatalf("expected :NOBODY, got %v", c.Exception)
	}
}

func TestSpecialStateHoldingsKey(t *testing.T) {
	key := cell.AccountKeyCell{9}
	s := state.NewGenesis(1)
	s, addr := s.CreateAccount(state.NewAccountStatus(&key))
	c := ctx.New(s, addr, 100000, 64)
	j := params.Default().Juice

	if !Run(Special{Tag: SpecialState}, c, j) {
		t.Fatal(c.Exception)
	}
	if _, ok := c.Result.Value(); !ok {
		t.Fatal("*state* result must be embedded or resolvable")
	}

	if !Run(Special{Tag: SpecialHoldings}, c, j) {
		t.Fatal(c.Exception)
	}

	if !Run(Special{Tag: SpecialKey}, c, j) {
		t.Fatal(c.Exception)
	}
	v, _ := c.Result.Value()
	got, ok := v.(cell.AccountKeyCell)
	if !ok || got != key {
		t.Fatalf("*key* = %v, want %v", v, key)
	}
}

func TestSpecialKeyOnActorIsNull(t *testing.T) {
	s := state.NewGenesis(1)
	s, addr := s.CreateAccount(state.NewAccountStatus(nil))
	c := ctx.New(s, addr, 100000, 64)
	j := params.Default().Juice
	if !Run(Special{Tag: SpecialKey}, c, j) {
		t.Fatal(c.Exception)
	}
	v, _ := c.Result.Value()
	if _, ok := v.(cell.NullCell); !ok {
		t.Fatalf("*key* for a pure actor = %v, want Null", v)
	}
}

func TestScheduleStoresBodyForLaterTimestamp(t *testing.T) {
	c, addr := newCtx(t)
	j := params.Default().Juice
	body := Constant{Value: cell.NewRef(cell.LongCell(1))}
	op := Schedule{
		Time: Constant{Value: cell.NewRef(cell.LongCell(500))},
		Body: body,
	}
	if !Run(op, c, j) {
		t.Fatal(c.Exception)
	}
	_, due := c.State.DrainSchedule(500, 10)
	if len(due) != 1 || due[0].Address != addr {
		t.Fatalf("due = %+v, want one entry for %d", due, addr)
	}
	if _, ok := due[0].Op.(Op); !ok {
		t.Fatalf("scheduled op payload is not an ops.Op: %T", due[0].Op)
	}
}

func TestScheduleRejectsNegativeTime(t *testing.T) {
	c, _ := newCtx(t)
	j := params.Default().Juice
	op := Schedule{
		Time: Constant{Value: cell.NewRef(cell.LongCell(-1))},
		Body: Constant{Value: cell.NewRef(cell.Null)},
	}
	if Run(op, c, j) {
		t.Fatal("expected a negative schedule time to fail")
	}
	if c.Exception.Kind != ctx.ErrCast {
		t.Fatalf("kind = %s, want CAST", c.Exception.Kind)
	}
}

func TestActorCallAcceptKeepsFunds(t *testing.T) {
	s := state.NewGenesis(1)
	s, caller := s.CreateAccount(state.NewAccountStatus(nil))
	s = s.WithAccount(caller, mustAccount(s, caller).WithBalance(1000))

	fnSym, _ := cell.NewSymbol("accept-all")
	closure := Closure{Clauses: []Arity{{
		Params: ParamSpec{},
		Body: []Op{Invoke{
			Fn:   Constant{Value: cell.NewRef(NativeFn{Name: "accept", Fn: func(c *ctx.Context, args []cell.Ref) {
				acct, _ := c.State.Account(c.Address)
				c.State = c.State.WithAccount(c.Address, acct.WithBalance(acct.Balance()+c.Offer))
				c.Accepted = c.Offer
				c.SetResult(cell.NewRef(cell.LongCell(int64(c.Offer))))
			}}},
			Args: []Op{Constant{Value: cell.NewRef(cell.LongCell(100))}},
		}},
	}}}
	target := state.NewAccountStatus(nil).WithDef(fnSym, cell.NewRef(closure), true)
	s, targetAddr := s.CreateAccount(target)

	c := ctx.New(s, caller, 100000, 64)
	j := params.Default().Juice
	ActorCall(c, j, targetAddr, 100, fnSym, nil)
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	callerAcct, _ := c.State.Account(caller)
	if callerAcct.Balance() != 900 {
		t.Fatalf("caller balance = %d, want 900 (offer accepted, not refunded)", callerAcct.Balance())
	}
	targetAcct, _ := c.State.Account(targetAddr)
	if targetAcct.Balance() != 100 {
		t.Fatalf("target balance = %d, want 100", targetAcct.Balance())
	}
}

func TestActorCallRollsBackDebitOnError(t *testing.T) {
	s := state.NewGenesis(1)
	s, caller := s.CreateAccount(state.NewAccountStatus(nil))
	s = s.WithAccount(caller, mustAccount(s, caller).WithBalance(1000))

	fnSym, _ := cell.NewSymbol("boom")
	// a closure whose single clause has a param the call won't satisfy
	// (arity mismatch raises :ARITY, an ordinary in-VM error).
	badSym, _ := cell.NewSymbol("p")
	closure := Closure{Clauses: []Arity{{
		Params: ParamSpec{Params: []cell.SymbolCell{badSym}},
		Body:   []Op{Local{Index: 0}},
	}}}
	target := state.NewAccountStatus(nil).WithDef(fnSym, cell.NewRef(closure), true)
	s, targetAddr := s.CreateAccount(target)

	c := ctx.New(s, caller, 100000, 64)
	j := params.Default().Juice
	ActorCall(c, j, targetAddr, 200, fnSym, nil)
	if c.HasException() {
		t.Fatal("actor_call should surface the callee error as a result, not propagate it")
	}
	callerAcct, _ := c.State.Account(caller)
	if callerAcct.Balance() != 1000 {
		t.Fatalf("caller balance = %d, want 1000 (debit rolled back)", callerAcct.Balance())
	}
}
