package fn

import (
	"math"
	"math/big"
	"testing"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cell/coll"
	"convex.dev/node/pkg/cvm/ctx"
	"convex.dev/node/pkg/cvm/state"
)

func freshCtx() *ctx.Context {
	return ctx.New(state.NewGenesis(1), 0, 100000, 64)
}

func longRef(n int64) cell.Ref { return cell.NewRef(cell.LongCell(n)) }

func asLong(t *testing.T, r cell.Ref) int64 {
	t.Helper()
	v, _ := r.Value()
	return int64(v.(cell.LongCell))
}

func TestPlus(t *testing.T) {
	c := freshCtx()
	Plus.Invoke(c, []cell.Ref{longRef(1), longRef(2), longRef(3)})
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	if asLong(t, c.Result) != 6 {
		t.Fatalf("+ = %d, want 6", asLong(t, c.Result))
	}
}

func TestMinusUnaryAndBinary(t *testing.T) {
	c := freshCtx()
	Minus.Invoke(c, []cell.Ref{longRef(5)})
	if asLong(t, c.Result) != -5 {
		t.Fatalf("unary - = %d, want -5", asLong(t, c.Result))
	}
	c = freshCtx()
	Minus.Invoke(c, []cell.Ref{longRef(10), longRef(3)})
	if asLong(t, c.Result) != 7 {
		t.Fatalf("10 - 3 = %d, want 7", asLong(t, c.Result))
	}
}

func TestCountOnVectorAndMap(t *testing.T) {
	v := coll.NewVector(longRef(1), longRef(2), longRef(3))
	c := freshCtx()
	Count.Invoke(c, []cell.Ref{cell.NewRef(v)})
	if asLong(t, c.Result) != 3 {
		t.Fatalf("count(vector) = %d, want 3", asLong(t, c.Result))
	}

	m := coll.EmptyMap.Assoc(longRef(1), longRef(10))
	c = freshCtx()
	Count.Invoke(c, []cell.Ref{cell.NewRef(m)})
	if asLong(t, c.Result) != 1 {
		t.Fatalf("count(map) = %d, want 1", asLong(t, c.Result))
	}
}

func TestGetWithDefault(t *testing.T) {
	m := coll.EmptyMap.Assoc(longRef(1), longRef(10))
	c := freshCtx()
	Get.Invoke(c, []cell.Ref{cell.NewRef(m), longRef(2), longRef(-1)})
	if asLong(t, c.Result) != -1 {
		t.Fatalf("get missing with default = %d, want -1", asLong(t, c.Result))
	}
}

func TestAssocOnVectorAppend(t *testing.T) {
	v := coll.NewVector(longRef(1), longRef(2))
	c := freshCtx()
	Assoc.Invoke(c, []cell.Ref{cell.NewRef(v), longRef(2), longRef(3)})
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	out, _ := c.Result.Value()
	if out.(coll.Vector).Count() != 3 {
		t.Fatalf("count after assoc-append = %d, want 3", out.(coll.Vector).Count())
	}
}

func TestConsPrepends(t *testing.T) {
	v := coll.NewVector(longRef(2), longRef(3))
	c := freshCtx()
	Cons.Invoke(c, []cell.Ref{longRef(1), cell.NewRef(v)})
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	out, _ := c.Result.Value()
	ov := out.(coll.Vector)
	if ov.Count() != 3 {
		t.Fatalf("count = %d, want 3", ov.Count())
	}
	first, _ := ov.Get(0)
	if asLong(t, first) != 1 {
		t.Fatalf("first element = %d, want 1", asLong(t, first))
	}
}

func TestCoreRegistryHasExpectedNames(t *testing.T) {
	core := Core()
	for _, name := range []string{
		"+", "-", "*", "count", "get", "assoc", "cons",
		"min", "long", "==", "=", "transfer", "accept", "fail",
	} {
		if _, ok := core[name]; !ok {
			t.Errorf("missing core function %q", name)
		}
	}
}

func doubleRef(f float64) cell.Ref { return cell.NewRef(cell.NewDouble(f)) }

func TestMinPropagatesNaN(t *testing.T) {
	c := freshCtx()
	Min.Invoke(c, []cell.Ref{doubleRef(math.NaN()), longRef(1)})
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	v, _ := c.Result.Value()
	d, ok := v.(cell.DoubleCell)
	if !ok || !math.IsNaN(float64(d)) {
		t.Fatalf("min(NaN, 1) = %v, want NaN", v)
	}
}

func TestMinPicksSmallest(t *testing.T) {
	c := freshCtx()
	Min.Invoke(c, []cell.Ref{longRef(5), longRef(-2), longRef(9)})
	if asLong(t, c.Result) != -2 {
		t.Fatalf("min = %d, want -2", asLong(t, c.Result))
	}
}

func TestLongTruncatesBigInt(t *testing.T) {
	maxU64 := new(big.Int).Lsh(big.NewInt(1), 64)
	maxU64.Sub(maxU64, big.NewInt(1)) // 0xffffffffffffffff
	c := freshCtx()
	Long.Invoke(c, []cell.Ref{cell.NewRef(cell.NewNumber(maxU64))})
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	if asLong(t, c.Result) != -1 {
		t.Fatalf("long(0xffffffffffffffff) = %d, want -1", asLong(t, c.Result))
	}
}

func TestNumEqTreatsSignedZeroAsEqual(t *testing.T) {
	c := freshCtx()
	NumEq.Invoke(c, []cell.Ref{doubleRef(0.0), doubleRef(math.Copysign(0, -1))})
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	v, _ := c.Result.Value()
	if !bool(v.(cell.BoolCell)) {
		t.Fatal("(== 0.0 -0.0) should be true")
	}
}

func TestValEqTreatsSignedZeroAsDistinct(t *testing.T) {
	c := freshCtx()
	ValEq.Invoke(c, []cell.Ref{doubleRef(0.0), doubleRef(math.Copysign(0, -1))})
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	v, _ := c.Result.Value()
	if bool(v.(cell.BoolCell)) {
		t.Fatal("(= 0.0 -0.0) should be false")
	}
}

func ctxWithFundedAccount(t *testing.T, balance uint64) (*ctx.Context, state.Address) {
	t.Helper()
	s := state.NewGenesis(1)
	s, addr := s.CreateAccount(state.NewAccountStatus(nil))
	acct, _ := s.Account(addr)
	s = s.WithAccount(addr, acct.WithBalance(balance))
	return ctx.New(s, addr, 100000, 64), addr
}

func TestTransferMovesBalance(t *testing.T) {
	c, sender := ctxWithFundedAccount(t, 1000)
	s, receiver := c.State.CreateAccount(state.NewAccountStatus(nil))
	c.State = s

	Transfer.Invoke(c, []cell.Ref{cell.NewRef(receiver.Cell()), longRef(300)})
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	senderAcct, _ := c.State.Account(sender)
	receiverAcct, _ := c.State.Account(receiver)
	if senderAcct.Balance() != 700 {
		t.Fatalf("sender balance = %d, want 700", senderAcct.Balance())
	}
	if receiverAcct.Balance() != 300 {
		t.Fatalf("receiver balance = %d, want 300", receiverAcct.Balance())
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	c, _ := ctxWithFundedAccount(t, 10)
	s, receiver := c.State.CreateAccount(state.NewAccountStatus(nil))
	c.State = s
	Transfer.Invoke(c, []cell.Ref{cell.NewRef(receiver.Cell()), longRef(100)})
	if c.Exception == nil || c.Exception.Kind != ctx.ErrFunds {
		t.Fatalf("expected :FUNDS, got %v", c.Exception)
	}
}

func TestAcceptCreditsBalanceAndTracksAccepted(t *testing.T) {
	c, addr := ctxWithFundedAccount(t, 0)
	c.Offer = 50
	Accept.Invoke(c, []cell.Ref{longRef(30)})
	if c.HasException() {
		t.Fatal(c.Exception)
	}
	acct, _ := c.State.Account(addr)
	if acct.Balance() != 30 {
		t.Fatalf("balance = %d, want 30", acct.Balance())
	}
	if c.Accepted != 30 {
		t.Fatalf("accepted = %d, want 30", c.Accepted)
	}
}

func TestAcceptRejectsOverOffer(t *testing.T) {
	c, _ := ctxWithFundedAccount(t, 0)
	c.Offer = 10
	Accept.Invoke(c, []cell.Ref{longRef(20)})
	if c.Exception == nil || c.Exception.Kind != ctx.ErrFunds {
		t.Fatalf("expected :FUNDS, got %v", c.Exception)
	}
}

func TestFailDefaultsToAssert(t *testing.T) {
	c := freshCtx()
	Fail.Invoke(c, nil)
	if c.Exception == nil || c.Exception.Kind != ctx.ErrAssert {
		t.Fatalf("expected :ASSERT, got %v", c.Exception)
	}
}

func TestFailWithKeywordKind(t *testing.T) {
	c := freshCtx()
	kw, _ := cell.NewKeyword("CUSTOM")
	msg, _ := cell.NewString("boom")
	Fail.Invoke(c, []cell.Ref{cell.NewRef(kw), cell.NewRef(msg)})
	if c.Exception == nil || c.Exception.Kind != ctx.ErrorKind("CUSTOM") || c.Exception.Message != "boom" {
		t.Fatalf("exception = %+v, want kind CUSTOM message boom", c.Exception)
	}
}
