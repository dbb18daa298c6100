package ctx

import (
	"testing"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/state"
)

func TestChargeExhaustionSetsUncatchableJuiceException(t *testing.T) {
	c := New(state.NewGenesis(1), 0, 100, 64)
	if !c.Charge(50) {
		t.Fatal("expected charge within limit to succeed")
	}
	if c.Charge(100) {
		t.Fatal("expected charge over limit to fail")
	}
	if c.JuiceUsed != c.JuiceLimit {
		t.Fatalf("juice_used = %d, want clamped to limit %d", c.JuiceUsed, c.JuiceLimit)
	}
	if c.Exception == nil || c.Exception.Kind != ErrJuice {
		t.Fatal("expected :JUICE exception")
	}
	if !c.Exception.Kind.Uncatchable() {
		t.Fatal(":JUICE must be uncatchable")
	}
}

func TestForkAndMerge(t *testing.T) {
	s := state.NewGenesis(1)
	s, origin := s.CreateAccount(state.NewAccountStatus(nil))
	s, target := s.CreateAccount(state.NewAccountStatus(nil))
	c := New(s, origin, 1000, 64)
	c.PushLocal(cell.NewRef(cell.LongCell(7)))

	child := c.Fork(target, 50, cell.Ref{})
	if child.Address != target {
		t.Fatal("forked address should be the call target")
	}
	if child.Caller == nil || *child.Caller != origin {
		t.Fatal("forked caller should be the parent's address")
	}
	if len(child.Locals) != 0 {
		t.Fatal("forked context should start with cleared locals")
	}
	if child.Depth != c.Depth+1 {
		t.Fatal("fork should increment depth")
	}

	child.JuiceUsed += 25
	c.Merge(child)
	if c.JuiceUsed != 25 {
		t.Fatalf("merged juice_used = %d, want 25", c.JuiceUsed)
	}
	if len(c.Locals) != 1 {
		t.Fatal("parent locals should be untouched by merge")
	}
}

func TestDepthExceeded(t *testing.T) {
	c := New(state.NewGenesis(1), 0, 1000, 2)
	if c.DepthExceeded() {
		t.Fatal("fresh context should not exceed depth")
	}
	c.Depth = 2
	if !c.DepthExceeded() {
		t.Fatal("depth at max should be exceeded")
	}
}

func TestResultAndExceptionMutuallyExclusive(t *testing.T) {
	c := New(state.NewGenesis(1), 0, 1000, 64)
	c.SetException(NewException(ErrArgument, "bad arg"))
	if !c.HasException() {
		t.Fatal("expected exception set")
	}
	c.SetResult(cell.NewRef(cell.LongCell(1)))
	if c.HasException() {
		t.Fatal("SetResult should clear exception")
	}
}
