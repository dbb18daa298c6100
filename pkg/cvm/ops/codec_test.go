package ops

import (
	"testing"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/state"
)

func roundTrip(t *testing.T, op Op) Op {
	t.Helper()
	b, err := Encode(op)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestCodecConstantRoundTrip(t *testing.T) {
	op := Constant{Value: cell.NewRef(cell.LongCell(42))}
	got := roundTrip(t, op).(Constant)
	v, _ := got.Value.Value()
	if v.(cell.LongCell) != 42 {
		t.Fatalf("value = %v, want 42", v)
	}
}

func TestCodecLookupRoundTrip(t *testing.T) {
	sym, _ := cell.NewSymbol("foo")
	addr := state.Address(7)
	op := Lookup{Symbol: sym, Address: &addr}
	got := roundTrip(t, op).(Lookup)
	if got.Symbol != sym {
		t.Fatalf("symbol = %v, want %v", got.Symbol, sym)
	}
	if got.Address == nil || *got.Address != addr {
		t.Fatalf("address = %v, want %v", got.Address, addr)
	}
}

func TestCodecLookupWithoutAddressRoundTrip(t *testing.T) {
	sym, _ := cell.NewSymbol("bar")
	op := Lookup{Symbol: sym}
	got := roundTrip(t, op).(Lookup)
	if got.Address != nil {
		t.Fatalf("expected nil address, got %v", got.Address)
	}
}

func TestCodecDoAndCondRoundTrip(t *testing.T) {
	op := Do{Ops: []Op{
		Constant{Value: cell.NewRef(cell.LongCell(1))},
		Cond{
			Clauses: []Clause{{
				Test: Constant{Value: cell.NewRef(cell.BoolCell(true))},
				Then: Constant{Value: cell.NewRef(cell.LongCell(2))},
			}},
			Else: Constant{Value: cell.NewRef(cell.LongCell(3))},
		},
	}}
	got := roundTrip(t, op).(Do)
	if len(got.Ops) != 2 {
		t.Fatalf("expected 2 sub-ops, got %d", len(got.Ops))
	}
	cond := got.Ops[1].(Cond)
	if len(cond.Clauses) != 1 || cond.Else == nil {
		t.Fatalf("cond round trip mismatch: %+v", cond)
	}
}

func TestCodecLetRoundTrip(t *testing.T) {
	op := Let{
		Bindings: []Op{Constant{Value: cell.NewRef(cell.LongCell(1))}},
		Body:     []Op{Local{Index: 0}},
		Loop:     true,
	}
	got := roundTrip(t, op).(Let)
	if len(got.Bindings) != 1 || len(got.Body) != 1 || !got.Loop {
		t.Fatalf("let round trip mismatch: %+v", got)
	}
}

func TestCodecDefAndSetRoundTrip(t *testing.T) {
	sym, _ := cell.NewSymbol("x")
	def := Def{Symbol: sym, Value: Constant{Value: cell.NewRef(cell.LongCell(9))}}
	gotDef := roundTrip(t, def).(Def)
	if gotDef.Symbol != sym {
		t.Fatalf("symbol = %v, want %v", gotDef.Symbol, sym)
	}

	set := Set{Index: 3, Value: Constant{Value: cell.NewRef(cell.LongCell(5))}}
	gotSet := roundTrip(t, set).(Set)
	if gotSet.Index != 3 {
		t.Fatalf("index = %d, want 3", gotSet.Index)
	}
}

func TestCodecSpecialRoundTrip(t *testing.T) {
	op := Special{Tag: SpecialBalance}
	got := roundTrip(t, op).(Special)
	if got.Tag != SpecialBalance {
		t.Fatalf("tag = %v, want %v", got.Tag, SpecialBalance)
	}
}

func TestCodecLambdaAndInvokeRoundTrip(t *testing.T) {
	param, _ := cell.NewSymbol("a")
	rest, _ := cell.NewSymbol("rest")
	lambda := Lambda{Clauses: []Arity{{
		Params: ParamSpec{Params: []cell.SymbolCell{param}, Rest: &rest},
		Body:   []Op{Local{Index: 0}},
	}}}
	invoke := Invoke{Fn: lambda, Args: []Op{Constant{Value: cell.NewRef(cell.LongCell(1))}}}

	got := roundTrip(t, invoke).(Invoke)
	gotLambda := got.Fn.(Lambda)
	if len(gotLambda.Clauses) != 1 {
		t.Fatalf("expected 1 clause, got %d", len(gotLambda.Clauses))
	}
	clause := gotLambda.Clauses[0]
	if len(clause.Params.Params) != 1 || clause.Params.Params[0] != param {
		t.Fatalf("params mismatch: %+v", clause.Params)
	}
	if clause.Params.Rest == nil || *clause.Params.Rest != rest {
		t.Fatalf("rest param mismatch: %v", clause.Params.Rest)
	}
	if len(got.Args) != 1 {
		t.Fatalf("expected 1 arg, got %d", len(got.Args))
	}
}

func TestCodecScheduleRoundTrip(t *testing.T) {
	op := Schedule{
		Time: Constant{Value: cell.NewRef(cell.LongCell(1000))},
		Body: Constant{Value: cell.NewRef(cell.LongCell(42))},
	}
	got := roundTrip(t, op).(Schedule)
	time := got.Time.(Constant)
	v, _ := time.Value.Value()
	if v.(cell.LongCell) != 1000 {
		t.Fatalf("time = %v, want 1000", v)
	}
	body := got.Body.(Constant)
	bv, _ := body.Value.Value()
	if bv.(cell.LongCell) != 42 {
		t.Fatalf("body = %v, want 42", bv)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	b, _ := Encode(Constant{Value: cell.NewRef(cell.LongCell(1))})
	b = append(b, 0xFF)
	if _, err := Decode(b); err == nil {
		t.Fatal("expected trailing-byte decode to fail")
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	if _, err := Decode([]byte{0xFE}); err == nil {
		t.Fatal("expected unknown-tag decode to fail")
	}
}
