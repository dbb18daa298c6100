package ops

import (
	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/state"
)

// Encode and Decode give a compiled op tree a wire representation:
// client-submitted transactions and gossiped blocks both carry an Op, so
// it needs the same encode/decode round trip every other wire value gets.
// Op nodes reuse the cell package's already-reserved TagOp* tag space
// and its Writer/Reader so constant values nest through the same
// embedded-vs-ref machinery as any other cell, rather than inventing a
// second encoding scheme.

func init() {
	state.OpEncoder = func(op any) ([]byte, error) {
		o, ok := op.(Op)
		if !ok {
			return nil, cell.ErrBadFormat("ops: scheduled payload is not an Op")
		}
		return Encode(o)
	}
}

// Encode returns op's canonical byte encoding.
func Encode(op Op) ([]byte, error) {
	w := cell.NewWriter()
	if err := encodeOp(w, op); err != nil {
		return nil, err
	}
	return w.Bytes_(), nil
}

// Decode parses a single Op tree from b, requiring the entire input be
// consumed.
func Decode(b []byte) (Op, error) {
	r := cell.NewReader(b)
	op, err := decodeOp(r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, cell.ErrBadFormat("trailing bytes after op tree")
	}
	return op, nil
}

func encodeOp(w *cell.Writer, op Op) error {
	switch o := op.(type) {
	case Constant:
		w.Byte(byte(cell.TagOpConstant))
		w.Ref(o.Value)

	case Lookup:
		w.Byte(byte(cell.TagOpLookup))
		w.Ref(cell.NewRef(o.Symbol))
		if o.Address != nil {
			w.Byte(1)
			w.Ref(cell.NewRef(o.Address.Cell()))
		} else {
			w.Byte(0)
		}

	case Local:
		w.Byte(byte(cell.TagOpLocal))
		w.Uvarint(uint64(o.Index))

	case Do:
		w.Byte(byte(cell.TagOpDo))
		w.Uvarint(uint64(len(o.Ops)))
		for _, sub := range o.Ops {
			if err := encodeOp(w, sub); err != nil {
				return err
			}
		}

	case Cond:
		w.Byte(byte(cell.TagOpCond))
		w.Uvarint(uint64(len(o.Clauses)))
		for _, cl := range o.Clauses {
			if err := encodeOp(w, cl.Test); err != nil {
				return err
			}
			if err := encodeOp(w, cl.Then); err != nil {
				return err
			}
		}
		if o.Else != nil {
			w.Byte(1)
			if err := encodeOp(w, o.Else); err != nil {
				return err
			}
		} else {
			w.Byte(0)
		}

	case Let:
		w.Byte(byte(cell.TagOpLet))
		w.Uvarint(uint64(len(o.Bindings)))
		for _, b := range o.Bindings {
			if err := encodeOp(w, b); err != nil {
				return err
			}
		}
		w.Uvarint(uint64(len(o.Body)))
		for _, b := range o.Body {
			if err := encodeOp(w, b); err != nil {
				return err
			}
		}
		if o.Loop {
			w.Byte(1)
		} else {
			w.Byte(0)
		}

	case Set:
		w.Byte(byte(cell.TagOpSet))
		w.Uvarint(uint64(o.Index))
		if err := encodeOp(w, o.Value); err != nil {
			return err
		}

	case Def:
		w.Byte(byte(cell.TagOpDef))
		w.Ref(cell.NewRef(o.Symbol))
		if err := encodeOp(w, o.Value); err != nil {
			return err
		}

	case Special:
		w.Byte(byte(cell.TagOpSpecial))
		s, err := cell.NewString(string(o.Tag))
		if err != nil {
			return err
		}
		w.Ref(cell.NewRef(s))

	case Lambda:
		w.Byte(byte(cell.TagOpLambda))
		if err := encodeClauses(w, o.Clauses); err != nil {
			return err
		}

	case Invoke:
		w.Byte(byte(cell.TagOpInvoke))
		if err := encodeOp(w, o.Fn); err != nil {
			return err
		}
		w.Uvarint(uint64(len(o.Args)))
		for _, a := range o.Args {
			if err := encodeOp(w, a); err != nil {
				return err
			}
		}

	case Schedule:
		w.Byte(byte(cell.TagOpSchedule))
		if err := encodeOp(w, o.Time); err != nil {
			return err
		}
		if err := encodeOp(w, o.Body); err != nil {
			return err
		}

	default:
		return cell.ErrBadFormat("ops: cannot encode op of type %T", op)
	}
	return nil
}

func encodeClauses(w *cell.Writer, clauses []Arity) error {
	w.Uvarint(uint64(len(clauses)))
	for _, a := range clauses {
		w.Uvarint(uint64(len(a.Params.Params)))
		for _, p := range a.Params.Params {
			w.Ref(cell.NewRef(p))
		}
		if a.Params.Rest != nil {
			w.Byte(1)
			w.Ref(cell.NewRef(*a.Params.Rest))
		} else {
			w.Byte(0)
		}
		w.Uvarint(uint64(len(a.Body)))
		for _, b := range a.Body {
			if err := encodeOp(w, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeOp(r *cell.Reader) (Op, error) {
	tb, err := r.Byte()
	if err != nil {
		return nil, err
	}
	switch cell.Tag(tb) {
	case cell.TagOpConstant:
		v, err := r.Ref()
		if err != nil {
			return nil, err
		}
		return Constant{Value: v}, nil

	case cell.TagOpLookup:
		symRef, err := r.Ref()
		if err != nil {
			return nil, err
		}
		sym, err := refSymbol(symRef)
		if err != nil {
			return nil, err
		}
		hasAddr, err := r.Byte()
		if err != nil {
			return nil, err
		}
		var addr *state.Address
		if hasAddr != 0 {
			addrRef, err := r.Ref()
			if err != nil {
				return nil, err
			}
			v, ok := addrRef.Value()
			if !ok {
				return nil, cell.ErrBadFormat("ops: lookup address must be embedded")
			}
			ac, ok := v.(cell.AddressCell)
			if !ok {
				return nil, cell.ErrBadFormat("ops: lookup address has wrong cell type")
			}
			a := state.Address(ac)
			addr = &a
		}
		return Lookup{Symbol: sym, Address: addr}, nil

	case cell.TagOpLocal:
		idx, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		return Local{Index: int(idx)}, nil

	case cell.TagOpDo:
		n, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		subOps, err := decodeOpList(r, n)
		if err != nil {
			return nil, err
		}
		return Do{Ops: subOps}, nil

	case cell.TagOpCond:
		n, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		clauses := make([]Clause, 0, n)
		for i := uint64(0); i < n; i++ {
			test, err := decodeOp(r)
			if err != nil {
				return nil, err
			}
			then, err := decodeOp(r)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, Clause{Test: test, Then: then})
		}
		hasElse, err := r.Byte()
		if err != nil {
			return nil, err
		}
		var elseOp Op
		if hasElse != 0 {
			elseOp, err = decodeOp(r)
			if err != nil {
				return nil, err
			}
		}
		return Cond{Clauses: clauses, Else: elseOp}, nil

	case cell.TagOpLet:
		nb, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		bindings, err := decodeOpList(r, nb)
		if err != nil {
			return nil, err
		}
		nbody, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		body, err := decodeOpList(r, nbody)
		if err != nil {
			return nil, err
		}
		loopByte, err := r.Byte()
		if err != nil {
			return nil, err
		}
		return Let{Bindings: bindings, Body: body, Loop: loopByte != 0}, nil

	case cell.TagOpSet:
		idx, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		val, err := decodeOp(r)
		if err != nil {
			return nil, err
		}
		return Set{Index: int(idx), Value: val}, nil

	case cell.TagOpDef:
		symRef, err := r.Ref()
		if err != nil {
			return nil, err
		}
		sym, err := refSymbol(symRef)
		if err != nil {
			return nil, err
		}
		val, err := decodeOp(r)
		if err != nil {
			return nil, err
		}
		return Def{Symbol: sym, Value: val}, nil

	case cell.TagOpSpecial:
		tagRef, err := r.Ref()
		if err != nil {
			return nil, err
		}
		v, ok := tagRef.Value()
		if !ok {
			return nil, cell.ErrBadFormat("ops: special tag must be embedded")
		}
		sc, ok := v.(cell.StringCell)
		if !ok {
			return nil, cell.ErrBadFormat("ops: special tag has wrong cell type")
		}
		return Special{Tag: SpecialTag(sc.String())}, nil

	case cell.TagOpLambda:
		clauses, err := decodeClauses(r)
		if err != nil {
			return nil, err
		}
		return Lambda{Clauses: clauses}, nil

	case cell.TagOpInvoke:
		fn, err := decodeOp(r)
		if err != nil {
			return nil, err
		}
		n, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		args, err := decodeOpList(r, n)
		if err != nil {
			return nil, err
		}
		return Invoke{Fn: fn, Args: args}, nil

	case cell.TagOpSchedule:
		t, err := decodeOp(r)
		if err != nil {
			return nil, err
		}
		body, err := decodeOp(r)
		if err != nil {
			return nil, err
		}
		return Schedule{Time: t, Body: body}, nil

	default:
		return nil, cell.ErrBadFormat("ops: unknown op tag %d", tb)
	}
}

func decodeOpList(r *cell.Reader, n uint64) ([]Op, error) {
	ops := make([]Op, 0, n)
	for i := uint64(0); i < n; i++ {
		op, err := decodeOp(r)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func decodeClauses(r *cell.Reader) ([]Arity, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	clauses := make([]Arity, 0, n)
	for i := uint64(0); i < n; i++ {
		np, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		paramSyms := make([]cell.SymbolCell, 0, np)
		for j := uint64(0); j < np; j++ {
			ref, err := r.Ref()
			if err != nil {
				return nil, err
			}
			sym, err := refSymbol(ref)
			if err != nil {
				return nil, err
			}
			paramSyms = append(paramSyms, sym)
		}
		hasRest, err := r.Byte()
		if err != nil {
			return nil, err
		}
		var rest *cell.SymbolCell
		if hasRest != 0 {
			ref, err := r.Ref()
			if err != nil {
				return nil, err
			}
			sym, err := refSymbol(ref)
			if err != nil {
				return nil, err
			}
			rest = &sym
		}
		nbody, err := r.Uvarint()
		if err != nil {
			return nil, err
		}
		body, err := decodeOpList(r, nbody)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, Arity{Params: ParamSpec{Params: paramSyms, Rest: rest}, Body: body})
	}
	return clauses, nil
}

func refSymbol(r cell.Ref) (cell.SymbolCell, error) {
	v, ok := r.Value()
	if !ok {
		return "", cell.ErrBadFormat("ops: symbol ref must be embedded")
	}
	sym, ok := v.(cell.SymbolCell)
	if !ok {
		return "", cell.ErrBadFormat("ops: expected a symbol cell")
	}
	return sym, nil
}
