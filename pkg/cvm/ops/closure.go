package ops

import (
	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/ctx"
	"convex.dev/node/pkg/cvm/state"
	"convex.dev/node/params"
)

// ParamSpec is one arity clause's parameter list: named positional
// params plus an optional trailing `&rest` parameter.
type ParamSpec struct {
	Params []cell.SymbolCell
	Rest   *cell.SymbolCell
}

func (p ParamSpec) Matches(n int) bool {
	if p.Rest != nil {
		return n >= len(p.Params)
	}
	return n == len(p.Params)
}

// Arity is one (params, body) clause of a multi-arity closure.
type Arity struct {
	Params ParamSpec
	Body   []Op
}

// Closure is a first-class function value: captured locals plus a list
// of arity clauses, the first matching one selected on invoke.
type Closure struct {
	Captured []cell.Ref
	Clauses  []Arity
}

func (Closure) Tag() cell.Tag { return cell.TagRecord } // closures are not independently stored cells
func (c Closure) Encode(w *cell.Writer) {}
func (c Closure) ChildRefs() []cell.Ref { return c.Captured }
func (c Closure) MemSize() uint64       { return uint64(16 + 8*len(c.Captured)) }

func (cl Closure) selectArity(n int) (Arity, bool) {
	for _, a := range cl.Clauses {
		if a.Params.Matches(n) {
			return a, true
		}
	}
	return Arity{}, false
}

// ---- Lambda op ----

type Lambda struct{ Clauses []Arity }

func (Lambda) OpTag() OpTag { return OpLambda }

func (o Lambda) Eval(c *ctx.Context, j params.Juice) {
	if !c.Charge(j.Invoke) {
		return
	}
	closure := Closure{Captured: append([]cell.Ref(nil), c.Locals...), Clauses: o.Clauses}
	c.SetResult(cell.NewRef(closure))
}

// ---- Invoke op ----

type Invoke struct {
	Fn   Op
	Args []Op
}

func (Invoke) OpTag() OpTag { return OpInvoke }

func (o Invoke) Eval(c *ctx.Context, j params.Juice) {
	if !c.Charge(j.Invoke) {
		return
	}
	if !Run(o.Fn, c, j) {
		return
	}
	fnVal := mustValue(c.Result)
	closure, ok := fnVal.(Closure)
	if !ok {
		if nf, ok := fnVal.(NativeFn); ok {
			args, ok := evalArgs(o.Args, c, j)
			if !ok {
				return
			}
			nf.Invoke(c, args)
			return
		}
		c.SetException(ctx.NewException(ctx.ErrCast, "not a function"))
		return
	}

	args, ok := evalArgs(o.Args, c, j)
	if !ok {
		return
	}
	Invoke1(closure, c, j, args)
}

func evalArgs(argOps []Op, c *ctx.Context, j params.Juice) ([]cell.Ref, bool) {
	args := make([]cell.Ref, 0, len(argOps))
	for _, a := range argOps {
		if !Run(a, c, j) {
			return nil, false
		}
		args = append(args, c.Result)
	}
	return args, true
}

// Invoke1 runs closure with args against c, implementing the
// recur/tailcall/return trampoline. On exit c.Result or c.Exception carries
// the outcome.
func Invoke1(closure Closure, c *ctx.Context, j params.Juice, args []cell.Ref) {
	if c.DepthExceeded() {
		c.SetException(ctx.NewException(ctx.ErrDepth, "max call depth exceeded"))
		return
	}
	cl := closure
	curArgs := args
	c.Depth++
	defer func() { c.Depth-- }()

	for {
		arity, ok := cl.selectArity(len(curArgs))
		if !ok {
			c.SetException(ctx.NewException(ctx.ErrArity, "no matching arity for %d args", len(curArgs)))
			return
		}

		savedLocals := c.Locals
		c.Locals = append(append([]cell.Ref(nil), cl.Captured...), bindParams(arity.Params, curArgs)...)

		var last cell.Ref
		escaped := false
		for _, op := range arity.Body {
			if !Run(op, c, j) {
				switch {
				case c.Exception != nil && c.Exception.Kind == ctx.CtlRecur:
					newArgs, _ := c.Exception.Payload.([]cell.Ref)
					c.Exception = nil
					curArgs = newArgs
					escaped = true
				case c.Exception != nil && c.Exception.Kind == ctx.CtlTailcall:
					tc, _ := c.Exception.Payload.(tailcallPayload)
					c.Exception = nil
					cl = tc.closure
					curArgs = tc.args
					escaped = true
				case c.Exception != nil && c.Exception.Kind == ctx.CtlReturn:
					ret, _ := c.Exception.Payload.(cell.Ref)
					c.Exception = nil
					last = ret
					escaped = false
				}
				break
			}
			last = c.Result
		}
		c.Locals = savedLocals
		if c.HasException() {
			return
		}
		if escaped {
			continue // rebind and re-enter with the new args/closure
		}
		c.SetResult(last)
		return
	}
}

func bindParams(spec ParamSpec, args []cell.Ref) []cell.Ref {
	bound := make([]cell.Ref, 0, len(spec.Params)+1)
	bound = append(bound, args[:len(spec.Params)]...)
	if spec.Rest != nil {
		bound = append(bound, args[len(spec.Params):]...)
	}
	return bound
}

type tailcallPayload struct {
	closure Closure
	args    []cell.Ref
}

// Recur unwinds to the nearest enclosing function body or loop with new
// arguments; the trampoline in Invoke1/Let.Eval catches it.
func Recur(c *ctx.Context, args []cell.Ref) {
	c.SetException(&ctx.Exception{Kind: ctx.CtlRecur, Payload: args})
}

// Tailcall unwinds like Recur but may switch to a different closure.
func Tailcall(c *ctx.Context, closure Closure, args []cell.Ref) {
	c.SetException(&ctx.Exception{Kind: ctx.CtlTailcall, Payload: tailcallPayload{closure: closure, args: args}})
}

// Return unwinds to the enclosing function boundary with value as the
// normal result.
func Return(c *ctx.Context, value cell.Ref) {
	c.SetException(&ctx.Exception{Kind: ctx.CtlReturn, Payload: value})
}

// NativeFn is a built-in core function (pkg/cvm/fn) invoked the same way
// a Closure is, without an Op-tree body.
type NativeFn struct {
	Name string
	Fn   func(c *ctx.Context, args []cell.Ref)
}

func (NativeFn) Tag() cell.Tag          { return cell.TagRecord }
func (NativeFn) Encode(w *cell.Writer)  {}
func (NativeFn) ChildRefs() []cell.Ref  { return nil }
func (NativeFn) MemSize() uint64        { return 16 }
func (f NativeFn) Invoke(c *ctx.Context, args []cell.Ref) { f.Fn(c, args) }

// ActorCall implements the cross-account call sequence.
func ActorCall(c *ctx.Context, j params.Juice, target state.Address, offer uint64, fnSym cell.SymbolCell, args []cell.Ref) {
	if !c.Charge(j.ActorCall) {
		return
	}
	targetAcct, ok := c.State.Account(target)
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrNobody, "no such account: %d", target))
		return
	}
	if !targetAcct.IsCallable(fnSym) {
		c.SetException(ctx.NewException(ctx.ErrState, "%s is not callable on account %d", fnSym, target))
		return
	}
	preCallState := c.State
	if offer > 0 {
		callerAcct, _ := c.State.Account(c.Address)
		if callerAcct.Balance() < offer {
			c.SetException(ctx.NewException(ctx.ErrFunds, "insufficient balance to offer %d", offer))
			return
		}
		c.State = c.State.WithAccount(c.Address, callerAcct.WithBalance(callerAcct.Balance()-offer))
	}

	child := c.Fork(target, offer, cell.Ref{})
	fnVal, ok := targetAcct.Environment().Get(cell.NewRef(fnSym))
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrState, "callable %s has no binding", fnSym))
		return
	}
	closure, ok := mustValue(fnVal).(Closure)
	if !ok {
		c.SetException(ctx.NewException(ctx.ErrCast, "callable %s is not a function", fnSym))
		return
	}
	Invoke1(closure, child, j, args)

	if child.HasException() && child.Exception.Kind.Uncatchable() {
		// :JUICE and :DEPTH pass through the boundary uncaught.
		c.JuiceUsed = child.JuiceUsed
		c.SetException(child.Exception)
		return
	}
	if child.HasException() && !child.Exception.Kind.IsControl() {
		// Cross-account boundary: roll back the forked state (including
		// the debit) but keep juice used.
		c.State = preCallState
		c.JuiceUsed = child.JuiceUsed
		c.SetResult(exceptionValue(child.Exception))
		return
	}
	if child.HasException() && child.Exception.Kind == ctx.CtlRollback {
		c.State = preCallState
		c.JuiceUsed = child.JuiceUsed
		payload, _ := child.Exception.Payload.(cell.Ref)
		c.SetResult(payload)
		return
	}

	// Normal return: merge state, refund whatever part of the offer the
	// callee never accepted into its own balance.
	c.Merge(child)
	if refund := offer - child.Accepted; refund > 0 {
		callerAcct, _ := c.State.Account(c.Address)
		c.State = c.State.WithAccount(c.Address, callerAcct.WithBalance(callerAcct.Balance()+refund))
	}
	c.SetResult(child.Result)
}

// exceptionValue reifies an Exception as a cell value the caller can
// inspect as its call result.
func exceptionValue(e *ctx.Exception) cell.Ref {
	kw, _ := cell.NewKeyword(string(e.Kind))
	msg, _ := cell.NewString(e.Message)
	return cell.NewRef(cell.NewRecord(cell.RecordResult, []cell.Ref{cell.NewRef(kw), cell.NewRef(msg)}))
}
