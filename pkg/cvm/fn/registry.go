package fn

import "convex.dev/node/pkg/cvm/ops"

// Core is the genesis core library: every native function a fresh
// account environment starts with, keyed by its Convex symbol name.
func Core() map[string]ops.NativeFn {
	fns := []ops.NativeFn{
		Plus, Minus, Times, Count, Get, Assoc, Cons,
		Min, Long, NumEq, ValEq, Transfer, Accept, Fail,
	}
	out := make(map[string]ops.NativeFn, len(fns))
	for _, f := range fns {
		out[f.Name] = f
	}
	return out
}
