package state

// SwapPrice computes the constant-product memory-pool price for
// trading delta bytes of memory allowance against the pool's current
// (poolAlloc, poolValue) reserves. A positive delta is a buy (coins owed
// by the caller); a negative delta is a sell (coins refunded).
//
// swap_price(Δ, pool_alloc, pool_value) = ceil(pool_value * Δ / (pool_alloc - Δ))
func SwapPrice(delta int64, poolAlloc, poolValue uint64) (uint64, error) {
	if delta == 0 {
		return 0, nil
	}
	if delta > 0 {
		d := uint64(delta)
		if d >= poolAlloc {
			return 0, errPoolExhausted
		}
		return ceilDiv(poolValue*d, poolAlloc-d), nil
	}
	d := uint64(-delta)
	return (poolValue * d) / (poolAlloc + d), nil
}

// ceilDiv is integer ceil(a/b), used for the fixed-point pool-price
// settlement below.
func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

type poolError string

func (e poolError) Error() string { return string(e) }

const errPoolExhausted poolError = "memory pool: buy would exhaust pool allocation"

// GrowMemoryPool advances the pool's allocation reserve by one increment
// per completed growth interval crossed while preparing a block, keeping the constant-product invariant (pool_value held fixed)
// so the price per byte drifts down as capacity grows.
func GrowMemoryPool(g Globals, increments uint64, incrementSize uint64) Globals {
	g.MemoryPoolMem += increments * incrementSize
	return g
}
