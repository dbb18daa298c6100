// Package txn implements Convex's transaction and block application:
// the per-transaction lifecycle (signature/sequence check, juice limit,
// op execution, juice and memory settlement) folded over a block of
// signed transactions, applied transaction by transaction to build up a
// BlockResult.
package txn

import (
	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/ckey"
	"convex.dev/node/pkg/cvm/ctx"
	"convex.dev/node/pkg/cvm/ops"
	"convex.dev/node/pkg/cvm/state"
	"convex.dev/node/params"
)

// Transaction is one client-signed operation: an op to run as address,
// at the claimed sequence number, signed by the claimed account key.
type Transaction struct {
	Address    state.Address
	Sequence   uint64
	AccountKey cell.AccountKeyCell
	Op         ops.Op
	Signature  []byte
}

// SignedBytes is the canonical payload a client signs: the transaction's
// address, sequence, and op tree all feed the op's identity, but since
// ops.Op is not itself a cell, the signer instead signs the opaque
// payload the caller supplies at submission time (typically the
// canonical encoding of the compiled form). Callers construct this via
// Sign.
func SignedBytes(addr state.Address, seq uint64, payload []byte) []byte {
	buf := make([]byte, 0, 16+len(payload))
	buf = append(buf, cell.Encode(addr.Cell())...)
	var seqBytes [8]byte
	for i := 0; i < 8; i++ {
		seqBytes[i] = byte(seq >> (56 - 8*i))
	}
	buf = append(buf, seqBytes[:]...)
	buf = append(buf, payload...)
	return buf
}

// Sign signs a transaction's (address, sequence, payload) triple with
// signer's key, returning the signature to attach as Transaction.Signature.
func Sign(signer *ckey.Signer, addr state.Address, seq uint64, payload []byte) []byte {
	return signer.Sign(SignedBytes(addr, seq, payload))
}

// Block is one proposer's batch of client transactions for a single
// round, signed by the proposing peer's key.
type Block struct {
	Timestamp    uint64
	PeerKey      cell.AccountKeyCell
	Transactions []Transaction
	Signature    []byte
}

// Hash is the block's content hash over everything but its own
// signature — the value an Order's prefix-agreement check compares
// peers' proposed blocks by.
func (b Block) Hash() cell.Hash {
	buf := make([]byte, 0, 64)
	var scratch [8]byte
	for i := 0; i < 8; i++ {
		scratch[i] = byte(b.Timestamp >> (56 - 8*i))
	}
	buf = append(buf, scratch[:]...)
	buf = append(buf, b.PeerKey[:]...)
	for _, t := range b.Transactions {
		buf = append(buf, t.AccountKey[:]...)
		buf = append(buf, t.Signature...)
	}
	return cell.HashBytes(buf)
}

// Result is one transaction's outcome: either a value or an
// error_code/message/trace triple, plus any log entries it produced.
type Result struct {
	ID        uint64
	Value     cell.Ref
	ErrorCode ctx.ErrorKind
	Message   string
	Trace     []string
	Log       []ctx.LogEntry
}

func (r Result) IsError() bool { return r.ErrorCode != "" }

// BlockResult is apply_block's output: the resulting state and one
// Result per transaction in the block.
type BlockResult struct {
	State   state.State
	Results []Result
	Invalid string // non-empty reason if the block failed the check step
}

// ApplyBlock runs the full block lifecycle: check, prepare, apply
// transactions.
func ApplyBlock(s state.State, b Block, cfg params.Config) BlockResult {
	if reason, ok := checkBlock(s, b, cfg); !ok {
		return BlockResult{State: s, Invalid: reason}
	}

	s = prepareBlock(s, b, cfg)

	results := make([]Result, 0, len(b.Transactions))
	for i, t := range b.Transactions {
		var res Result
		s, res = applyTransaction(s, t, cfg)
		res.ID = uint64(i)
		results = append(results, res)
	}

	return BlockResult{State: s, Results: results}
}

// checkBlock is the lifecycle's check step: reject the block outright
// before any state mutation is attempted.
func checkBlock(s state.State, b Block, cfg params.Config) (string, bool) {
	peer, ok := s.Peer(b.PeerKey)
	if !ok {
		return "block signer is not a registered peer", false
	}
	if peer.TotalStake() < cfg.Limits.MinimumEffectiveStake {
		return "block signer's total stake is below the minimum effective stake", false
	}
	if len(b.Transactions) > cfg.Limits.MaxTransactionsPerBlock {
		return "transaction count exceeds the per-block maximum", false
	}
	return "", true
}

// prepareBlock is the lifecycle's prepare step: advance the timestamp, grow the
// memory pool by one increment per growth interval crossed, then drain
// and execute due scheduled ops, dropping exceptional results silently.
func prepareBlock(s state.State, b Block, cfg params.Config) state.State {
	g := s.Globals()
	if b.Timestamp > g.Timestamp {
		intervalMs := uint64(cfg.Limits.MemoryPoolGrowthInterval.Milliseconds())
		if intervalMs > 0 {
			before := g.Timestamp / intervalMs
			after := b.Timestamp / intervalMs
			if after > before {
				g = state.GrowMemoryPool(g, after-before, cfg.Limits.MemoryPoolGrowthIncrement)
			}
		}
		g.Timestamp = b.Timestamp
		s = s.WithGlobals(g)
	}

	var due []state.ScheduledOp
	s, due = s.DrainSchedule(s.Globals().Timestamp, cfg.Limits.MaxScheduledTransactionsPerBlock)
	for _, op := range due {
		s = runScheduled(s, op, cfg)
	}
	return s
}

// runScheduled executes one due scheduled op as-if submitted by its
// recorded origin with a fresh juice limit. Exceptional
// results are dropped silently — scheduled transactions never block the
// block; successful state changes still merge.
func runScheduled(s state.State, op state.ScheduledOp, cfg params.Config) state.State {
	if _, ok := s.Account(op.Address); !ok {
		return s
	}
	compiled, ok := op.Op.(ops.Op)
	if !ok {
		return s
	}
	c := ctx.New(s, op.Address, cfg.Limits.MaxTransactionJuice, cfg.Limits.MaxDepth)
	ops.Run(compiled, c, cfg.Juice)
	if c.HasException() && !c.Exception.Kind.IsControl() {
		return s
	}
	return c.State
}

// applyTransaction is the lifecycle's apply step: signer/signature/sequence
// checks, juice-limit computation, execution, and completion.
func applyTransaction(s state.State, t Transaction, cfg params.Config) (state.State, Result) {
	acct, ok := s.Account(t.Address)
	if !ok {
		return s, Result{ErrorCode: ctx.ErrNobody, Message: "no such account"}
	}
	if acct.AccountKey() == nil || *acct.AccountKey() != t.AccountKey {
		return s, Result{ErrorCode: ctx.ErrNobody, Message: "account key does not match"}
	}
	payload, err := signaturePayload(t)
	if err != nil || !ckey.Verify(t.AccountKey, SignedBytes(t.Address, t.Sequence, payload), t.Signature) {
		return s, Result{ErrorCode: ctx.ErrSignature, Message: "signature verification failed"}
	}
	if t.Sequence != acct.Sequence()+1 {
		return s, Result{ErrorCode: ctx.ErrSequence, Message: "sequence number out of order"}
	}

	juicePrice := s.Globals().JuicePrice
	if juicePrice == 0 {
		juicePrice = 1
	}
	juiceLimit := cfg.Limits.MaxTransactionJuice
	if affordable := acct.Balance() / juicePrice; affordable < juiceLimit {
		juiceLimit = affordable
	}
	if juiceLimit == 0 {
		return s, Result{ErrorCode: ctx.ErrFunds, Message: "insufficient balance for any juice"}
	}

	initial := s
	c := ctx.New(s, t.Address, juiceLimit, cfg.Limits.MaxDepth)
	initialMem := s.MemSize()

	ops.Run(t.Op, c, cfg.Juice)

	s = c.State
	s = s.WithAccount(t.Address, mustAccount(s, t.Address).WithSequenceIncremented())

	totalJuice := c.JuiceUsed + cfg.Juice.BaseTransactionJuice
	fee := totalJuice * juicePrice

	payer := mustAccount(s, t.Address)
	if payer.Balance() < fee {
		fee = payer.Balance()
	}
	s = s.WithAccount(t.Address, payer.WithBalance(payer.Balance()-fee))
	g := s.Globals()
	g.Fees += fee
	s = s.WithGlobals(g)

	if c.HasException() && c.Exception.Kind != ctx.CtlHalt {
		// Error, rollback, or any other non-halt control escape discards
		// state changes but the juice fee above has already been applied
		// to the post-rollback account, matching the "juice fees are
		// always paid" rule.
		return rollbackChargingFee(initial, t.Address, fee), errorResult(c.Exception, c.Log)
	}

	// Measured over the whole state, not just t.Address: a call can touch
	// other accounts' memory (actor calls, transfers), and settlement must
	// see the total delta execution produced.
	newMem := s.MemSize()
	if newMem > initialMem {
		s2, settleErr := settleMemory(s, t.Address, newMem-initialMem, cfg)
		if settleErr != nil {
			return rollbackChargingFee(initial, t.Address, fee), Result{ErrorCode: ctx.ErrMemory, Message: settleErr.Error(), Log: c.Log}
		}
		s = s2
	}

	return s, Result{Value: c.Result, Log: c.Log}
}

// rollbackChargingFee restores base to its pre-execution snapshot for
// addr, still incrementing sequence and charging fee — the
// "rolled back ... but juice fees are still paid" rule.
func rollbackChargingFee(base state.State, addr state.Address, fee uint64) state.State {
	acct := mustAccount(base, addr)
	if fee > acct.Balance() {
		fee = acct.Balance()
	}
	rolledBack := base.WithAccount(addr, acct.WithSequenceIncremented().WithBalance(acct.Balance()-fee))
	g := rolledBack.Globals()
	g.Fees += fee
	return rolledBack.WithGlobals(g)
}

// signaturePayload is what a client actually signs: the account key plus
// the op tree itself, so a signature commits to the exact operation run
// and cannot be replayed against a swapped-in op.
func signaturePayload(t Transaction) ([]byte, error) {
	opBytes, err := ops.Encode(t.Op)
	if err != nil {
		return nil, err
	}
	buf := append(cell.Encode(t.AccountKey), opBytes...)
	return buf, nil
}

func mustAccount(s state.State, addr state.Address) state.AccountStatus {
	a, _ := s.Account(addr)
	return a
}

// settleMemory implements the memory-accounting completion rule:
// consume from the account's allowance first, purchase the remainder
// from the memory pool at the swap price, rolling back on insufficient
// funds.
func settleMemory(s state.State, addr state.Address, delta uint64, cfg params.Config) (state.State, error) {
	acct := mustAccount(s, addr)
	if acct.Memory() >= delta {
		return s.WithAccount(addr, acct.WithMemory(acct.Memory()-delta)), nil
	}
	remaining := delta - acct.Memory()
	g := s.Globals()
	price, err := state.SwapPrice(int64(remaining), g.MemoryPoolMem, g.MemoryPoolCVX)
	if err != nil {
		return s, err
	}
	if acct.Balance() < price {
		return s, errInsufficientFundsForMemory
	}
	acct = acct.WithMemory(0).WithBalance(acct.Balance() - price)
	g.MemoryPoolMem -= remaining
	g.MemoryPoolCVX += price
	return s.WithAccount(addr, acct).WithGlobals(g), nil
}

type memoryError string

func (e memoryError) Error() string { return string(e) }

const errInsufficientFundsForMemory memoryError = "insufficient balance to purchase required memory allowance"

func errorResult(e *ctx.Exception, log []ctx.LogEntry) Result {
	return Result{ErrorCode: e.Kind, Message: e.Message, Trace: e.Trace, Log: log}
}
