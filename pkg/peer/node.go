// Package peer wires the pieces a running Convex peer needs together: the
// world state, the transaction handler that batches submitted
// transactions into self-proposed blocks, and the belief propagator that
// carries those blocks to consensus_point and back into state. Node
// holds state, mempool and consensus together behind a small exported
// surface (Run, SubmitTransaction, OnCommit), generalized from a
// single-leader HotStuff engine to a belief-gossip propagator plus a
// local block-builder loop.
package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/ckey"
	"convex.dev/node/pkg/consensus"
	"convex.dev/node/pkg/cvm/state"
	"convex.dev/node/pkg/cvm/txn"
	"convex.dev/node/pkg/store"
	"convex.dev/node/pkg/util"
	"convex.dev/node/params"
)

var errMempoolFull = errors.New("peer: pending transaction queue is full")

// Node is one running peer: its signing identity, its view of world
// state, and the propagator driving consensus over it.
type Node struct {
	cfg    params.Config
	signer *ckey.Signer
	store  store.Store
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	state state.State

	genesisHash cell.Hash

	peerKeysMu sync.RWMutex
	peerKeys   map[cell.Hash]consensus.PeerKey

	pending chan txn.Transaction
	prop    *consensus.Propagator

	onCommit func(b txn.Block, res txn.BlockResult)
}

// New builds a Node around genesis state, ready to Run once its network
// and commit hook (if any) are attached.
func New(cfg params.Config, signer *ckey.Signer, st store.Store, genesis state.State, net consensus.Network, logger *zap.SugaredLogger) *Node {
	n := &Node{
		cfg:         cfg,
		signer:      signer,
		store:       st,
		logger:      logger,
		state:       genesis,
		genesisHash: genesis.Hash(),
		peerKeys:    make(map[cell.Hash]consensus.PeerKey),
		pending:     make(chan txn.Transaction, 4096),
	}
	n.store.SetRoot(genesis)
	n.prop = consensus.NewPropagator(signer.AccountKey(), signer, net, n, util.RealClock{}, cfg.Consensus)
	n.prop.Logger = logger
	n.prop.Weights = n.stakeWeights
	n.RegisterPeer(signer.AccountKey(), 0, cfg.Limits.MinimumEffectiveStake)
	return n
}

// OnCommit registers a callback fired after every block this node applies
// (whether self-proposed or learned from a peer), letting pkg/api stream
// committed blocks out over its WebSocket hub without the propagator or
// state layer knowing the API exists.
func (n *Node) OnCommit(f func(b txn.Block, res txn.BlockResult)) { n.onCommit = f }

// RegisterPeer adds key to both world state's peer table and this node's
// local key-recovery map, which the stake-weight function needs to turn
// a Belief's hash-keyed orders back into effective stake. A real
// deployment would learn peers by watching the peer-registration
// transaction type; single/fixed-validator-set bootstrapping (the only
// mode this node currently drives) registers them directly.
func (n *Node) RegisterPeer(key cell.AccountKeyCell, controller state.Address, stake uint64) {
	n.mu.Lock()
	n.state = n.state.WithPeer(key, state.NewPeerStatus(controller, stake))
	n.mu.Unlock()

	n.peerKeysMu.Lock()
	n.peerKeys[cell.HashOf(key)] = key
	n.peerKeysMu.Unlock()
}

func (n *Node) stakeWeights() consensus.StakeWeights {
	n.mu.RLock()
	s := n.state
	n.mu.RUnlock()

	n.peerKeysMu.RLock()
	keys := make(map[cell.Hash]consensus.PeerKey, len(n.peerKeys))
	for h, k := range n.peerKeys {
		keys[h] = k
	}
	n.peerKeysMu.RUnlock()

	return consensus.WeightsFromState(s, keys)
}

// State returns a snapshot of the current world state.
func (n *Node) State() state.State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// ApplyBlock implements consensus.AppHook: it folds b over the current
// state via txn.ApplyBlock and, on success, fires the commit hook.
func (n *Node) ApplyBlock(b txn.Block) {
	n.mu.Lock()
	res := txn.ApplyBlock(n.state, b, n.cfg)
	if res.Invalid != "" {
		n.mu.Unlock()
		if n.logger != nil {
			n.logger.Warnw("block_rejected", "reason", res.Invalid)
		}
		return
	}
	n.state = res.State
	n.store.SetRoot(n.state)
	n.mu.Unlock()

	if n.logger != nil {
		n.logger.Infow("block_applied", "transactions", len(b.Transactions), "fees", res.State.Globals().Fees)
	}
	if n.onCommit != nil {
		n.onCommit(b, res)
	}
}

// SubmitTransaction enqueues t for inclusion in this node's next
// self-proposed block. It does not
// apply t itself — validity is decided when the block containing it is
// applied, same as any block learned from a peer.
func (n *Node) SubmitTransaction(t txn.Transaction) error {
	select {
	case n.pending <- t:
		return nil
	default:
		return errMempoolFull
	}
}

// Run drives the propagator loop and this node's own block-builder loop
// until ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	propErr := make(chan error, 1)
	go func() { propErr <- n.prop.Run(ctx, n.cfg.Consensus) }()

	ticker := time.NewTicker(n.cfg.Node.MinBlockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-propErr
			return ctx.Err()
		case err := <-propErr:
			return err
		case <-ticker.C:
			n.proposeBatch()
		}
	}
}

// proposeBatch drains up to the per-block transaction limit off the
// pending queue, and if non-empty, signs and hands the resulting block to
// the propagator.
func (n *Node) proposeBatch() {
	limit := n.cfg.Limits.MaxTransactionsPerBlock
	txs := make([]txn.Transaction, 0, limit)
drain:
	for len(txs) < limit {
		select {
		case t := <-n.pending:
			txs = append(txs, t)
		default:
			break drain
		}
	}
	if len(txs) == 0 {
		return
	}

	blk := txn.Block{
		Timestamp:    uint64(time.Now().UnixMilli()),
		PeerKey:      n.signer.AccountKey(),
		Transactions: txs,
	}
	h := blk.Hash()
	blk.Signature = n.signer.Sign(h[:])

	if !n.prop.ProposeBlock(blk) && n.logger != nil {
		n.logger.Warnw("proposal_queue_full", "transactions", len(txs))
	}
}

// Status reports a point-in-time summary for the STATUS reply: the
// 9-element [belief_hash, state_hash, genesis_hash, peer_key,
// consensus_state_hash, consensus_point, proposal_point, block_count,
// consensus_points] vector a client's STATUS query expects back.
type Status struct {
	BeliefHash         cell.Hash
	StateHash          cell.Hash
	GenesisHash        cell.Hash
	PeerKey            cell.AccountKeyCell
	ConsensusStateHash cell.Hash
	ConsensusPoint     int
	ProposalPoint      int
	BlockCount         int
	ConsensusPoints    map[cell.AccountKeyCell]int

	PendingCount int
	Fees         uint64
	Timestamp    uint64
}

func (n *Node) Status() Status {
	belief := n.prop.Snapshot()
	self, _ := belief.Order(n.signer.AccountKey())

	n.mu.RLock()
	globals := n.state.Globals()
	stateHash := n.state.Hash()
	n.mu.RUnlock()

	// This node's applied state always sits exactly at its own
	// consensus_point (ApplyBlock only runs committed blocks), so
	// consensus_state_hash and state_hash coincide here.
	consensusStateHash := stateHash

	points := make(map[cell.AccountKeyCell]int, len(belief.Orders))
	for h, o := range belief.Orders {
		if k, ok := belief.Keys[h]; ok {
			points[k] = o.ConsensusPoint
		}
	}

	return Status{
		BeliefHash:         belief.Hash(),
		StateHash:          stateHash,
		GenesisHash:        n.genesisHash,
		PeerKey:            n.signer.AccountKey(),
		ConsensusStateHash: consensusStateHash,
		ConsensusPoint:     self.ConsensusPoint,
		ProposalPoint:      self.ProposalPoint,
		BlockCount:         len(self.Blocks),
		ConsensusPoints:    points,

		PendingCount: len(n.pending),
		Fees:         globals.Fees,
		Timestamp:    globals.Timestamp,
	}
}
