package peer

import (
	"context"
	"sync"
	"testing"
	"time"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/ckey"
	"convex.dev/node/pkg/consensus"
	"convex.dev/node/pkg/cvm/ops"
	"convex.dev/node/pkg/cvm/state"
	"convex.dev/node/pkg/cvm/txn"
	"convex.dev/node/pkg/store"
	"convex.dev/node/params"
)

// loopbackNetwork delivers every broadcast belief straight back to its own
// handler, simulating a single-peer network where self-gossip is the only
// traffic — enough to drive the propagator's merge/commit path without a
// real transport.
type loopbackNetwork struct {
	mu      sync.Mutex
	handler func(from consensus.PeerKey, b consensus.Belief)
	self    consensus.PeerKey
}

func (n *loopbackNetwork) BroadcastBelief(ctx context.Context, b consensus.Belief) error {
	n.mu.Lock()
	h := n.handler
	n.mu.Unlock()
	if h != nil {
		h(n.self, b)
	}
	return nil
}

func (n *loopbackNetwork) SetBeliefHandler(h func(from consensus.PeerKey, b consensus.Belief)) {
	n.mu.Lock()
	n.handler = h
	n.mu.Unlock()
}

func testCfg() params.Config {
	cfg := params.Default()
	cfg.Node.MinBlockTime = 5 * time.Millisecond
	cfg.Consensus.MinBroadcastPeriod = 5 * time.Millisecond
	cfg.Consensus.FullBeliefPeriod = time.Hour
	cfg.Consensus.RebroadcastIdle = time.Hour
	cfg.Consensus.ProposalThreshold = 0.5
	cfg.Consensus.ConsensusThreshold = 2.0 / 3.0
	return cfg
}

func TestNodeSubmitTransactionGetsAppliedAndCommitted(t *testing.T) {
	cfg := testCfg()
	signer, err := ckey.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	key := signer.AccountKey()
	genesis := state.NewGenesis(1)
	acct := state.NewAccountStatus(&key).WithBalance(1_000_000)
	genesis, addr := genesis.CreateAccount(acct)

	net := &loopbackNetwork{self: consensus.PeerKey(key)}
	node := New(cfg, signer, store.NewMemStore(), genesis, net, nil)

	var mu sync.Mutex
	var committed []txn.Block
	node.OnCommit(func(b txn.Block, res txn.BlockResult) {
		mu.Lock()
		committed = append(committed, b)
		mu.Unlock()
	})

	opBytes, err := ops.Encode(ops.Constant{Value: cell.NewRef(cell.LongCell(7))})
	if err != nil {
		t.Fatalf("encode op: %v", err)
	}
	payload := append(cell.Encode(key), opBytes...)
	tx := txn.Transaction{
		Address:    addr,
		Sequence:   1,
		AccountKey: key,
		Op:         ops.Constant{Value: cell.NewRef(cell.LongCell(7))},
		Signature:  txn.Sign(signer, addr, 1, payload),
	}

	if err := node.SubmitTransaction(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(committed)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("transaction was never committed")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done

	acctAfter, ok := node.State().Account(addr)
	if !ok {
		t.Fatal("account missing after commit")
	}
	if acctAfter.Sequence() != 1 {
		t.Fatalf("expected sequence 1 after commit, got %d", acctAfter.Sequence())
	}
}

func TestNodeStatusReflectsPendingCount(t *testing.T) {
	cfg := testCfg()
	signer, _ := ckey.GenerateKey()
	genesis := state.NewGenesis(1)

	net := &loopbackNetwork{self: consensus.PeerKey(signer.AccountKey())}
	node := New(cfg, signer, store.NewMemStore(), genesis, net, nil)

	st := node.Status()
	if st.PendingCount != 0 {
		t.Fatalf("expected empty pending queue, got %d", st.PendingCount)
	}
	if st.PeerKey != signer.AccountKey() {
		t.Fatalf("status peer key mismatch")
	}
}

func TestNodeStatusReportsGenesisAndStateHash(t *testing.T) {
	cfg := testCfg()
	signer, _ := ckey.GenerateKey()
	genesis := state.NewGenesis(1)

	net := &loopbackNetwork{self: consensus.PeerKey(signer.AccountKey())}
	node := New(cfg, signer, store.NewMemStore(), genesis, net, nil)

	st := node.Status()
	if st.GenesisHash != genesis.Hash() {
		t.Fatalf("genesis hash = %x, want %x", st.GenesisHash, genesis.Hash())
	}
	if st.StateHash != node.State().Hash() {
		t.Fatalf("state hash = %x, want %x", st.StateHash, node.State().Hash())
	}
	if st.StateHash != st.ConsensusStateHash {
		t.Fatal("a freshly built node's state hash should equal its consensus state hash")
	}
	var zero cell.Hash
	if st.BeliefHash == zero {
		t.Fatal("belief hash should not be the zero hash")
	}
}
