package consensus

import (
	"testing"
	"time"

	"convex.dev/node/pkg/ckey"
	"convex.dev/node/pkg/cvm/txn"
)

func TestOrderHashStableAcrossEqualOrders(t *testing.T) {
	ts := time.Unix(1000, 0)
	o1 := Order{Blocks: []txn.Block{{Timestamp: 1}}, ProposalPoint: 1, ConsensusPoint: 0, Timestamp: ts}
	o2 := Order{Blocks: []txn.Block{{Timestamp: 1}}, ProposalPoint: 1, ConsensusPoint: 0, Timestamp: ts}
	if o1.Hash() != o2.Hash() {
		t.Fatalf("equal orders hashed differently")
	}
}

func TestOrderHashChangesWithConsensusPoint(t *testing.T) {
	ts := time.Unix(1000, 0)
	o1 := Order{Blocks: []txn.Block{{Timestamp: 1}}, ProposalPoint: 1, ConsensusPoint: 0, Timestamp: ts}
	o2 := o1
	o2.ConsensusPoint = 1
	if o1.Hash() == o2.Hash() {
		t.Fatalf("orders with different consensus_point hashed equal")
	}
}

func TestBeliefWithOrderIsImmutable(t *testing.T) {
	signer, err := ckey.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	key := signer.AccountKey()

	b0 := NewBelief()
	b1 := b0.WithOrder(key, Order{ProposalPoint: 1})
	if _, ok := b0.Order(key); ok {
		t.Fatalf("original belief mutated by WithOrder")
	}
	got, ok := b1.Order(key)
	if !ok || got.ProposalPoint != 1 {
		t.Fatalf("new belief missing the set order")
	}
}

func TestBeliefOrderMissingReturnsFalse(t *testing.T) {
	signer, err := ckey.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := NewBelief().Order(signer.AccountKey()); ok {
		t.Fatalf("expected no order for unknown peer")
	}
}
