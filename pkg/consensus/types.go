// Package consensus implements Convex's belief-gossip ordering layer:
// per-peer signed Orders, the Belief map of known Orders, and the
// deterministic stake-weighted merge rule that drives proposal_point and
// consensus_point forward. A Clock-driven timing loop and zap structured
// logging carry over from an earlier HotStuff-based engine in spirit, but
// its view/leader/QC machinery (Engine, Leader, Safety, Certificate,
// Vote) has no analog here: belief gossip is leaderless and has no
// quorum certificate, so those types are replaced wholesale rather than
// adapted (see DESIGN.md).
package consensus

import (
	"encoding/binary"
	"sort"
	"time"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/txn"
)

// PeerKey identifies a peer by its Ed25519 account key.
type PeerKey = cell.AccountKeyCell

// Order is one peer's signed view of the blocks it has seen:
// blocks in proposed order, plus the two watermarks into that vector.
// Invariant: 0 <= ConsensusPoint <= ProposalPoint <= len(Blocks).
type Order struct {
	Blocks         []txn.Block
	ProposalPoint  int
	ConsensusPoint int
	Timestamp      time.Time
	Signature      []byte
}

// Hash returns the content hash of everything but the signature — the
// payload a peer actually signs, and the value used to break ties in the
// merge rule.
func (o Order) Hash() cell.Hash {
	buf := make([]byte, 0, 64)
	var scratch [8]byte
	for _, b := range o.Blocks {
		bh := b.Hash()
		buf = append(buf, bh[:]...)
	}
	binary.BigEndian.PutUint64(scratch[:], uint64(o.ProposalPoint))
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(o.ConsensusPoint))
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(o.Timestamp.UnixNano()))
	buf = append(buf, scratch[:]...)
	return cell.HashBytes(buf)
}

// Belief is a peer's view of the network: the latest signed Order it has
// seen from every peer key it knows about, keyed by that peer's account
// key hash. A Belief is what gets gossiped wholesale or as a
// novelty delta.
type Belief struct {
	Orders map[cell.Hash]Order
	Keys   map[cell.Hash]PeerKey // hash(key) -> key, recovers the PeerKey for iteration
}

func NewBelief() Belief {
	return Belief{Orders: map[cell.Hash]Order{}, Keys: map[cell.Hash]PeerKey{}}
}

// WithOrder returns a new Belief with peer's order set to o. Beliefs are
// never mutated in place — each merge step produces a fresh value.
func (b Belief) WithOrder(peer PeerKey, o Order) Belief {
	nb := Belief{
		Orders: make(map[cell.Hash]Order, len(b.Orders)+1),
		Keys:   make(map[cell.Hash]PeerKey, len(b.Keys)+1),
	}
	for k, v := range b.Orders {
		nb.Orders[k] = v
	}
	for k, v := range b.Keys {
		nb.Keys[k] = v
	}
	h := cell.HashOf(peer)
	nb.Orders[h] = o
	nb.Keys[h] = peer
	return nb
}

func (b Belief) Order(peer PeerKey) (Order, bool) {
	o, ok := b.Orders[cell.HashOf(peer)]
	return o, ok
}

// Hash is a content hash over every peer's order, keyed by peer key hash
// and visited in sorted order so two peers holding the same set of
// orders always agree on the value regardless of Go map iteration
// order — the belief_hash a STATUS reply and convergence checks compare.
func (b Belief) Hash() cell.Hash {
	keys := make([]cell.Hash, 0, len(b.Orders))
	for k := range b.Orders {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})
	buf := make([]byte, 0, len(keys)*64)
	for _, k := range keys {
		buf = append(buf, k[:]...)
		oh := b.Orders[k].Hash()
		buf = append(buf, oh[:]...)
	}
	return cell.HashBytes(buf)
}
