package consensus

import (
	"time"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/ckey"
	"convex.dev/node/pkg/cvm/state"
	"convex.dev/node/pkg/cvm/txn"
	"convex.dev/node/params"
)

// StakeWeights maps a peer key hash to its effective stake, the
// denominator the merge rule's super-majority thresholds are measured
// against. Computed once per round from the current world state.
type StakeWeights map[cell.Hash]uint64

func WeightsFromState(s state.State, keys map[cell.Hash]PeerKey) StakeWeights {
	w := make(StakeWeights, len(keys))
	for h, key := range keys {
		if p, ok := s.Peer(key); ok {
			w[h] = p.TotalStake()
		}
	}
	return w
}

func (w StakeWeights) total() uint64 {
	var t uint64
	for _, v := range w {
		t += v
	}
	return t
}

// MergeBelief folds incoming into own, producing the next own belief and
// then recomputing selfKey's own order. The merge is a pure
// function of (own, incoming, weights); run it identically on every peer
// and the result converges.
func MergeBelief(own Belief, incoming Belief, selfKey PeerKey, signer *ckey.Signer, weights StakeWeights, cfg params.Consensus) Belief {
	merged := own
	for h, order := range incoming.Orders {
		peerKey, ok := incoming.Keys[h]
		if !ok {
			continue
		}
		cur, have := merged.Order(peerKey)
		if !have {
			merged = merged.WithOrder(peerKey, order)
			continue
		}
		if adoptIncoming(cur, order, ckey.Verify(peerKey, signedOrderPayload(order), order.Signature)) {
			merged = merged.WithOrder(peerKey, order)
		}
	}

	selfOrder, _ := merged.Order(selfKey)
	selfOrder = recomputeOwnOrder(selfOrder, merged, weights, cfg)
	selfOrder.Signature = signer.Sign(signedOrderPayload(selfOrder))
	merged = merged.WithOrder(selfKey, selfOrder)
	return merged
}

// adoptIncoming applies the adoption rule: adopt the incoming order
// only if its signature verifies and it is both newer and has a
// consensus_point no smaller than what's currently held.
func adoptIncoming(cur, incoming Order, sigValid bool) bool {
	if !sigValid {
		return false
	}
	if !incoming.Timestamp.After(cur.Timestamp) {
		return false
	}
	return incoming.ConsensusPoint >= cur.ConsensusPoint
}

// recomputeOwnOrder advances proposal_point and consensus_point by
// finding the largest block-count prefix a super-majority of stake
// agrees on. Agreement on a prefix of length p means a peer's
// order has at least p blocks and those p blocks, hashed, match.
func recomputeOwnOrder(self Order, b Belief, weights StakeWeights, cfg params.Consensus) Order {
	total := weights.total()
	if total == 0 {
		return self
	}

	maxLen := len(self.Blocks)
	for _, o := range b.Orders {
		if n := len(o.Blocks); n > maxLen {
			maxLen = n
		}
	}

	proposal := agreementPoint(b, weights, total, cfg.ProposalThreshold, maxLen)
	consensus := agreementPoint(b, weights, total, cfg.ConsensusThreshold, proposal)
	if consensus < self.ConsensusPoint {
		consensus = self.ConsensusPoint // consensus_point never retreats
	}
	if proposal < self.ProposalPoint {
		proposal = self.ProposalPoint
	}

	if proposal > len(self.Blocks) {
		self.Blocks = longestAgreeingOrder(b, weights, total, proposal).Blocks
	}
	self.ProposalPoint = proposal
	self.ConsensusPoint = consensus
	self.Timestamp = latestTimestamp(b)
	return self
}

// agreementPoint finds the largest p <= bound such that the stake-weighted
// fraction of peers whose order has at least p blocks, with a prefix
// matching the plurality prefix hash at each length, is at least
// threshold.
func agreementPoint(b Belief, weights StakeWeights, total uint64, threshold float64, bound int) int {
	best := 0
	for p := 1; p <= bound; p++ {
		groups := map[cell.Hash]uint64{}
		for h, order := range b.Orders {
			if len(order.Blocks) < p {
				continue
			}
			key := prefixHash(order.Blocks[:p])
			groups[key] += weights[h]
		}
		agree := false
		for _, stake := range groups {
			if float64(stake) >= threshold*float64(total) {
				agree = true
				break
			}
		}
		if agree {
			best = p
		} else {
			break
		}
	}
	return best
}

// longestAgreeingOrder returns, among orders whose first length blocks
// hit the plurality, the one with the largest backing stake — a
// deterministic tie-break (equal stake goes to the lexicographically
// smaller prefix hash; within one prefix, the order with the smaller
// Order.Hash is kept).
func longestAgreeingOrder(b Belief, weights StakeWeights, total uint64, length int) Order {
	type candidate struct {
		order Order
		stake uint64
		key   cell.Hash
	}
	best := map[cell.Hash]candidate{}
	for h, order := range b.Orders {
		if len(order.Blocks) < length {
			continue
		}
		key := prefixHash(order.Blocks[:length])
		c, seen := best[key]
		if !seen || less(order.Hash(), c.order.Hash()) {
			c.order = order
		}
		c.stake += weights[h]
		c.key = key
		best[key] = c
	}
	var winner candidate
	first := true
	for _, c := range best {
		if first || c.stake > winner.stake || (c.stake == winner.stake && less(c.key, winner.key)) {
			winner = c
			first = false
		}
	}
	return winner.order
}

func less(a, b cell.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// prefixHash folds a prefix of blocks into one comparison key so two
// peers' orders can be tested for prefix agreement without an O(n^2)
// block-by-block comparison.
func prefixHash(blocks []txn.Block) cell.Hash {
	buf := make([]byte, 0, 32*len(blocks))
	for _, blk := range blocks {
		h := blk.Hash()
		buf = append(buf, h[:]...)
	}
	return cell.HashBytes(buf)
}

func latestTimestamp(b Belief) time.Time {
	var latest time.Time
	for _, o := range b.Orders {
		if o.Timestamp.After(latest) {
			latest = o.Timestamp
		}
	}
	return latest
}

func signedOrderPayload(o Order) []byte {
	h := o.Hash()
	return h[:]
}
