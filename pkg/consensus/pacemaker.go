package consensus

import (
	"context"
	"sync/atomic"

	"convex.dev/node/pkg/ckey"
	"convex.dev/node/pkg/cvm/txn"
	"convex.dev/node/pkg/util"
	"convex.dev/node/params"
	"go.uber.org/zap"
)

// Network is the belief-gossip transport a Propagator drives: outbound
// broadcast plus inbound handler registration, carrying Beliefs rather
// than individual votes.
type Network interface {
	BroadcastBelief(ctx context.Context, b Belief) error
	SetBeliefHandler(h func(from PeerKey, b Belief))
}

// AppHook lets the propagator apply newly-committed blocks without
// depending on the txn-applying node loop directly — the seam between
// consensus and application state.
type AppHook interface {
	ApplyBlock(b txn.Block)
}

// Propagator runs the belief propagator loop: merge incoming beliefs,
// apply newly committed blocks, and rebroadcast on a fixed cadence —
// minimum broadcast period, full-belief period, and a rebroadcast-if-idle
// timer, all driven off util.Clock so tests can inject a fake clock.
type Propagator struct {
	Self    PeerKey
	Signer  *ckey.Signer
	Net     Network
	App     AppHook
	Clock   util.Clock
	Timers  params.Consensus
	Logger  *zap.SugaredLogger
	Weights func() StakeWeights

	incoming  chan Belief
	proposals chan txn.Block
	belief    Belief
	snapshot  atomic.Value // Belief, published at the end of every Run iteration

	lastCommitted int // consensus_point already applied to App
}

// Snapshot returns the propagator's most recently published belief — safe
// to call from any goroutine (status endpoints, stake-weight lookups),
// unlike the loop-owned belief field itself.
func (p *Propagator) Snapshot() Belief {
	if v := p.snapshot.Load(); v != nil {
		return v.(Belief)
	}
	return NewBelief()
}

func NewPropagator(self PeerKey, signer *ckey.Signer, net Network, app AppHook, clock util.Clock, timers params.Consensus) *Propagator {
	p := &Propagator{
		Self:      self,
		Signer:    signer,
		Net:       net,
		App:       app,
		Clock:     clock,
		Timers:    timers,
		incoming:  make(chan Belief, 64),
		proposals: make(chan txn.Block, 64),
		belief:    NewBelief(),
	}
	net.SetBeliefHandler(func(from PeerKey, b Belief) {
		select {
		case p.incoming <- b:
		default:
			// queue full under load; the next full-belief broadcast will
			// resynchronize the slow peer.
		}
	})
	return p
}

// ProposeBlock hands the transaction handler's next batch to the
// propagator loop, which appends it to this peer's own order on its next
// turn through Run's select. Non-blocking: a full queue means the loop is
// falling behind and the caller should back off rather than stall its own
// goroutine.
func (p *Propagator) ProposeBlock(b txn.Block) bool {
	select {
	case p.proposals <- b:
		return true
	default:
		return false
	}
}

// Run drains incoming beliefs, merges them, applies any newly committed
// blocks, and rebroadcasts — cooperative cancellation via ctx, no shared
// mutable state beyond the propagator's own belief value.
func (p *Propagator) Run(ctx context.Context, thresholds params.Consensus) error {
	minBroadcast := p.Clock.After(thresholds.MinBroadcastPeriod)
	fullBelief := p.Clock.After(thresholds.FullBeliefPeriod)
	idle := p.Clock.After(thresholds.RebroadcastIdle)
	changed := false

	p.snapshot.Store(p.belief)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case in := <-p.incoming:
			weights := StakeWeights{}
			if p.Weights != nil {
				weights = p.Weights()
			}
			next := MergeBelief(p.belief, in, p.Self, p.Signer, weights, thresholds)
			p.commitNewlyAgreed(next)
			p.belief = next
			p.snapshot.Store(p.belief)
			changed = true
			if p.Logger != nil {
				if o, ok := next.Order(p.Self); ok {
					p.Logger.Debugw("belief_merged", "proposal_point", o.ProposalPoint, "consensus_point", o.ConsensusPoint)
				}
			}

		case blk := <-p.proposals:
			self, _ := p.belief.Order(p.Self)
			self.Blocks = append(append([]txn.Block(nil), self.Blocks...), blk)
			self.Timestamp = p.Clock.Now()
			weights := StakeWeights{}
			if p.Weights != nil {
				weights = p.Weights()
			}
			self = recomputeOwnOrder(self, p.belief, weights, thresholds)
			self.Signature = p.Signer.Sign(signedOrderPayload(self))
			p.belief = p.belief.WithOrder(p.Self, self)
			p.snapshot.Store(p.belief)
			p.commitNewlyAgreed(p.belief)
			changed = true

		case <-minBroadcast:
			minBroadcast = p.Clock.After(thresholds.MinBroadcastPeriod)
			if changed {
				_ = p.Net.BroadcastBelief(ctx, p.belief)
				changed = false
				idle = p.Clock.After(thresholds.RebroadcastIdle)
			}

		case <-fullBelief:
			fullBelief = p.Clock.After(thresholds.FullBeliefPeriod)
			_ = p.Net.BroadcastBelief(ctx, p.belief)

		case <-idle:
			idle = p.Clock.After(thresholds.RebroadcastIdle)
			if changed {
				_ = p.Net.BroadcastBelief(ctx, p.belief)
				changed = false
			}
		}
	}
}

// commitNewlyAgreed applies every block between the propagator's
// previous consensus_point and the self order's new one.
func (p *Propagator) commitNewlyAgreed(b Belief) {
	self, ok := b.Order(p.Self)
	if !ok {
		return
	}
	for self.ConsensusPoint > p.lastCommitted && p.lastCommitted < len(self.Blocks) {
		if p.App != nil {
			p.App.ApplyBlock(self.Blocks[p.lastCommitted])
		}
		p.lastCommitted++
	}
}
