package consensus

import (
	"sort"
	"time"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/txn"
)

// EncodeBelief and DecodeBelief give Belief a wire representation so
// the propagator loop can hand one to a Network implementation. Orders are
// written in ascending peer-key-hash order so two peers holding the same
// Belief value produce byte-identical output, matching the merge rule's
// own determinism. Block and transaction encoding is delegated
// to txn.EncodeBlock/txn.DecodeBlock rather than duplicated here.
func EncodeBelief(b Belief) ([]byte, error) {
	w := cell.NewWriter()

	hashes := make([]cell.Hash, 0, len(b.Orders))
	for h := range b.Orders {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return less(hashes[i], hashes[j]) })

	w.Uvarint(uint64(len(hashes)))
	for _, h := range hashes {
		peer, ok := b.Keys[h]
		if !ok {
			return nil, cell.ErrBadFormat("consensus: belief missing key for order hash %s", h)
		}
		w.Bytes(peer[:])
		if err := encodeOrder(w, b.Orders[h]); err != nil {
			return nil, err
		}
	}
	return w.Bytes_(), nil
}

func DecodeBelief(data []byte) (Belief, error) {
	r := cell.NewReader(data)
	n, err := r.Uvarint()
	if err != nil {
		return Belief{}, err
	}
	belief := NewBelief()
	for i := uint64(0); i < n; i++ {
		keyBytes, err := r.Bytes(32)
		if err != nil {
			return Belief{}, err
		}
		var peer PeerKey
		copy(peer[:], keyBytes)
		order, err := decodeOrder(r)
		if err != nil {
			return Belief{}, err
		}
		belief = belief.WithOrder(peer, order)
	}
	if r.Remaining() != 0 {
		return Belief{}, cell.ErrBadFormat("consensus: trailing bytes after belief")
	}
	return belief, nil
}

func encodeOrder(w *cell.Writer, o Order) error {
	w.Uvarint(uint64(len(o.Blocks)))
	for _, blk := range o.Blocks {
		if err := txn.EncodeBlock(w, blk); err != nil {
			return err
		}
	}
	w.Uvarint(uint64(o.ProposalPoint))
	w.Uvarint(uint64(o.ConsensusPoint))
	w.Varint(o.Timestamp.UnixNano())
	w.Uvarint(uint64(len(o.Signature)))
	w.Bytes(o.Signature)
	return nil
}

func decodeOrder(r *cell.Reader) (Order, error) {
	nb, err := r.Uvarint()
	if err != nil {
		return Order{}, err
	}
	blocks := make([]txn.Block, 0, nb)
	for i := uint64(0); i < nb; i++ {
		blk, err := txn.DecodeBlock(r)
		if err != nil {
			return Order{}, err
		}
		blocks = append(blocks, blk)
	}
	proposal, err := r.Uvarint()
	if err != nil {
		return Order{}, err
	}
	consensusPoint, err := r.Uvarint()
	if err != nil {
		return Order{}, err
	}
	ts, err := r.Varint()
	if err != nil {
		return Order{}, err
	}
	sigLen, err := r.Uvarint()
	if err != nil {
		return Order{}, err
	}
	sig, err := r.Bytes(int(sigLen))
	if err != nil {
		return Order{}, err
	}
	return Order{
		Blocks:         blocks,
		ProposalPoint:  int(proposal),
		ConsensusPoint: int(consensusPoint),
		Timestamp:      time.Unix(0, ts),
		Signature:      append([]byte(nil), sig...),
	}, nil
}
