package txn

import (
	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cvm/ops"
	"convex.dev/node/pkg/cvm/state"
)

// EncodeTransaction and DecodeTransaction give Transaction a wire form
// built on cell.Writer/cell.Reader's existing primitives, with the
// op tree itself carried through ops.Encode/ops.Decode. Both the belief
// codec (pkg/consensus) and the /tx submission endpoint (pkg/api) share
// this single representation rather than each inventing their own.
func EncodeTransaction(w *cell.Writer, t Transaction) error {
	w.Uvarint(uint64(t.Address))
	w.Uvarint(t.Sequence)
	w.Bytes(t.AccountKey[:])
	opBytes, err := ops.Encode(t.Op)
	if err != nil {
		return err
	}
	w.Uvarint(uint64(len(opBytes)))
	w.Bytes(opBytes)
	w.Uvarint(uint64(len(t.Signature)))
	w.Bytes(t.Signature)
	return nil
}

func DecodeTransaction(r *cell.Reader) (Transaction, error) {
	addr, err := r.Uvarint()
	if err != nil {
		return Transaction{}, err
	}
	seq, err := r.Uvarint()
	if err != nil {
		return Transaction{}, err
	}
	keyBytes, err := r.Bytes(32)
	if err != nil {
		return Transaction{}, err
	}
	var key cell.AccountKeyCell
	copy(key[:], keyBytes)
	opLen, err := r.Uvarint()
	if err != nil {
		return Transaction{}, err
	}
	opBytes, err := r.Bytes(int(opLen))
	if err != nil {
		return Transaction{}, err
	}
	op, err := ops.Decode(opBytes)
	if err != nil {
		return Transaction{}, err
	}
	sigLen, err := r.Uvarint()
	if err != nil {
		return Transaction{}, err
	}
	sig, err := r.Bytes(int(sigLen))
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		Address:    state.Address(addr),
		Sequence:   seq,
		AccountKey: key,
		Op:         op,
		Signature:  append([]byte(nil), sig...),
	}, nil
}

// EncodeBlock and DecodeBlock give Block the same wire treatment,
// folding EncodeTransaction/DecodeTransaction over its transaction list.
func EncodeBlock(w *cell.Writer, b Block) error {
	w.Uvarint(b.Timestamp)
	w.Bytes(b.PeerKey[:])
	w.Uvarint(uint64(len(b.Transactions)))
	for _, t := range b.Transactions {
		if err := EncodeTransaction(w, t); err != nil {
			return err
		}
	}
	w.Uvarint(uint64(len(b.Signature)))
	w.Bytes(b.Signature)
	return nil
}

func DecodeBlock(r *cell.Reader) (Block, error) {
	ts, err := r.Uvarint()
	if err != nil {
		return Block{}, err
	}
	peerBytes, err := r.Bytes(32)
	if err != nil {
		return Block{}, err
	}
	var peer cell.AccountKeyCell
	copy(peer[:], peerBytes)
	nt, err := r.Uvarint()
	if err != nil {
		return Block{}, err
	}
	txs := make([]Transaction, 0, nt)
	for i := uint64(0); i < nt; i++ {
		t, err := DecodeTransaction(r)
		if err != nil {
			return Block{}, err
		}
		txs = append(txs, t)
	}
	sigLen, err := r.Uvarint()
	if err != nil {
		return Block{}, err
	}
	sig, err := r.Bytes(int(sigLen))
	if err != nil {
		return Block{}, err
	}
	return Block{Timestamp: ts, PeerKey: peer, Transactions: txs, Signature: append([]byte(nil), sig...)}, nil
}

// EncodeTx and DecodeTx wrap a single Transaction as a standalone byte
// slice, the shape the /tx submission endpoint and the belief handshake
// both need for one-off transport rather than Block-embedded use.
func EncodeTx(t Transaction) ([]byte, error) {
	w := cell.NewWriter()
	if err := EncodeTransaction(w, t); err != nil {
		return nil, err
	}
	return w.Bytes_(), nil
}

func DecodeTx(b []byte) (Transaction, error) {
	r := cell.NewReader(b)
	t, err := DecodeTransaction(r)
	if err != nil {
		return Transaction{}, err
	}
	if r.Remaining() != 0 {
		return Transaction{}, cell.ErrBadFormat("txn: trailing bytes after transaction")
	}
	return t, nil
}
