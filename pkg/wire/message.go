// Package wire defines the peer-to-peer message envelope: a message
// id, a MessageType, a payload cell, and a delta-bag of novel cells the
// sender believes the receiver has not seen. Earlier envelope types
// (ProposalWire/PrepareWire/VoteWire) were gob-registered and carried
// encoded consensus values directly; this is re-expressed over the cell
// canonical encoding instead of gob, since every payload here is already
// a Cell with its own encode/decode contract.
package wire

import (
	"convex.dev/node/pkg/cell"
)

// MessageType identifies a message envelope's payload shape.
type MessageType byte

const (
	Belief MessageType = iota
	Data
	MissingData
	Query
	Transact
	Result
	Status
	Challenge
	Response
	Goodbye
	Command
)

func (t MessageType) String() string {
	switch t {
	case Belief:
		return "BELIEF"
	case Data:
		return "DATA"
	case MissingData:
		return "MISSING_DATA"
	case Query:
		return "QUERY"
	case Transact:
		return "TRANSACT"
	case Result:
		return "RESULT"
	case Status:
		return "STATUS"
	case Challenge:
		return "CHALLENGE"
	case Response:
		return "RESPONSE"
	case Goodbye:
		return "GOODBYE"
	case Command:
		return "COMMAND"
	default:
		return "UNKNOWN"
	}
}

// Message is one envelope exchanged between peers: an id the sender
// picks (Libp2pNet draws broadcast and request ids from one counter, and
// a RESPONSE carries the request's id plus one; no parity rule is kept), a
// type, a payload cell, and a novelty bag — non-embedded cells the payload
// references that the sender includes inline so a receiver who lacks them
// doesn't have to round-trip a MISSING_DATA request for common cases like
// a freshly-gossiped belief.
type Message struct {
	ID      uint64
	Type    MessageType
	Payload cell.Ref
	Novelty []cell.Cell
}

// NewMessage builds a message with no novelty bag.
func NewMessage(id uint64, t MessageType, payload cell.Ref) Message {
	return Message{ID: id, Type: t, Payload: payload}
}

// WithNovelty attaches a delta-bag of cells the receiver may be missing.
func (m Message) WithNovelty(cells ...cell.Cell) Message {
	m.Novelty = append(append([]cell.Cell(nil), m.Novelty...), cells...)
	return m
}

// Encode writes m's canonical wire representation: id, type, payload ref,
// then the novelty bag as a count-prefixed sequence of full cell
// encodings (never embedded-as-ref — the whole point of the bag is to
// hand over cells the receiver can't resolve by hash yet).
func Encode(m Message) []byte {
	w := cell.NewWriter()
	w.Uvarint(m.ID)
	w.Byte(byte(m.Type))
	w.Ref(m.Payload)
	w.Uvarint(uint64(len(m.Novelty)))
	for _, c := range m.Novelty {
		enc := cell.Encode(c)
		w.Uvarint(uint64(len(enc)))
		w.Bytes(enc)
	}
	return w.Bytes_()
}

// Decode parses a Message previously produced by Encode.
func Decode(b []byte) (Message, error) {
	r := cell.NewReader(b)
	id, err := r.Uvarint()
	if err != nil {
		return Message{}, err
	}
	tb, err := r.Byte()
	if err != nil {
		return Message{}, err
	}
	payload, err := r.Ref()
	if err != nil {
		return Message{}, err
	}
	n, err := r.Uvarint()
	if err != nil {
		return Message{}, err
	}
	novelty := make([]cell.Cell, 0, n)
	for i := uint64(0); i < n; i++ {
		size, err := r.Uvarint()
		if err != nil {
			return Message{}, err
		}
		raw, err := r.Bytes(int(size))
		if err != nil {
			return Message{}, err
		}
		c, err := cell.Decode(raw)
		if err != nil {
			return Message{}, err
		}
		novelty = append(novelty, c)
	}
	if r.Remaining() != 0 {
		return Message{}, cell.ErrBadFormat("trailing bytes after message")
	}
	return Message{ID: id, Type: MessageType(tb), Payload: payload, Novelty: novelty}, nil
}
