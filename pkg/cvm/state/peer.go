package state

import (
	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/cell/coll"
)

// PeerStatus is one peer's stake and metadata record.
type PeerStatus struct {
	controller      Address
	peerStake       uint64
	delegatedStakes coll.BlobMap // address -> stake (as LongCell)
	metadata        coll.HashMap // incl. :url
}

func NewPeerStatus(controller Address, stake uint64) PeerStatus {
	return PeerStatus{
		controller:      controller,
		peerStake:       stake,
		delegatedStakes: coll.EmptyBlobMap,
		metadata:        coll.EmptyMap,
	}
}

func (p PeerStatus) Controller() Address { return p.controller }
func (p PeerStatus) PeerStake() uint64   { return p.peerStake }

// TotalStake is peer_stake plus every delegated stake.
func (p PeerStatus) TotalStake() uint64 {
	total := p.peerStake
	for _, e := range p.delegatedStakes.Entries() {
		v, ok := e.Value().Value()
		if !ok {
			continue
		}
		total += uint64(v.(cell.LongCell))
	}
	return total
}

func (p PeerStatus) WithDelegatedStake(delegator Address, amount uint64) PeerStatus {
	p.delegatedStakes = p.delegatedStakes.Assoc(
		cell.NewRef(delegator.Cell()),
		cell.NewRef(cell.LongCell(amount)),
	)
	return p
}

func (p PeerStatus) URL() (string, bool) {
	urlKw, _ := cell.NewKeyword("url")
	v, ok := p.metadata.Get(cell.NewRef(urlKw))
	if !ok {
		return "", false
	}
	c, _ := v.Value()
	sc, ok := c.(cell.StringCell)
	if !ok {
		return "", false
	}
	return sc.String(), true
}

func (p PeerStatus) WithURL(url string) PeerStatus {
	urlKw, _ := cell.NewKeyword("url")
	sc, _ := cell.NewString(url)
	p.metadata = p.metadata.Assoc(cell.NewRef(urlKw), cell.NewRef(sc))
	return p
}

// PeerStatus is modeled as a cell.RecordCell under RecordPeerStatus, the
// same wrap-not-rewrite treatment AccountStatus gets — peer rows hash
// and round-trip through Store without changing their accessor-method
// shape.
func (p PeerStatus) record() cell.RecordCell {
	return cell.NewRecord(cell.RecordPeerStatus, []cell.Ref{
		cell.NewRef(p.controller.Cell()),
		cell.NewRef(cell.LongCell(int64(p.peerStake))),
		cell.NewRef(p.delegatedStakes),
		cell.NewRef(p.metadata),
	})
}

func (p PeerStatus) Tag() cell.Tag         { return cell.TagRecord }
func (p PeerStatus) Encode(w *cell.Writer) { p.record().Encode(w) }
func (p PeerStatus) ChildRefs() []cell.Ref { return p.record().ChildRefs() }
func (p PeerStatus) MemSize() uint64       { return p.record().MemSize() }

func (p PeerStatus) Hash() cell.Hash { return cell.HashOf(p) }

// PeerStatusFromRecord rebuilds a PeerStatus from a RecordPeerStatus cell.
func PeerStatusFromRecord(r cell.RecordCell) (PeerStatus, error) {
	if r.Kind() != cell.RecordPeerStatus || r.NumFields() != 4 {
		return PeerStatus{}, cell.ErrBadFormat("state: not a PeerStatus record")
	}
	p := PeerStatus{delegatedStakes: coll.EmptyBlobMap, metadata: coll.EmptyMap}
	if v, ok := r.Field(0).Value(); ok {
		if ac, ok := v.(cell.AddressCell); ok {
			p.controller = Address(ac)
		}
	}
	if v, ok := r.Field(1).Value(); ok {
		if l, ok := v.(cell.LongCell); ok {
			p.peerStake = uint64(l)
		}
	}
	if v, ok := r.Field(2).Value(); ok {
		if m, ok := v.(coll.BlobMap); ok {
			p.delegatedStakes = m
		}
	}
	if v, ok := r.Field(3).Value(); ok {
		if m, ok := v.(coll.HashMap); ok {
			p.metadata = m
		}
	}
	return p, nil
}
