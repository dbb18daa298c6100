package p2p

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/consensus"
	"convex.dev/node/pkg/store"
	"convex.dev/node/pkg/wire"
)

// Topic and protocol IDs: beliefs and raw cell data are gossiped over
// pubsub, point-to-point MISSING_DATA/RESPONSE exchanges go over a direct
// stream protocol — a broadcast-vs-unicast split.
const (
	topicBelief     = "convex/belief/1.0.0"
	topicData       = "convex/data/1.0.0"
	protocolRequest = protocol.ID("/convex/request/1.0.0")
)

// Libp2pNet carries Convex's belief-gossip and data-gossip traffic over
// go-libp2p + go-libp2p-pubsub: gossip topics for broadcast, a direct
// stream protocol for point-to-point replies. wire.Message envelopes
// carry Beliefs and content-addressed cells rather than the
// gob-encoded HotStuff Propose/Prepare/Vote payloads an earlier engine
// used.
type Libp2pNet struct {
	h     host.Host
	ps    *pubsub.PubSub
	log   *zap.SugaredLogger
	self  consensus.PeerKey
	store store.Store

	tBelief, tData     *pubsub.Topic
	subBelief, subData *pubsub.Subscription

	muH     sync.RWMutex
	onBelief func(from consensus.PeerKey, b consensus.Belief)

	nextID atomic.Uint64
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	SelfKey    consensus.PeerKey
	Store      store.Store
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	net := &Libp2pNet{h: h, ps: ps, log: cfg.Logger, self: cfg.SelfKey, store: cfg.Store}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := net.joinTopics(ctx); err != nil {
		return nil, err
	}

	h.SetStreamHandler(protocolRequest, net.handleRequestStream)

	go net.handleBelief(ctx)
	go net.handleData(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return net, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) joinTopics(ctx context.Context) error {
	var err error
	if n.tBelief, err = n.ps.Join(topicBelief); err != nil {
		return err
	}
	if n.tData, err = n.ps.Join(topicData); err != nil {
		return err
	}
	if n.subBelief, err = n.tBelief.Subscribe(); err != nil {
		return err
	}
	if n.subData, err = n.tData.Subscribe(); err != nil {
		return err
	}
	return nil
}

func (n *Libp2pNet) Host() host.Host { return n.h }

// ---- consensus.Network ----

func (n *Libp2pNet) BroadcastBelief(ctx context.Context, b consensus.Belief) error {
	encoded, err := consensus.EncodeBelief(b)
	if err != nil {
		return err
	}
	payload := cell.NewRef(cell.NewBlob(encoded))
	msg := wire.NewMessage(n.nextID.Add(2), wire.Belief, payload)
	return n.tBelief.Publish(ctx, wire.Encode(msg))
}

func (n *Libp2pNet) SetBeliefHandler(h func(from consensus.PeerKey, b consensus.Belief)) {
	n.muH.Lock()
	n.onBelief = h
	n.muH.Unlock()
}

// BroadcastData gossips novel, non-embedded cells to peers that may be
// missing them — the store-level analogue of a belief
// broadcast.
func (n *Libp2pNet) BroadcastData(ctx context.Context, cells ...cell.Cell) error {
	msg := wire.NewMessage(n.nextID.Add(2), wire.Data, cell.Ref{}).WithNovelty(cells...)
	return n.tData.Publish(ctx, wire.Encode(msg))
}

// RequestMissingData asks peer directly (unicast) for the cell under h,
// using the same direct-stream protocol as other point-to-point
// MISSING_DATA/RESPONSE exchanges.
func (n *Libp2pNet) RequestMissingData(ctx context.Context, target peer.ID, h cell.Hash) (cell.Cell, error) {
	req := wire.NewMessage(n.nextID.Add(1), wire.MissingData, cell.NewRef(cell.NewBlob(h[:])))
	stream, err := n.h.NewStream(ctx, target, protocolRequest)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	if _, err := stream.Write(wire.Encode(req)); err != nil {
		return nil, err
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}
	resp, err := wire.Decode(data)
	if err != nil {
		return nil, err
	}
	if resp.Type != wire.Response || len(resp.Novelty) == 0 {
		return nil, errors.New("p2p: peer had no data for requested hash")
	}
	return resp.Novelty[0], nil
}

// ---- inbound ----

func (n *Libp2pNet) handleBelief(ctx context.Context) {
	for {
		raw, err := n.subBelief.Next(ctx)
		if err != nil {
			return
		}
		msg, err := wire.Decode(raw.Data)
		if err != nil || msg.Type != wire.Belief {
			continue
		}
		blobVal, ok := msg.Payload.Value()
		if !ok {
			continue
		}
		blob, ok := blobVal.(cell.BlobCell)
		if !ok {
			continue
		}
		belief, err := consensus.DecodeBelief(blob.Bytes())
		if err != nil {
			if n.log != nil {
				n.log.Warnw("belief_decode_failed", "err", err)
			}
			continue
		}

		n.muH.RLock()
		h := n.onBelief
		n.muH.RUnlock()
		if h != nil {
			h(consensus.PeerKey{}, belief) // source peer key travels inside each signed Order
		}
	}
}

func (n *Libp2pNet) handleData(ctx context.Context) {
	for {
		raw, err := n.subData.Next(ctx)
		if err != nil {
			return
		}
		msg, err := wire.Decode(raw.Data)
		if err != nil || msg.Type != wire.Data {
			continue
		}
		if n.store == nil {
			continue
		}
		for _, c := range msg.Novelty {
			n.store.Put(c, cell.StatusAnnounced)
		}
	}
}

// handleRequestStream answers unicast MISSING_DATA requests from the
// local store, replying RESPONSE with the resolved cell as novelty, or an
// empty RESPONSE if the hash is unknown locally.
func (n *Libp2pNet) handleRequestStream(s network.Stream) {
	defer s.Close()

	data, err := io.ReadAll(s)
	if err != nil {
		return
	}
	req, err := wire.Decode(data)
	if err != nil || req.Type != wire.MissingData {
		return
	}
	hashVal, ok := req.Payload.Value()
	if !ok {
		return
	}
	blob, ok := hashVal.(cell.BlobCell)
	if !ok || blob.Len() != cell.HashSize {
		return
	}
	h, err := cell.HashFromBytes(blob.Bytes())
	if err != nil {
		return
	}

	resp := wire.NewMessage(req.ID+1, wire.Response, cell.Ref{})
	if n.store != nil {
		if ref, ok := n.store.Get(h); ok {
			if v, ok := ref.Value(); ok {
				resp = resp.WithNovelty(v)
			}
		}
	}
	_, _ = s.Write(wire.Encode(resp))
}
