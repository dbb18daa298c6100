package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"convex.dev/node/pkg/cell"
	"convex.dev/node/pkg/consensus"
	"convex.dev/node/pkg/store"
)

func newTestNet(t *testing.T, st store.Store) *Libp2pNet {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	net, err := NewLibp2pNet(ctx, Libp2pConfig{
		ListenAddr: "/ip4/127.0.0.1/tcp/0",
		Store:      st,
	})
	if err != nil {
		t.Fatalf("NewLibp2pNet: %v", err)
	}
	t.Cleanup(func() { net.Host().Close() })
	return net
}

func connect(t *testing.T, a, b *Libp2pNet) {
	t.Helper()
	info := peer.AddrInfo{ID: b.Host().ID(), Addrs: b.Host().Addrs()}
	if err := a.Host().Connect(context.Background(), info); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func TestRequestMissingDataRoundTrip(t *testing.T) {
	want := cell.NewBlob([]byte("hello from the other peer"))
	h := cell.HashOf(want)

	serverStore := store.NewMemStore()
	serverStore.Put(want, cell.StatusStored)

	server := newTestNet(t, serverStore)
	client := newTestNet(t, store.NewMemStore())
	connect(t, client, server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.RequestMissingData(ctx, server.Host().ID(), h)
	if err != nil {
		t.Fatalf("RequestMissingData: %v", err)
	}
	blob, ok := got.(cell.BlobCell)
	if !ok {
		t.Fatalf("expected BlobCell, got %T", got)
	}
	if string(blob.Bytes()) != string(want.Bytes()) {
		t.Fatalf("got %q, want %q", blob.Bytes(), want.Bytes())
	}
}

func TestRequestMissingDataUnknownHash(t *testing.T) {
	server := newTestNet(t, store.NewMemStore())
	client := newTestNet(t, store.NewMemStore())
	connect(t, client, server)

	var zero cell.Hash
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.RequestMissingData(ctx, server.Host().ID(), zero); err == nil {
		t.Fatal("expected an error for an unknown hash")
	}
}

func TestSetBeliefHandlerStoresHandler(t *testing.T) {
	net := newTestNet(t, store.NewMemStore())
	called := make(chan struct{}, 1)
	net.SetBeliefHandler(func(from consensus.PeerKey, b consensus.Belief) {
		called <- struct{}{}
	})
	net.muH.RLock()
	h := net.onBelief
	net.muH.RUnlock()
	if h == nil {
		t.Fatal("expected handler to be stored")
	}
	h(consensus.PeerKey{}, consensus.Belief{})
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}
