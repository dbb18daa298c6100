// Command node runs one Convex peer: it loads configuration and a
// signing identity, opens (or creates) a content-addressed store, joins
// the libp2p gossip network, and serves the STATUS/tx/WebSocket API.
// Wiring order is config, keys, storage, network, engine, API server,
// signal-driven shutdown — with the engine being a belief propagator
// driving a single content-addressed peer Node.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"convex.dev/node/params"
	"convex.dev/node/pkg/api"
	"convex.dev/node/pkg/ckey"
	"convex.dev/node/pkg/consensus"
	"convex.dev/node/pkg/cvm/state"
	"convex.dev/node/pkg/p2p"
	"convex.dev/node/pkg/peer"
	"convex.dev/node/pkg/store"
	"convex.dev/node/pkg/util"
	"go.uber.org/zap"
)

func main() {
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/node.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	signer, err := loadOrGenerateSigner(sugar)
	if err != nil {
		sugar.Fatalw("signer_init_failed", "err", err)
	}
	sugar.Infow("identity", "peer_key", signer.PublicKeyHex())

	st, err := openStore(os.Getenv("DATA_DIR"))
	if err != nil {
		sugar.Fatalw("store_init_failed", "err", err)
	}
	if closer, ok := st.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	genesis := buildGenesis(cfg, signer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	net, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
		ListenAddr: getenvDefault("LISTEN_ADDR", "/ip4/0.0.0.0/tcp/0"),
		Bootstrap:  splitNonEmpty(os.Getenv("BOOTSTRAP_PEERS")),
		SelfKey:    consensus.PeerKey(signer.AccountKey()),
		Store:      st,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("libp2p_init_failed", "err", err)
	}

	node := peer.New(cfg, signer, st, genesis, net, sugar)

	apiServer := api.NewServer(node, sugar)
	apiAddr := getenvDefault("API_ADDR", ":8080")
	go func() {
		sugar.Infow("api_server_starting", "addr", apiAddr)
		if err := apiServer.Start(apiAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_starting",
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds(),
		"proposal_threshold", cfg.Consensus.ProposalThreshold,
		"consensus_threshold", cfg.Consensus.ConsensusThreshold)

	if err := node.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("shutdown complete")
}

// buildGenesis constructs genesis world state and registers this peer as
// its own validator at the configured minimum effective stake — the
// single-node bootstrapping path.
func buildGenesis(cfg params.Config, signer *ckey.Signer) state.State {
	g := state.NewGenesis(cfg.Juice.BaseTransactionJuice)
	key := signer.AccountKey()
	acct := state.NewAccountStatus(&key).WithBalance(cfg.Limits.MaxSupply)
	g, addr := g.CreateAccount(acct)
	g = g.WithPeer(key, state.NewPeerStatus(addr, cfg.Limits.MinimumEffectiveStake))
	return g
}

func loadOrGenerateSigner(sugar *zap.SugaredLogger) (*ckey.Signer, error) {
	if hexKey := os.Getenv("NODE_PRIVATE_KEY"); hexKey != "" {
		return ckey.FromPrivateKeyHex(hexKey)
	}
	sugar.Infow("no_private_key_configured_generating_ephemeral")
	return ckey.GenerateKey()
}

func openStore(dataDir string) (store.Store, error) {
	if dataDir == "" {
		return store.NewMemStore(), nil
	}
	return store.NewPebbleStore(dataDir)
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
