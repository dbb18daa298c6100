// Package params holds peer-wide tunables: consensus thresholds, juice
// costs, and schedule/network sizing limits, loaded godotenv-first with
// environment variables overriding.
package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Juice names the cost, in juice units, of each op/primitive category.
// Concrete values are implementation parameters, not part of the
// state-transition's observable semantics — any peer running a different
// Juice table simply disagrees about how much a transaction costs, not
// about what it does.
type Juice struct {
	Constant             uint64
	Lookup               uint64
	LookupDynamic        uint64
	BuildData            uint64
	BuildPerElement      uint64
	Invoke               uint64
	ActorCall            uint64
	Def                  uint64
	Cond                 uint64
	BaseTransactionJuice uint64
}

func defaultJuice() Juice {
	return Juice{
		Constant:             1,
		Lookup:               5,
		LookupDynamic:        20,
		BuildData:            10,
		BuildPerElement:      2,
		Invoke:               10,
		ActorCall:            100,
		Def:                  15,
		Cond:                 2,
		BaseTransactionJuice: 100,
	}
}

// Consensus holds belief-gossip merge thresholds and propagator timing.
type Consensus struct {
	// ProposalThreshold is the minimum stake fraction (of total effective
	// stake) that must agree on a block prefix to advance proposal_point.
	ProposalThreshold float64
	// ConsensusThreshold is the stricter fraction required to advance
	// consensus_point over an already-proposed prefix.
	ConsensusThreshold float64
	MinBroadcastPeriod time.Duration
	FullBeliefPeriod   time.Duration
	RebroadcastIdle    time.Duration
}

type Node struct {
	SingleNode   bool
	MinBlockTime time.Duration
}

// Limits bounds resource use per transaction and per block, the a-priori
// caps that make block processing time and memory footprint bounded.
type Limits struct {
	MaxSupply                        uint64
	MaxDepth                         int
	MaxTransactionJuice              uint64
	MaxTransactionsPerBlock          int
	MaxScheduledTransactionsPerBlock int
	MemoryPoolGrowthInterval         time.Duration
	MemoryPoolGrowthIncrement        uint64
	MinimumEffectiveStake            uint64
}

func defaultLimits() Limits {
	return Limits{
		MaxSupply:                        1_000_000_000_000_000_000,
		MaxDepth:                         256,
		MaxTransactionJuice:              10_000_000,
		MaxTransactionsPerBlock:          2000,
		MaxScheduledTransactionsPerBlock: 200,
		MemoryPoolGrowthInterval:         30 * 24 * time.Hour,
		MemoryPoolGrowthIncrement:        1 << 30,
		MinimumEffectiveStake:            1_000_000,
	}
}

type Config struct {
	Consensus Consensus
	Node      Node
	Juice     Juice
	Limits    Limits
}

func Default() Config {
	return Config{
		Consensus: Consensus{
			ProposalThreshold:  0.5,
			ConsensusThreshold: 2.0 / 3.0,
			MinBroadcastPeriod: 10 * time.Millisecond,
			FullBeliefPeriod:   500 * time.Millisecond,
			RebroadcastIdle:    300 * time.Millisecond,
		},
		Node: Node{
			SingleNode:   true,
			MinBlockTime: 200 * time.Millisecond,
		},
		Juice:  defaultJuice(),
		Limits: defaultLimits(),
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CONSENSUS_PROPOSAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Consensus.ProposalThreshold = f
		}
	}
	if v := os.Getenv("CONSENSUS_CONSENSUS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Consensus.ConsensusThreshold = f
		}
	}
	if v := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SINGLE_NODE"); v != "" {
		cfg.Node.SingleNode = v == "true"
	}
	if v := os.Getenv("LIMITS_MAX_TRANSACTIONS_PER_BLOCK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxTransactionsPerBlock = n
		}
	}
	if v := os.Getenv("LIMITS_MINIMUM_EFFECTIVE_STAKE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Limits.MinimumEffectiveStake = n
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
