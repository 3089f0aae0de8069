package proof

import (
	"os"
	"strconv"
	"time"
)

// Config holds the session engine's tunables.
type Config struct {
	// ProofTTL is how long a completed proof stays verifiable.
	ProofTTL time.Duration
	// ProofBudget bounds the wall clock of one proving run; beyond it the
	// session is forced to failed.
	ProofBudget time.Duration
	// PollInterval and MaxPolls bound caller-side waiting in Await.
	PollInterval time.Duration
	MaxPolls     int
	// CodeAttempts bounds verification-code generation retries on conflict.
	CodeAttempts int
	// EstimatedSeconds is the advisory proving estimate returned by submit.
	EstimatedSeconds int
	// HistoryLimit caps session listings per owner.
	HistoryLimit int
}

func LoadConfig() Config {
	return Config{
		ProofTTL:         getDuration("PROOF_TTL", 365*24*time.Hour),
		ProofBudget:      getDuration("PROOF_BUDGET", 2*time.Minute),
		PollInterval:     getDuration("POLL_INTERVAL", 2*time.Second),
		MaxPolls:         getInt("MAX_POLLS", 60),
		CodeAttempts:     getInt("CODE_ATTEMPTS", 5),
		EstimatedSeconds: getInt("PROOF_ESTIMATED_SECONDS", 30),
		HistoryLimit:     getInt("PROOF_HISTORY_LIMIT", 50),
	}
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
