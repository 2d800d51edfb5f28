package consensus

import (
	"context"
	"strings"
	"time"

	"triad-node/core"
	"triad-node/logger"
	"triad-node/metrics"

	"github.com/holiman/uint256"
)

// ProofOfWork seals checkpoint blocks by searching for a hash with a given
// number of leading zero hex digits.
type ProofOfWork struct {
	maxAttempts int
	metrics     *metrics.Metrics
}

// NewProofOfWork creates an engine with the given attempt budget per search;
// a non-positive budget means core.DefaultMaxAttempts.
func NewProofOfWork(maxAttempts int) *ProofOfWork {
	if maxAttempts <= 0 {
		maxAttempts = core.DefaultMaxAttempts
	}
	return &ProofOfWork{
		maxAttempts: maxAttempts,
		metrics:     metrics.GetMetrics(),
	}
}

func (pow *ProofOfWork) SetMetrics(m *metrics.Metrics) {
	pow.metrics = m
}

func (pow *ProofOfWork) MaxAttempts() int {
	return pow.maxAttempts
}

// MineBlock runs the search on block. Cancelling ctx stops the search and is
// reported as core.ErrProofOfWorkExhausted.
func (pow *ProofOfWork) MineBlock(ctx context.Context, block *core.Block, difficulty int) error {
	startTime := time.Now()
	hash, attempts, err := block.ProofOfWorkContext(ctx, difficulty, pow.maxAttempts)
	pow.metrics.PowAttempts.Add(float64(attempts))
	if err != nil {
		return err
	}

	elapsed := time.Since(startTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(attempts) / elapsed.Seconds()
	}
	logger.Infof("Checkpoint %d sealed at difficulty %d after %d attempts in %v (%.0f H/s). Hash: %s",
		block.Index, difficulty, attempts, elapsed, rate, hash)
	return nil
}

// ValidateProofOfWork checks that the stored hash is genuine and meets difficulty.
func (pow *ProofOfWork) ValidateProofOfWork(block *core.Block, difficulty int) bool {
	if block == nil || !block.VerifyHash() {
		return false
	}
	if difficulty < 0 || difficulty > core.MaxDifficulty {
		return false
	}
	return strings.HasPrefix(block.Hash, strings.Repeat("0", difficulty))
}

// Work is the expected number of attempts needed to find the block's hash:
// 16^z for z leading zero hex digits, saturating at 2^256-1.
func (pow *ProofOfWork) Work(block *core.Block) *uint256.Int {
	zeros := LeadingZeros(block.Hash)
	if zeros >= core.MaxDifficulty {
		return new(uint256.Int).SetAllOne()
	}
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(4*zeros))
}

// LeadingZeros counts leading '0' characters of a hex digest.
func LeadingZeros(hash string) int {
	n := 0
	for n < len(hash) && hash[n] == '0' {
		n++
	}
	return n
}
