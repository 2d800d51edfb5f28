package core_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"triad-node/consensus"
	"triad-node/core"
	"triad-node/executor"
	"triad-node/metrics"
	"triad-node/poh"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fixture struct {
	ledger    *core.Ledger
	federated *consensus.FederatedConsensus
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, validators []string, fraction float64) *fixture {
	t.Helper()
	fc, err := consensus.NewFederated(validators, fraction)
	require.NoError(t, err)

	m := metrics.New()
	pow := consensus.NewProofOfWork(0)
	pow.SetMetrics(m)

	l := core.NewLedger(&core.Config{EnableCache: true, CacheSize: 16, Workers: 2})
	l.SetMetrics(m)
	l.SetConsensus(fc)
	l.SetProofOfWork(pow)
	l.SetHistory(poh.New())
	return &fixture{ledger: l, federated: fc, metrics: m}
}

// rejectingEngine proposes blocks that never reach quorum.
type rejectingEngine struct{}

func (rejectingEngine) Propose(head core.Status, txs []*core.Transaction) *core.Block {
	return core.NewBlock(uint64(head.Height), txs, head.HeadHash, core.WithVotes([]string{"v1"}))
}
func (rejectingEngine) Validate(*core.Block, []string) bool { return false }
func (rejectingEngine) ValidVotes(*core.Block, []string) int { return 1 }
func (rejectingEngine) RequiredVotes() int { return 2 }
func (rejectingEngine) ResolveConflict([]*core.Block) (*core.Block, error) {
	return nil, &core.QuorumError{Required: 2, Best: 1}
}

func TestNewLedgerHasGenesis(t *testing.T) {
	l := core.NewLedger(nil)
	require.Equal(t, 1, l.Height())

	genesis := l.Head()
	assert.Equal(t, uint64(0), genesis.Index)
	assert.Equal(t, core.GenesisPrevHash, genesis.PrevHash)
	assert.Equal(t, core.Status{Height: 1, HeadHash: genesis.Hash}, l.Status())
	assert.Empty(t, l.PendingTransactions())
	require.NoError(t, l.Verify())
}

func TestCreateBlockByVote(t *testing.T) {
	f := newFixture(t, []string{"v1", "v2", "v3"}, 0.67)
	genesis := f.ledger.Head()

	tx, err := f.ledger.AddTransaction("alice", "bob", 10)
	require.NoError(t, err)
	_, ok := f.ledger.PendingTransaction(tx.Hash())
	require.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PendingTransactions))

	block, err := f.ledger.CreateBlockByVote()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), block.Index)
	assert.Equal(t, genesis.Hash, block.PrevHash)
	assert.Equal(t, []string{"v1", "v2", "v3"}, block.Votes)
	require.Len(t, block.Transactions, 1)
	assert.Equal(t, "alice", block.Transactions[0].Sender)

	assert.Equal(t, 2, f.ledger.Height())
	assert.Empty(t, f.ledger.PendingTransactions())
	_, ok = f.ledger.PendingTransaction(tx.Hash())
	assert.False(t, ok)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ChainHeight))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BlocksAppended.WithLabelValues("vote")))
	require.NoError(t, f.ledger.Verify())
}

func TestCreateBlockByVoteWithoutTransactions(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	block, err := f.ledger.CreateBlockByVote()
	require.NoError(t, err)
	assert.Empty(t, block.Transactions)
	assert.Equal(t, 2, f.ledger.Height())
}

func TestAddTransactionRejectsNonFinite(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	_, err := f.ledger.AddTransaction("a", "b", math.NaN())
	require.ErrorIs(t, err, core.ErrInvalidAmount)
	assert.Empty(t, f.ledger.PendingTransactions())
}

func TestCreateBlockByVoteQuorumFailureLeavesLedger(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	f.ledger.SetConsensus(rejectingEngine{})
	_, err := f.ledger.AddTransaction("a", "b", 1)
	require.NoError(t, err)
	before := f.ledger.Status()

	_, err = f.ledger.CreateBlockByVote()
	require.ErrorIs(t, err, core.ErrQuorumNotReached)
	var qerr *core.QuorumError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, 2, qerr.Required)
	assert.Equal(t, 1, qerr.Best)

	assert.Equal(t, before, f.ledger.Status())
	assert.Len(t, f.ledger.PendingTransactions(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QuorumFailures))
}

func TestEnginesNotSet(t *testing.T) {
	l := core.NewLedger(nil)
	l.SetMetrics(metrics.New())

	_, err := l.CreateBlockByVote()
	require.ErrorIs(t, err, core.ErrConsensusNotSet)
	_, err = l.ResolveAndAppend(nil)
	require.ErrorIs(t, err, core.ErrConsensusNotSet)
	_, err = l.CreatePoWCheckpoint(context.Background(), 1)
	require.ErrorIs(t, err, core.ErrProofOfWorkNotSet)
	_, err = l.PoHEvent()
	require.ErrorIs(t, err, core.ErrHistoryNotSet)
	assert.True(t, l.TotalWork().IsZero())
}

func TestCreatePoWCheckpoint(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	_, err := f.ledger.AddTransaction("a", "b", 1)
	require.NoError(t, err)

	cp, err := f.ledger.CreatePoWCheckpoint(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, cp.PowCheckpoint)
	assert.True(t, strings.HasPrefix(cp.Hash, "00"))
	assert.Empty(t, cp.Transactions)
	assert.Empty(t, cp.Votes)

	// Checkpoints do not consume pending transactions.
	assert.Len(t, f.ledger.PendingTransactions(), 1)
	assert.Equal(t, 2, f.ledger.Height())
	assert.Greater(t, testutil.ToFloat64(f.metrics.PowAttempts), 0.0)

	assert.True(t, f.ledger.TotalWork().Cmp(uint256.NewInt(256)) >= 0)
	require.NoError(t, f.ledger.Verify())
}

// racingPoW appends a voted block to the ledger during its first search.
type racingPoW struct {
	ledger *core.Ledger
	calls  int
}

func (p *racingPoW) MineBlock(ctx context.Context, block *core.Block, difficulty int) error {
	p.calls++
	if p.calls == 1 {
		if _, err := p.ledger.CreateBlockByVote(); err != nil {
			return err
		}
	}
	_, _, err := block.ProofOfWorkContext(ctx, difficulty, 0)
	return err
}

func (p *racingPoW) Work(*core.Block) *uint256.Int { return uint256.NewInt(1) }

func TestCreatePoWCheckpointResealsWhenHeadMoves(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	pow := &racingPoW{ledger: f.ledger}
	f.ledger.SetProofOfWork(pow)

	cp, err := f.ledger.CreatePoWCheckpoint(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, pow.calls)
	assert.Equal(t, uint64(2), cp.Index)

	blocks := f.ledger.Blocks()
	require.Len(t, blocks, 3)
	assert.False(t, blocks[1].PowCheckpoint)
	assert.Equal(t, blocks[1].Hash, cp.PrevHash)
	require.NoError(t, f.ledger.Verify())
}

func TestCreatePoWCheckpointExhausted(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	pow := consensus.NewProofOfWork(3)
	pow.SetMetrics(f.metrics)
	f.ledger.SetProofOfWork(pow)

	_, err := f.ledger.CreatePoWCheckpoint(context.Background(), core.MaxDifficulty)
	require.ErrorIs(t, err, core.ErrProofOfWorkExhausted)
	assert.Equal(t, 1, f.ledger.Height())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.PowAttempts))
}

func TestCreatePoWCheckpointInvalidDifficulty(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	_, err := f.ledger.CreatePoWCheckpoint(context.Background(), -1)
	require.ErrorIs(t, err, core.ErrInvalidDifficulty)
	assert.Equal(t, 1, f.ledger.Height())
}

func TestResolveAndAppendQuorum(t *testing.T) {
	f := newFixture(t, []string{"v1", "v2", "v3", "v4", "v5"}, 0.51)
	proposals := f.federated.ProposeConflicting(f.ledger.Status(), nil, [][]string{
		{"v1", "v2", "v3"},
		{"v4", "v5"},
	})

	chosen, err := f.ledger.ResolveAndAppend(proposals)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "v3"}, chosen.Votes)
	assert.Empty(t, chosen.DoubleVoters)
	assert.Equal(t, 2, f.ledger.Height())
	assert.Equal(t, chosen.Hash, f.ledger.Head().Hash)
	assert.Zero(t, testutil.ToFloat64(f.metrics.ForkSwitches))
}

func TestResolveAndAppendDoubleVote(t *testing.T) {
	f := newFixture(t, []string{"v1", "v2", "v3", "v4", "v5"}, 0.51)
	proposals := f.federated.ProposeConflicting(f.ledger.Status(), nil, [][]string{
		{"v1", "v2", "v3"},
		{"v1", "v4", "v5"},
	})

	_, err := f.ledger.ResolveAndAppend(proposals)
	require.ErrorIs(t, err, core.ErrQuorumNotReached)
	var qerr *core.QuorumError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, 3, qerr.Required)
	assert.Equal(t, 2, qerr.Best)
	assert.Equal(t, []string{"v1"}, qerr.DoubleVoters)

	assert.Equal(t, 1, f.ledger.Height())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QuorumFailures))
}

func TestResolveAndAppendForkSwitch(t *testing.T) {
	f := newFixture(t, []string{"v1", "v2", "v3", "v4", "v5"}, 0.51)
	genesisStatus := f.ledger.Status()

	old, err := f.ledger.CreateBlockByVote()
	require.NoError(t, err)
	require.Equal(t, 2, f.ledger.Height())

	// A transaction makes the rival block's hash differ from the one it replaces.
	_, err = f.ledger.AddTransaction("carol", "dave", 3)
	require.NoError(t, err)
	proposals := f.federated.ProposeConflicting(genesisStatus, f.ledger.PendingTransactions(), [][]string{
		{"v4", "v5"},
		{"v1", "v2", "v3"},
	})

	chosen, err := f.ledger.ResolveAndAppend(proposals)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "v3"}, chosen.Votes)
	assert.Equal(t, uint64(1), chosen.Index)

	assert.Equal(t, 2, f.ledger.Height())
	assert.Equal(t, chosen.Hash, f.ledger.Head().Hash)
	_, found := f.ledger.BlockByHash(old.Hash)
	assert.False(t, found)
	assert.Empty(t, f.ledger.PendingTransactions())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ForkSwitches))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TruncatedBlocks))
	require.NoError(t, f.ledger.Verify())
}

func TestResolveAndAppendUnknownParent(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	proposals := f.federated.ProposeConflicting(core.Status{Height: 1, HeadHash: "nowhere"}, nil, [][]string{{"v1"}})

	_, err := f.ledger.ResolveAndAppend(proposals)
	require.ErrorIs(t, err, core.ErrUnknownParentBlock)
	assert.Equal(t, 1, f.ledger.Height())
}

func TestResolveAndAppendRejectsIndexGap(t *testing.T) {
	f := newFixture(t, []string{"v1", "v2", "v3"}, 0.51)
	genesis := f.ledger.Head()
	gapped := core.NewBlock(7, nil, genesis.Hash, core.WithVotes([]string{"v1", "v2", "v3"}))

	_, err := f.ledger.ResolveAndAppend([]*core.Block{gapped})
	require.ErrorIs(t, err, core.ErrInvalidBlock)
	assert.Equal(t, 1, f.ledger.Height())
	require.NoError(t, f.ledger.Verify())
}

func TestResolveAndAppendEmpty(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	_, err := f.ledger.ResolveAndAppend(nil)
	require.ErrorIs(t, err, core.ErrEmptyProposalSet)
}

func TestConcurrentBlockProduction(t *testing.T) {
	f := newFixture(t, []string{"v1", "v2", "v3"}, 0.67)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.AddTransaction(fmt.Sprintf("s%d", i), "r", float64(i))
			assert.NoError(t, err)
			if i%2 == 0 {
				_, err = f.ledger.CreateBlockByVote()
			} else {
				_, err = f.ledger.CreatePoWCheckpoint(context.Background(), 1)
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 9, f.ledger.Height())
	require.NoError(t, f.ledger.Verify())
	for i, b := range f.ledger.Blocks() {
		assert.Equal(t, uint64(i), b.Index)
	}
}

func TestPoHEvent(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	seen := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		digest, err := f.ledger.PoHEvent()
		require.NoError(t, err)
		assert.Len(t, digest, 64)
		seen[digest] = struct{}{}
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.PohEvents))
	assert.Equal(t, 1, f.ledger.Height())
}

func TestPoHEventConcurrentWithSetMetrics(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := f.ledger.PoHEvent()
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			f.ledger.SetMetrics(metrics.New())
		}
	}()
	wg.Wait()
}

func TestRunParallel(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	tasks := []executor.Task{
		func() (interface{}, error) { return core.ParseAmount("1.5") },
		func() (interface{}, error) { return core.ParseAmount("bad") },
	}
	results := f.ledger.RunParallel(context.Background(), tasks)
	require.Len(t, results, 2)
	assert.Equal(t, 1.5, results[0].Value)
	assert.ErrorIs(t, results[1].Err, core.ErrInvalidAmount)
}

func TestBlockLookups(t *testing.T) {
	f := newFixture(t, []string{"v1"}, 1)
	block, err := f.ledger.CreateBlockByVote()
	require.NoError(t, err)

	byHash, ok := f.ledger.BlockByHash(block.Hash)
	require.True(t, ok)
	assert.Equal(t, block, byHash)

	// Lookups hand out copies.
	byHash.Votes[0] = "mallory"
	again, ok := f.ledger.BlockByHash(block.Hash)
	require.True(t, ok)
	assert.Equal(t, []string{"v1"}, again.Votes)

	byIndex, ok := f.ledger.BlockByIndex(1)
	require.True(t, ok)
	assert.Equal(t, block.Hash, byIndex.Hash)
	_, ok = f.ledger.BlockByIndex(2)
	assert.False(t, ok)
	_, ok = f.ledger.BlockByHash("missing")
	assert.False(t, ok)
}

func TestMinerSealsCheckpoints(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t, []string{"v1"}, 1)
	miner := core.NewMiner(f.ledger, 0, 5*time.Millisecond)
	miner.Start()
	miner.Start()
	require.True(t, miner.IsRunning())

	require.Eventually(t, func() bool { return f.ledger.Height() >= 3 }, 2*time.Second, 5*time.Millisecond)
	miner.Stop()
	assert.False(t, miner.IsRunning())
	miner.Stop()

	for _, b := range f.ledger.Blocks()[1:] {
		assert.True(t, b.PowCheckpoint)
	}
	require.NoError(t, f.ledger.Verify())
}
