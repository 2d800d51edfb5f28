package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"triad-node/cache"
	"triad-node/executor"
	"triad-node/logger"
	"triad-node/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config holds the ledger's own tunables.
type Config struct {
	EnableCache bool
	CacheSize   int
	Workers     int
}

// Ledger owns the canonical chain and the pending transaction buffer. All
// mutations of either happen under mu. Voted and resolved blocks hold it
// from reading the head until the append; checkpoints re-check the head
// under it before appending.
type Ledger struct {
	config    *Config
	chain     []*Block
	mempool   *Mempool
	validator *Validator
	consensus VotingEngine
	pow       PowEngine
	history   HistoryRecorder
	executor  *executor.Executor
	cache     *cache.Cache
	metrics   *metrics.Metrics
	mu        sync.RWMutex
}

// NewLedger creates a ledger holding only the genesis block.
func NewLedger(cfg *Config) *Ledger {
	if cfg == nil {
		cfg = &Config{}
	}
	l := &Ledger{
		config:    cfg,
		mempool:   NewMempool(),
		validator: NewValidator(),
		executor:  executor.New(cfg.Workers),
		metrics:   metrics.GetMetrics(),
	}
	if cfg.EnableCache {
		l.cache = cache.NewCache(cfg.CacheSize)
	}

	genesis := NewGenesisBlock()
	l.chain = []*Block{genesis}
	l.cacheBlock(genesis)
	l.metrics.ChainHeight.Set(1)
	logger.LogBlockEvent(genesis.Index, genesis.Hash, 0, "genesis")
	return l
}

func (l *Ledger) SetConsensus(engine VotingEngine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consensus = engine
}

func (l *Ledger) SetProofOfWork(engine PowEngine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pow = engine
}

func (l *Ledger) SetHistory(recorder HistoryRecorder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = recorder
}

// SetMetrics replaces the process-wide collectors, mostly for tests.
func (l *Ledger) SetMetrics(m *metrics.Metrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
	l.metrics.ChainHeight.Set(float64(len(l.chain)))
	l.metrics.PendingTransactions.Set(float64(l.mempool.Size()))
}

func (l *Ledger) Metrics() *metrics.Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.metrics
}

func (l *Ledger) GetConsensusEngine() VotingEngine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.consensus
}

// AddTransaction buffers a transaction for the next voted block.
func (l *Ledger) AddTransaction(sender, receiver string, amount float64) (*Transaction, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	tx := NewTransaction(sender, receiver, amount)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.mempool.AddTransaction(tx)
	l.metrics.PendingTransactions.Set(float64(l.mempool.Size()))
	logger.Debugf("Transaction %s added to pending buffer (%s -> %s, %v)", tx.Hash().Hex(), sender, receiver, amount)
	c := *tx
	return &c, nil
}

// CreateBlockByVote proposes a block with every pending transaction and
// appends it if the votes reach quorum. On failure nothing changes.
func (l *Ledger) CreateBlockByVote() (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consensus == nil {
		return nil, ErrConsensusNotSet
	}
	head := l.chain[len(l.chain)-1]
	block := l.consensus.Propose(l.statusLocked(), l.mempool.GetPendingTransactions())

	if !l.consensus.Validate(block, nil) {
		l.metrics.QuorumFailures.Inc()
		qerr := &QuorumError{
			Required: l.consensus.RequiredVotes(),
			Best:     l.consensus.ValidVotes(block, nil),
		}
		logger.Warningf("Block %d rejected: %v", block.Index, qerr)
		return nil, qerr
	}
	if err := l.validator.ValidateBlock(block, head); err != nil {
		return nil, err
	}

	l.appendLocked(block, "vote")
	l.mempool.Clear()
	l.metrics.PendingTransactions.Set(0)
	return block.Clone(), nil
}

// CreatePoWCheckpoint seals an empty checkpoint on top of the head. The
// search runs without the ledger lock; if the head moved meanwhile the
// checkpoint is rebuilt on the new head and sealed again.
func (l *Ledger) CreatePoWCheckpoint(ctx context.Context, difficulty int) (*Block, error) {
	for {
		l.mu.RLock()
		pow := l.pow
		parent := l.chain[len(l.chain)-1]
		height := len(l.chain)
		l.mu.RUnlock()

		if pow == nil {
			return nil, ErrProofOfWorkNotSet
		}
		checkpoint := NewBlock(uint64(height), nil, parent.Hash, AsCheckpoint())
		if err := pow.MineBlock(ctx, checkpoint, difficulty); err != nil {
			logger.Errorf("Checkpoint %d not sealed: %v", checkpoint.Index, err)
			return nil, err
		}

		l.mu.Lock()
		if len(l.chain) != height || l.chain[height-1] != parent {
			l.mu.Unlock()
			logger.Infof("Head moved while sealing checkpoint %d, sealing again", checkpoint.Index)
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrProofOfWorkExhausted, err)
			}
			continue
		}
		if err := l.validator.ValidateBlock(checkpoint, parent); err != nil {
			l.mu.Unlock()
			return nil, err
		}
		l.appendLocked(checkpoint, "pow")
		l.mu.Unlock()
		return checkpoint.Clone(), nil
	}
}

// ResolveAndAppend picks a winner among competing proposals and attaches it
// to its declared parent, discarding any blocks after that parent (fork
// switch). The parent is searched oldest-first.
func (l *Ledger) ResolveAndAppend(proposals []*Block) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consensus == nil {
		return nil, ErrConsensusNotSet
	}
	chosen, err := l.consensus.ResolveConflict(proposals)
	if err != nil {
		var qerr *QuorumError
		if errors.As(err, &qerr) {
			l.metrics.QuorumFailures.Inc()
			logger.LogConsensusEvent("resolution_rejected", map[string]interface{}{
				"proposals":     len(proposals),
				"required":      qerr.Required,
				"best":          qerr.Best,
				"double_voters": qerr.DoubleVoters,
			})
		}
		return nil, err
	}

	parentIdx := -1
	for i, b := range l.chain {
		if b.Hash == chosen.PrevHash {
			parentIdx = i
			break
		}
	}
	if parentIdx < 0 {
		logger.Warningf("Chosen block %s references unknown parent %s", chosen.Hash, chosen.PrevHash)
		return nil, fmt.Errorf("%w: %s", ErrUnknownParentBlock, chosen.PrevHash)
	}
	if err := l.validator.ValidateBlock(chosen, l.chain[parentIdx]); err != nil {
		return nil, err
	}

	discarded := l.chain[parentIdx+1:]
	for _, b := range discarded {
		l.uncacheBlock(b)
	}
	if len(discarded) > 0 {
		l.metrics.ForkSwitches.Inc()
		l.metrics.TruncatedBlocks.Add(float64(len(discarded)))
		logger.LogConsensusEvent("fork_switch", map[string]interface{}{
			"parent_index": parentIdx,
			"discarded":    len(discarded),
			"new_head":     chosen.Hash,
		})
	}
	// Clip capacity so the append never writes into the discarded suffix.
	l.chain = l.chain[: parentIdx+1 : parentIdx+1]
	l.appendLocked(chosen, "resolve")
	l.mempool.Clear()
	l.metrics.PendingTransactions.Set(0)
	return chosen.Clone(), nil
}

// PoHEvent records an event in the proof-of-history chain.
func (l *Ledger) PoHEvent() (string, error) {
	l.mu.RLock()
	history, m := l.history, l.metrics
	l.mu.RUnlock()

	if history == nil {
		return "", ErrHistoryNotSet
	}
	digest, err := history.RecordEvent()
	if err != nil {
		return "", err
	}
	m.PohEvents.Inc()
	return digest, nil
}

// RunParallel runs independent tasks on the ledger's executor. It must not
// be handed chain-mutating work.
func (l *Ledger) RunParallel(ctx context.Context, tasks []executor.Task) []executor.Result {
	return l.executor.Execute(ctx, tasks)
}

func (l *Ledger) appendLocked(block *Block, source string) {
	l.chain = append(l.chain, block)
	l.cacheBlock(block)
	l.metrics.BlocksAppended.WithLabelValues(source).Inc()
	l.metrics.ChainHeight.Set(float64(len(l.chain)))
	logger.LogBlockEvent(block.Index, block.Hash, len(block.Transactions), source)
}

func (l *Ledger) cacheBlock(block *Block) {
	if l.cache != nil {
		l.cache.Set(block.Hash, block)
	}
}

func (l *Ledger) uncacheBlock(block *Block) {
	if l.cache != nil {
		l.cache.Delete(block.Hash)
	}
}

func (l *Ledger) statusLocked() Status {
	return Status{
		Height:   len(l.chain),
		HeadHash: l.chain[len(l.chain)-1].Hash,
	}
}

func (l *Ledger) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statusLocked()
}

func (l *Ledger) Height() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

func (l *Ledger) Head() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1].Clone()
}

func (l *Ledger) BlockByIndex(index uint64) (*Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index >= uint64(len(l.chain)) {
		return nil, false
	}
	return l.chain[index].Clone(), true
}

func (l *Ledger) BlockByHash(hash string) (*Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.cache != nil {
		if v, ok := l.cache.Get(hash); ok {
			if b, ok := v.(*Block); ok {
				return b.Clone(), true
			}
		}
	}
	for _, b := range l.chain {
		if b.Hash == hash {
			l.cacheBlock(b)
			return b.Clone(), true
		}
	}
	return nil, false
}

// Blocks returns a copy of the canonical chain.
func (l *Ledger) Blocks() []*Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Block, len(l.chain))
	for i, b := range l.chain {
		out[i] = b.Clone()
	}
	return out
}

func (l *Ledger) PendingTransactions() []*Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyTransactions(l.mempool.GetPendingTransactions())
}

// PendingTransaction looks up a buffered transaction by its keccak id.
func (l *Ledger) PendingTransaction(id common.Hash) (*Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx := l.mempool.GetTransaction(id)
	if tx == nil {
		return nil, false
	}
	c := *tx
	return &c, true
}

// Verify re-checks hash integrity and linkage of the whole chain.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.validator.ValidateChain(l.chain)
}

// TotalWork sums the work proven by the checkpoints on the canonical chain.
func (l *Ledger) TotalWork() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := uint256.NewInt(0)
	if l.pow == nil {
		return total
	}
	for _, b := range l.chain {
		if !b.PowCheckpoint {
			continue
		}
		if _, overflow := total.AddOverflow(total, l.pow.Work(b)); overflow {
			return total.SetAllOne()
		}
	}
	return total
}
