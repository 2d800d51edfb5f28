package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"triad-node/logger"
)

const DefaultCheckpointInterval = 30 * time.Second

// Miner periodically seals proof-of-work checkpoints on top of the ledger head.
type Miner struct {
	ledger     *Ledger
	difficulty int
	interval   time.Duration
	running    bool
	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewMiner(ledger *Ledger, difficulty int, interval time.Duration) *Miner {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &Miner{
		ledger:     ledger,
		difficulty: difficulty,
		interval:   interval,
	}
}

func (m *Miner) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		logger.Info("Miner already running.")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	logger.Infof("Starting checkpoint miner (difficulty %d, every %v)", m.difficulty, m.interval)

	go m.loop(ctx, m.done)
}

// Stop interrupts any search in progress and waits for the loop to exit.
func (m *Miner) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		logger.Info("Miner is not running.")
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	logger.Info("Miner stopped.")
}

func (m *Miner) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Miner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mineCheckpoint(ctx)
		}
	}
}

func (m *Miner) mineCheckpoint(ctx context.Context) {
	block, err := m.ledger.CreatePoWCheckpoint(ctx, m.difficulty)
	switch {
	case err == nil:
		logger.Infof("Miner: checkpoint %d appended. Hash: %s", block.Index, block.Hash)
	case ctx.Err() != nil:
		// Stopped mid-search.
	case errors.Is(err, ErrProofOfWorkExhausted):
		logger.Warningf("Miner: %v", err)
	default:
		logger.Errorf("Miner: failed to create checkpoint: %v", err)
	}
}
