package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"triad-node/config"
	"triad-node/consensus"
	"triad-node/core"
	"triad-node/database"
	"triad-node/logger"
	"triad-node/poh"
)

// node bundles a ledger with its engines.
type node struct {
	cfg       *config.Config
	ledger    *core.Ledger
	federated *consensus.FederatedConsensus
	pow       *consensus.ProofOfWork
	history   *poh.ProofOfHistory
	db        database.Database
}

func loadNode() (*node, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.GetLogLevel())
	return newNode(cfg)
}

func newNode(cfg *config.Config) (*node, error) {
	federated, err := consensus.NewFederated(cfg.Validators, cfg.QuorumFraction)
	if err != nil {
		return nil, fmt.Errorf("failed to create consensus engine: %w", err)
	}

	n := &node{
		cfg:       cfg,
		federated: federated,
		pow:       consensus.NewProofOfWork(cfg.PowMaxAttempts),
	}

	if cfg.PohJournal {
		db, err := database.NewLevelDB(cfg.GetDataSubDir("poh"))
		if err != nil {
			return nil, fmt.Errorf("failed to open poh journal: %w", err)
		}
		history, err := poh.NewWithJournal(poh.NewDBJournal(db))
		if err != nil {
			db.Close()
			return nil, err
		}
		n.db = db
		n.history = history
	} else {
		n.history = poh.New()
	}

	n.ledger = core.NewLedger(&core.Config{
		EnableCache: cfg.EnableCache,
		CacheSize:   cfg.CacheSize,
		Workers:     cfg.Workers,
	})
	n.ledger.SetConsensus(federated)
	n.ledger.SetProofOfWork(n.pow)
	n.ledger.SetHistory(n.history)

	logger.Infof("Ledger ready: %d validators, %d votes required", len(federated.Validators()), federated.RequiredVotes())
	return n, nil
}

func (n *node) Close() {
	if n.db == nil {
		return
	}
	if err := n.db.Close(); err != nil {
		logger.Errorf("Failed to close database: %v", err)
	}
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// printBlock prints the canonical view of a block, without consensus metadata.
func printBlock(out io.Writer, b *core.Block) error {
	data, err := b.ToJSON()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, buf.String())
	return err
}
