package core

import (
	"errors"
	"fmt"
	"math"

	"triad-node/logger"
)

// Validator performs structural checks on blocks before they join the chain.
// Quorum checks belong to the consensus engine, not here.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) ValidateTransaction(tx *Transaction) error {
	if tx == nil {
		return errors.New("transaction is nil")
	}
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, tx.Amount)
	}
	return nil
}

// ValidateBlock checks hash integrity, linkage to parent and the shape of
// proof-of-work checkpoints.
func (v *Validator) ValidateBlock(block, parent *Block) error {
	if block == nil {
		return fmt.Errorf("%w: block is nil", ErrInvalidBlock)
	}
	if !block.VerifyHash() {
		logger.Warningf("Block %d hash mismatch: stored %s", block.Index, block.Hash)
		return fmt.Errorf("%w: hash of block %d does not match its contents", ErrInvalidBlock, block.Index)
	}
	if parent != nil {
		if block.PrevHash != parent.Hash {
			return fmt.Errorf("%w: block %d prev_hash %s does not link to %s", ErrInvalidBlock, block.Index, block.PrevHash, parent.Hash)
		}
		if block.Index != parent.Index+1 {
			return fmt.Errorf("%w: block index %d does not follow parent index %d", ErrInvalidBlock, block.Index, parent.Index)
		}
	} else if block.Index != 0 || block.PrevHash != GenesisPrevHash {
		return fmt.Errorf("%w: root block must have index 0 and prev_hash %q", ErrInvalidBlock, GenesisPrevHash)
	}

	if block.PowCheckpoint {
		if len(block.Transactions) > 0 {
			return fmt.Errorf("%w: checkpoint %d carries transactions", ErrInvalidBlock, block.Index)
		}
		if len(block.Votes) > 0 {
			return fmt.Errorf("%w: checkpoint %d carries votes", ErrInvalidBlock, block.Index)
		}
	}

	for i, tx := range block.Transactions {
		if err := v.ValidateTransaction(tx); err != nil {
			logger.Errorf("Invalid transaction %d in block %d: %v", i, block.Index, err)
			return fmt.Errorf("%w: transaction %d: %v", ErrInvalidBlock, i, err)
		}
	}

	logger.Debugf("Block basic validation passed: %d (%s)", block.Index, block.Hash)
	return nil
}

// ValidateChain checks every block against its predecessor.
func (v *Validator) ValidateChain(chain []*Block) error {
	var parent *Block
	for _, b := range chain {
		if err := v.ValidateBlock(b, parent); err != nil {
			return err
		}
		parent = b
	}
	return nil
}
