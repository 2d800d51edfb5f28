package core

import (
	"context"

	"github.com/holiman/uint256"
)

// Status is the externally visible summary of the chain head.
type Status struct {
	Height   int    `json:"height"`
	HeadHash string `json:"head_hash"`
}

// VotingEngine produces vote-annotated proposals and decides which of them
// may join the chain.
type VotingEngine interface {
	Propose(head Status, transactions []*Transaction) *Block
	Validate(block *Block, excluded []string) bool
	ValidVotes(block *Block, excluded []string) int
	RequiredVotes() int
	ResolveConflict(proposals []*Block) (*Block, error)
}

// PowEngine seals proof-of-work checkpoints.
type PowEngine interface {
	MineBlock(ctx context.Context, block *Block, difficulty int) error
	Work(block *Block) *uint256.Int
}

// HistoryRecorder appends to a rolling proof-of-history digest.
type HistoryRecorder interface {
	RecordEvent() (string, error)
}
