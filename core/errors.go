package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyValidatorSet    = errors.New("validator set must not be empty")
	ErrEmptyProposalSet     = errors.New("no proposals to resolve")
	ErrQuorumNotReached     = errors.New("consensus quorum not reached")
	ErrUnknownParentBlock   = errors.New("block references unknown parent")
	ErrProofOfWorkExhausted = errors.New("proof-of-work attempts exhausted")

	ErrInvalidDifficulty = errors.New("invalid proof-of-work difficulty")
	ErrConsensusNotSet   = errors.New("consensus engine not set")
	ErrProofOfWorkNotSet = errors.New("proof-of-work engine not set")
	ErrHistoryNotSet     = errors.New("proof-of-history recorder not set")
	ErrInvalidAmount     = errors.New("invalid transaction amount")
	ErrInvalidBlock      = errors.New("invalid block")
)

// QuorumError describes a rejected proposal (or proposal set). It matches
// ErrQuorumNotReached under errors.Is.
type QuorumError struct {
	Required     int
	Best         int
	DoubleVoters []string
}

func (e *QuorumError) Error() string {
	msg := fmt.Sprintf("%s: best proposal has %d valid votes, %d required", ErrQuorumNotReached, e.Best, e.Required)
	if len(e.DoubleVoters) > 0 {
		msg += fmt.Sprintf(" (double voters excluded: %s)", strings.Join(e.DoubleVoters, ","))
	}
	return msg
}

func (e *QuorumError) Unwrap() error { return ErrQuorumNotReached }
