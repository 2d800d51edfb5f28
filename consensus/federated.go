package consensus

import (
	"errors"
	"fmt"
	"sort"

	"triad-node/core"
	"triad-node/logger"

	"github.com/shopspring/decimal"
)

var ErrInvalidQuorumFraction = errors.New("quorum fraction must be in (0, 1]")

// FederatedConsensus accepts blocks that collect votes from a quorum of a
// fixed validator set. Votes are simulated: every validator votes for every
// cooperative proposal, and conflicting vote splits are supplied by the caller.
type FederatedConsensus struct {
	validators     []string
	known          map[string]struct{}
	quorumFraction decimal.Decimal
	required       int
}

// NewFederated de-duplicates validators, keeping first-seen order.
func NewFederated(validators []string, quorumFraction float64) (*FederatedConsensus, error) {
	ordered := make([]string, 0, len(validators))
	known := make(map[string]struct{}, len(validators))
	for _, v := range validators {
		if _, dup := known[v]; dup {
			continue
		}
		known[v] = struct{}{}
		ordered = append(ordered, v)
	}
	if len(ordered) == 0 {
		return nil, core.ErrEmptyValidatorSet
	}
	if !(quorumFraction > 0 && quorumFraction <= 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidQuorumFraction, quorumFraction)
	}

	fraction := decimal.NewFromFloat(quorumFraction)
	return &FederatedConsensus{
		validators:     ordered,
		known:          known,
		quorumFraction: fraction,
		required:       requiredVotes(len(ordered), fraction),
	}, nil
}

// requiredVotes is max(1, ceil(n * fraction)), computed in decimal so that
// e.g. 10 * 0.7 is exactly 7.
func requiredVotes(n int, fraction decimal.Decimal) int {
	required := int(decimal.NewFromInt(int64(n)).Mul(fraction).Ceil().IntPart())
	if required < 1 {
		return 1
	}
	return required
}

func (fc *FederatedConsensus) Validators() []string {
	return append([]string{}, fc.validators...)
}

func (fc *FederatedConsensus) QuorumFraction() float64 {
	return fc.quorumFraction.InexactFloat64()
}

func (fc *FederatedConsensus) RequiredVotes() int {
	return fc.required
}

// SimulateVotes stands in for signed vote collection: every validator votes.
func (fc *FederatedConsensus) SimulateVotes() []string {
	return fc.Validators()
}

// Propose builds the next block on top of head, annotated with simulated votes.
func (fc *FederatedConsensus) Propose(head core.Status, transactions []*core.Transaction) *core.Block {
	return core.NewBlock(uint64(head.Height), transactions, head.HeadHash, core.WithVotes(fc.SimulateVotes()))
}

// ProposeConflicting builds one rival proposal per vote split. All of them
// share index and parent; the output order follows voteSplits.
func (fc *FederatedConsensus) ProposeConflicting(head core.Status, transactions []*core.Transaction, voteSplits [][]string) []*core.Block {
	proposals := make([]*core.Block, 0, len(voteSplits))
	for _, votes := range voteSplits {
		proposals = append(proposals, core.NewBlock(uint64(head.Height), transactions, head.HeadHash, core.WithVotes(votes)))
	}
	return proposals
}

// DetectDoubleVoters returns, sorted, every id found in the vote sets of two
// or more proposals.
func (fc *FederatedConsensus) DetectDoubleVoters(proposals []*core.Block) []string {
	seenIn := make(map[string]int)
	for _, p := range proposals {
		if p == nil {
			continue
		}
		inThis := make(map[string]struct{}, len(p.Votes))
		for _, v := range p.Votes {
			if _, dup := inThis[v]; dup {
				continue
			}
			inThis[v] = struct{}{}
			seenIn[v]++
		}
	}

	doubles := []string{}
	for v, n := range seenIn {
		if n >= 2 {
			doubles = append(doubles, v)
		}
	}
	sort.Strings(doubles)
	return doubles
}

// ValidVotes counts distinct votes from known validators that are not excluded.
func (fc *FederatedConsensus) ValidVotes(block *core.Block, excluded []string) int {
	if block == nil {
		return 0
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, v := range excluded {
		skip[v] = struct{}{}
	}
	counted := make(map[string]struct{}, len(block.Votes))
	for _, v := range block.Votes {
		if _, ok := fc.known[v]; !ok {
			continue
		}
		if _, ok := skip[v]; ok {
			continue
		}
		counted[v] = struct{}{}
	}
	return len(counted)
}

// Validate reports whether block has quorum. A block without votes never does.
func (fc *FederatedConsensus) Validate(block *core.Block, excluded []string) bool {
	if block == nil || len(block.Votes) == 0 {
		return false
	}
	return fc.ValidVotes(block, excluded) >= fc.required
}

// ResolveConflict excludes double voters from every proposal, keeps the ones
// that still reach quorum and returns the one with the most valid votes. Ties
// go to the earliest proposal in the input. The returned block is a copy
// stamped with the double voters.
func (fc *FederatedConsensus) ResolveConflict(proposals []*core.Block) (*core.Block, error) {
	if len(proposals) == 0 {
		return nil, core.ErrEmptyProposalSet
	}
	doubles := fc.DetectDoubleVoters(proposals)

	bestIdx, bestCount, topCount := -1, 0, 0
	for i, p := range proposals {
		count := fc.ValidVotes(p, doubles)
		if count > topCount {
			topCount = count
		}
		logger.Debugf("Proposal %d: %d valid votes (%d required)", i, count, fc.required)
		if count < fc.required {
			continue
		}
		if bestIdx < 0 || count > bestCount {
			bestIdx, bestCount = i, count
		}
	}

	if bestIdx < 0 {
		return nil, &core.QuorumError{
			Required:     fc.required,
			Best:         topCount,
			DoubleVoters: doubles,
		}
	}

	chosen := proposals[bestIdx].WithDoubleVoters(doubles)
	logger.LogConsensusEvent("conflict_resolved", map[string]interface{}{
		"proposals":     len(proposals),
		"chosen":        bestIdx,
		"valid_votes":   bestCount,
		"double_voters": doubles,
	})
	return chosen, nil
}
