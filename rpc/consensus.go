package rpc

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"triad-node/consensus"
	"triad-node/core"
)

// ConsensusAPI exposes the validator set, conflict resolution and node stats.
type ConsensusAPI struct {
	ledger    *core.Ledger
	federated *consensus.FederatedConsensus
	startTime time.Time
}

func NewConsensusAPI(ledger *core.Ledger, federated *consensus.FederatedConsensus) *ConsensusAPI {
	return &ConsensusAPI{
		ledger:    ledger,
		federated: federated,
		startTime: time.Now(),
	}
}

func (api *ConsensusAPI) ValidatorsHandler(w http.ResponseWriter, r *http.Request) {
	if api.federated == nil {
		writeError(w, core.ErrConsensusNotSet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"validators":      api.federated.Validators(),
		"quorum_fraction": api.federated.QuorumFraction(),
		"required_votes":  api.federated.RequiredVotes(),
	})
}

type resolveRequest struct {
	// Splits holds one vote set per competing proposal.
	Splits [][]string `json:"splits"`
	// ParentIndex selects the block the proposals build on; the head by default.
	ParentIndex *uint64 `json:"parent_index"`
}

type resolveResponse struct {
	Block  *core.Block `json:"block"`
	Status core.Status `json:"status"`
}

// ResolveHandler builds rival proposals from the given vote splits on top of
// the chosen parent, resolves them and appends the winner, switching forks
// if the parent is not the head.
func (api *ConsensusAPI) ResolveHandler(w http.ResponseWriter, r *http.Request) {
	if api.federated == nil {
		writeError(w, core.ErrConsensusNotSet)
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request format: %v", err)
		return
	}

	head := api.ledger.Status()
	if req.ParentIndex != nil {
		parent, ok := api.ledger.BlockByIndex(*req.ParentIndex)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "parent block not found"})
			return
		}
		head = core.Status{Height: int(parent.Index) + 1, HeadHash: parent.Hash}
	}

	proposals := api.federated.ProposeConflicting(head, api.ledger.PendingTransactions(), req.Splits)
	block, err := api.ledger.ResolveAndAppend(proposals)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Block: block, Status: api.ledger.Status()})
}

func (api *ConsensusAPI) StatsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := api.ledger.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"height":       status.Height,
		"head_hash":    status.HeadHash,
		"pending_txs":  len(api.ledger.PendingTransactions()),
		"total_work":   api.ledger.TotalWork().Dec(),
		"uptime":       time.Since(api.startTime).Seconds(),
		"memory_usage": m.Alloc,
		"metrics":      api.ledger.Metrics().ToMap(),
	})
}
