package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"triad-node/core"
	"triad-node/executor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
)

var errMissingParties = errors.New("from and to are required")

// ChainAPI serves transactions, vote-finalized blocks, block lookups and
// proof-of-history events.
type ChainAPI struct {
	ledger *core.Ledger
}

func NewChainAPI(ledger *core.Ledger) *ChainAPI {
	return &ChainAPI{ledger: ledger}
}

type txRequest struct {
	From   string      `json:"from"`
	To     string      `json:"to"`
	Amount json.Number `json:"amount"`
}

type txResponse struct {
	ID string `json:"id"`
	*core.Transaction
}

type parsedTx struct {
	from, to string
	amount   float64
}

func parseTxRequest(req txRequest) (parsedTx, error) {
	amount, err := core.ParseAmount(req.Amount.String())
	if err != nil {
		return parsedTx{}, err
	}
	return parsedTx{from: req.From, to: req.To, amount: amount}, nil
}

func (api *ChainAPI) AddTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request format: %v", err)
		return
	}
	if req.From == "" || req.To == "" {
		badRequest(w, "%v", errMissingParties)
		return
	}
	p, err := parseTxRequest(req)
	if err != nil {
		writeError(w, err)
		return
	}
	tx, err := api.ledger.AddTransaction(p.from, p.to, p.amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txResponse{ID: tx.Hash().Hex(), Transaction: tx})
}

// AddTransactionBatchHandler parses every entry in parallel and only buffers
// the batch if all of them are valid. Buffering keeps request order.
func (api *ChainAPI) AddTransactionBatchHandler(w http.ResponseWriter, r *http.Request) {
	var reqs []txRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		badRequest(w, "Invalid request format: %v", err)
		return
	}

	tasks := make([]executor.Task, len(reqs))
	for i, req := range reqs {
		req := req
		tasks[i] = func() (interface{}, error) {
			if req.From == "" || req.To == "" {
				return nil, errMissingParties
			}
			return parseTxRequest(req)
		}
	}
	results := api.ledger.RunParallel(r.Context(), tasks)

	parsed := make([]parsedTx, len(results))
	for i, res := range results {
		if res.Err != nil {
			badRequest(w, "transaction %d: %v", i, res.Err)
			return
		}
		parsed[i] = res.Value.(parsedTx)
	}

	out := make([]txResponse, 0, len(parsed))
	for _, p := range parsed {
		tx, err := api.ledger.AddTransaction(p.from, p.to, p.amount)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, txResponse{ID: tx.Hash().Hex(), Transaction: tx})
	}
	writeJSON(w, http.StatusOK, out)
}

func (api *ChainAPI) PendingTransactionHandler(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	if len(common.FromHex(raw)) != common.HashLength {
		badRequest(w, "invalid transaction id %q", raw)
		return
	}
	tx, ok := api.ledger.PendingTransaction(common.HexToHash(raw))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "transaction not pending"})
		return
	}
	writeJSON(w, http.StatusOK, txResponse{ID: tx.Hash().Hex(), Transaction: tx})
}

func (api *ChainAPI) VoteBlockHandler(w http.ResponseWriter, r *http.Request) {
	block, err := api.ledger.CreateBlockByVote()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (api *ChainAPI) BlocksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.ledger.Blocks())
}

func (api *ChainAPI) BlockByIndexHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		badRequest(w, "invalid block index: %v", err)
		return
	}
	block, ok := api.ledger.BlockByIndex(index)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "block not found"})
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (api *ChainAPI) BlockByHashHandler(w http.ResponseWriter, r *http.Request) {
	block, ok := api.ledger.BlockByHash(mux.Vars(r)["hash"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "block not found"})
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (api *ChainAPI) PoHHandler(w http.ResponseWriter, r *http.Request) {
	digest, err := api.ledger.PoHEvent()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"digest": digest})
}
