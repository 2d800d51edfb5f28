package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"triad-node/core"
	"triad-node/logger"
)

// MiningAPI drives proof-of-work checkpoints: one-off sealing and the
// background checkpoint miner.
type MiningAPI struct {
	ledger     *core.Ledger
	miner      *core.Miner
	difficulty int
	stats      *MiningStats
	mutex      sync.RWMutex
}

type MiningStats struct {
	IsActive         bool   `json:"is_active"`
	CheckpointsFound int    `json:"checkpoints_found"`
	Difficulty       int    `json:"difficulty"`
	LastHash         string `json:"last_hash,omitempty"`
	StartTime        int64  `json:"start_time,omitempty"`
	TotalWork        string `json:"total_work"`
}

func NewMiningAPI(ledger *core.Ledger, miner *core.Miner, difficulty int) *MiningAPI {
	return &MiningAPI{
		ledger:     ledger,
		miner:      miner,
		difficulty: difficulty,
		stats:      &MiningStats{Difficulty: difficulty},
	}
}

func (api *MiningAPI) StartHandler(w http.ResponseWriter, r *http.Request) {
	if api.miner == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "checkpoint miner not configured"})
		return
	}

	api.mutex.Lock()
	defer api.mutex.Unlock()
	if api.miner.IsRunning() {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "Mining already active"})
		return
	}
	api.miner.Start()
	api.stats.StartTime = time.Now().Unix()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Mining started successfully",
	})
}

func (api *MiningAPI) StopHandler(w http.ResponseWriter, r *http.Request) {
	if api.miner == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "checkpoint miner not configured"})
		return
	}

	api.mutex.Lock()
	defer api.mutex.Unlock()
	if !api.miner.IsRunning() {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "Mining not active"})
		return
	}
	api.miner.Stop()
	api.stats.StartTime = 0

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Mining stopped successfully",
	})
}

func (api *MiningAPI) StatsHandler(w http.ResponseWriter, r *http.Request) {
	api.mutex.RLock()
	statsCopy := *api.stats
	api.mutex.RUnlock()

	statsCopy.IsActive = api.miner != nil && api.miner.IsRunning()
	statsCopy.TotalWork = api.ledger.TotalWork().Dec()
	writeJSON(w, http.StatusOK, statsCopy)
}

// MineBlockHandler seals one checkpoint. The body may override the
// difficulty: {"difficulty": 4}. The search stops if the client goes away.
func (api *MiningAPI) MineBlockHandler(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Difficulty *int `json:"difficulty"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		badRequest(w, "Invalid request format: %v", err)
		return
	}
	difficulty := api.difficulty
	if req.Difficulty != nil {
		difficulty = *req.Difficulty
	}

	block, err := api.ledger.CreatePoWCheckpoint(r.Context(), difficulty)
	if err != nil {
		logger.Warningf("Checkpoint request failed: %v", err)
		writeError(w, err)
		return
	}

	api.mutex.Lock()
	api.stats.CheckpointsFound++
	api.stats.LastHash = block.Hash
	api.mutex.Unlock()

	writeJSON(w, http.StatusOK, block)
}
