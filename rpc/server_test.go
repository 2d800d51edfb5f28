package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"triad-node/consensus"
	"triad-node/core"
	"triad-node/metrics"
	"triad-node/poh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	ledger  *core.Ledger
	handler http.Handler
}

func newTestNode(t *testing.T, maxAttempts int) *testNode {
	t.Helper()
	m := metrics.New()

	ledger := core.NewLedger(&core.Config{EnableCache: true, CacheSize: 16, Workers: 2})
	ledger.SetMetrics(m)

	federated, err := consensus.NewFederated([]string{"v1", "v2", "v3", "v4", "v5"}, 0.6)
	require.NoError(t, err)
	ledger.SetConsensus(federated)

	pow := consensus.NewProofOfWork(maxAttempts)
	pow.SetMetrics(m)
	ledger.SetProofOfWork(pow)
	ledger.SetHistory(poh.New())

	miner := core.NewMiner(ledger, 0, time.Hour)
	t.Cleanup(func() {
		if miner.IsRunning() {
			miner.Stop()
		}
	})

	srv := NewServer(&Config{PowDifficulty: 1, EnableMetrics: true}, ledger, federated, miner)
	return &testNode{ledger: ledger, handler: srv.Handler()}
}

func (n *testNode) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	n.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthAndStatus(t *testing.T) {
	n := newTestNode(t, 0)

	rec := n.do(t, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = n.do(t, "GET", "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status core.Status
	decode(t, rec, &status)
	assert.Equal(t, 1, status.Height)
	assert.Equal(t, n.ledger.Head().Hash, status.HeadHash)
}

func TestPreflight(t *testing.T) {
	n := newTestNode(t, 0)
	rec := n.do(t, "OPTIONS", "/api/tx", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTransactionAndVoteFlow(t *testing.T) {
	n := newTestNode(t, 0)

	rec := n.do(t, "POST", "/api/tx", `{"from":"alice","to":"bob","amount":"10.5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tx struct {
		ID     string  `json:"id"`
		Amount float64 `json:"amount"`
		Sender string  `json:"sender"`
	}
	decode(t, rec, &tx)
	assert.Equal(t, 10.5, tx.Amount)
	assert.Equal(t, "alice", tx.Sender)

	rec = n.do(t, "GET", "/api/tx/"+tx.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = n.do(t, "POST", "/api/blocks/vote", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var block core.Block
	decode(t, rec, &block)
	assert.Equal(t, uint64(1), block.Index)
	require.Len(t, block.Transactions, 1)
	assert.Len(t, block.Votes, 5)

	// Included transactions leave the pending buffer.
	rec = n.do(t, "GET", "/api/tx/"+tx.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = n.do(t, "GET", "/api/blocks/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = n.do(t, "GET", "/api/blocks/hash/"+block.Hash, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = n.do(t, "GET", "/api/blocks/7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = n.do(t, "GET", "/api/blocks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var blocks []*core.Block
	decode(t, rec, &blocks)
	assert.Len(t, blocks, 2)
}

func TestTransactionRejectsBadInput(t *testing.T) {
	n := newTestNode(t, 0)

	rec := n.do(t, "POST", "/api/tx", `{"from":"alice","to":"bob","amount":"ten"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = n.do(t, "POST", "/api/tx", `{"from":"alice","amount":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = n.do(t, "POST", "/api/tx", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = n.do(t, "GET", "/api/tx/0x1234", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, n.ledger.PendingTransactions())
}

func TestTransactionBatch(t *testing.T) {
	n := newTestNode(t, 0)

	rec := n.do(t, "POST", "/api/tx/batch", `[
		{"from":"a","to":"b","amount":1},
		{"from":"b","to":"c","amount":"2.25"},
		{"from":"c","to":"a","amount":3}
	]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pending := n.ledger.PendingTransactions()
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{pending[0].Sender, pending[1].Sender, pending[2].Sender})

	rec = n.do(t, "POST", "/api/tx/batch", `[{"from":"a","to":"b","amount":1},{"from":"a","to":"b","amount":"x"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, n.ledger.PendingTransactions(), 3)
}

func TestProofOfWorkCheckpoint(t *testing.T) {
	n := newTestNode(t, 0)

	rec := n.do(t, "POST", "/api/blocks/pow", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var block core.Block
	decode(t, rec, &block)
	assert.True(t, block.PowCheckpoint)
	assert.True(t, strings.HasPrefix(block.Hash, "0"))

	rec = n.do(t, "POST", "/api/blocks/pow", `{"difficulty":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &block)
	assert.True(t, strings.HasPrefix(block.Hash, "00"))

	rec = n.do(t, "POST", "/api/blocks/pow", `{"difficulty":65}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = n.do(t, "GET", "/api/mining/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats MiningStats
	decode(t, rec, &stats)
	assert.Equal(t, 2, stats.CheckpointsFound)
	assert.Equal(t, block.Hash, stats.LastHash)
	assert.False(t, stats.IsActive)
	assert.Equal(t, 3, n.ledger.Height())
}

func TestProofOfWorkExhausted(t *testing.T) {
	n := newTestNode(t, 2)

	rec := n.do(t, "POST", "/api/blocks/pow", `{"difficulty":64}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1, n.ledger.Height())
}

func TestResolveDoubleVoteConflict(t *testing.T) {
	n := newTestNode(t, 0)

	rec := n.do(t, "POST", "/api/blocks/resolve", `{"splits":[["v1","v2","v3"],["v1","v4","v5"]]}`)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var resp struct {
		Required     int      `json:"required"`
		Best         int      `json:"best"`
		DoubleVoters []string `json:"double_voters"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 3, resp.Required)
	assert.Equal(t, 2, resp.Best)
	assert.Equal(t, []string{"v1"}, resp.DoubleVoters)
	assert.Equal(t, 1, n.ledger.Height())
}

func TestResolveForkSwitch(t *testing.T) {
	n := newTestNode(t, 0)
	genesis := n.ledger.Head()

	rec := n.do(t, "POST", "/api/blocks/vote", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = n.do(t, "POST", "/api/blocks/resolve", `{"splits":[["v1","v2","v3"],["v4"]],"parent_index":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp resolveResponse
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Status.Height)
	assert.Equal(t, genesis.Hash, resp.Block.PrevHash)
	assert.Equal(t, []string{"v1", "v2", "v3"}, resp.Block.Votes)
	assert.Equal(t, resp.Block.Hash, resp.Status.HeadHash)

	rec = n.do(t, "POST", "/api/blocks/resolve", `{"splits":[["v1","v2","v3"]],"parent_index":9}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = n.do(t, "POST", "/api/blocks/resolve", `{"splits":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPoHAndConsensusInfo(t *testing.T) {
	n := newTestNode(t, 0)

	var first, second map[string]string
	rec := n.do(t, "POST", "/api/poh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &first)
	rec = n.do(t, "POST", "/api/poh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &second)
	assert.NotEqual(t, first["digest"], second["digest"])

	rec = n.do(t, "GET", "/api/consensus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Validators    []string `json:"validators"`
		RequiredVotes int      `json:"required_votes"`
	}
	decode(t, rec, &info)
	assert.Len(t, info.Validators, 5)
	assert.Equal(t, 3, info.RequiredVotes)
}

func TestStatsAndMetrics(t *testing.T) {
	n := newTestNode(t, 0)
	require.Equal(t, http.StatusOK, n.do(t, "POST", "/api/blocks/vote", "").Code)

	rec := n.do(t, "GET", "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	decode(t, rec, &stats)
	for _, key := range []string{"height", "head_hash", "pending_txs", "total_work", "uptime", "memory_usage", "metrics"} {
		assert.Contains(t, stats, key)
	}
	assert.Equal(t, float64(2), stats["height"])
	metricsView, ok := stats["metrics"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), metricsView[`triad_blocks_appended_total{source="vote"}`])

	rec = n.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "triad_chain_height 2")
}

func TestMiningStartStop(t *testing.T) {
	n := newTestNode(t, 0)

	assert.Equal(t, http.StatusOK, n.do(t, "POST", "/api/mining/start", "").Code)
	assert.Equal(t, http.StatusConflict, n.do(t, "POST", "/api/mining/start", "").Code)

	rec := n.do(t, "GET", "/api/mining/stats", "")
	var stats MiningStats
	decode(t, rec, &stats)
	assert.True(t, stats.IsActive)

	assert.Equal(t, http.StatusOK, n.do(t, "POST", "/api/mining/stop", "").Code)
	assert.Equal(t, http.StatusConflict, n.do(t, "POST", "/api/mining/stop", "").Code)
}
