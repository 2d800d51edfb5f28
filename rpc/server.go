package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"triad-node/consensus"
	"triad-node/core"
	"triad-node/logger"

	"github.com/gorilla/mux"
)

type Config struct {
	Host          string
	Port          int
	PowDifficulty int
	EnableMetrics bool
}

// Server exposes the ledger over a small JSON HTTP API.
type Server struct {
	config       *Config
	ledger       *core.Ledger
	router       *mux.Router
	server       *http.Server
	chainAPI     *ChainAPI
	miningAPI    *MiningAPI
	consensusAPI *ConsensusAPI
}

// NewServer wires the routes. miner may be nil, in which case the mining
// start/stop endpoints report 501.
func NewServer(config *Config, ledger *core.Ledger, federated *consensus.FederatedConsensus, miner *core.Miner) *Server {
	s := &Server{
		config:       config,
		ledger:       ledger,
		chainAPI:     NewChainAPI(ledger),
		miningAPI:    NewMiningAPI(ledger, miner, config.PowDifficulty),
		consensusAPI: NewConsensusAPI(ledger, federated),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	router.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	router.HandleFunc("/stats", s.consensusAPI.StatsHandler).Methods("GET", "OPTIONS")
	if s.config.EnableMetrics {
		router.Handle("/metrics", s.ledger.Metrics().Handler()).Methods("GET")
	}

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/tx", s.chainAPI.AddTransactionHandler).Methods("POST", "OPTIONS")
	api.HandleFunc("/tx/batch", s.chainAPI.AddTransactionBatchHandler).Methods("POST", "OPTIONS")
	api.HandleFunc("/tx/{id}", s.chainAPI.PendingTransactionHandler).Methods("GET", "OPTIONS")
	api.HandleFunc("/poh", s.chainAPI.PoHHandler).Methods("POST", "OPTIONS")

	blocks := api.PathPrefix("/blocks").Subrouter()
	blocks.HandleFunc("", s.chainAPI.BlocksHandler).Methods("GET", "OPTIONS")
	blocks.HandleFunc("/vote", s.chainAPI.VoteBlockHandler).Methods("POST", "OPTIONS")
	blocks.HandleFunc("/pow", s.miningAPI.MineBlockHandler).Methods("POST", "OPTIONS")
	blocks.HandleFunc("/resolve", s.consensusAPI.ResolveHandler).Methods("POST", "OPTIONS")
	blocks.HandleFunc("/hash/{hash}", s.chainAPI.BlockByHashHandler).Methods("GET", "OPTIONS")
	blocks.HandleFunc("/{index:[0-9]+}", s.chainAPI.BlockByIndexHandler).Methods("GET", "OPTIONS")

	mining := api.PathPrefix("/mining").Subrouter()
	mining.HandleFunc("/start", s.miningAPI.StartHandler).Methods("POST", "OPTIONS")
	mining.HandleFunc("/stop", s.miningAPI.StopHandler).Methods("POST", "OPTIONS")
	mining.HandleFunc("/stats", s.miningAPI.StatsHandler).Methods("GET", "OPTIONS")

	api.HandleFunc("/consensus", s.consensusAPI.ValidatorsHandler).Methods("GET", "OPTIONS")
	return router
}

// Handler returns the routed handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background. Listen errors are reported on the
// returned channel.
func (s *Server) Start() <-chan error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("HTTP API started on %s", addr)
	return errCh
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	logger.Info("HTTP API stopped")
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Status())
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error        string   `json:"error"`
	Required     int      `json:"required,omitempty"`
	Best         *int     `json:"best,omitempty"`
	DoubleVoters []string `json:"double_voters,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var qerr *core.QuorumError
	if errors.As(err, &qerr) {
		best := qerr.Best
		resp.Required = qerr.Required
		resp.Best = &best
		resp.DoubleVoters = qerr.DoubleVoters
	}
	writeJSON(w, statusForError(err), resp)
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrQuorumNotReached):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnknownParentBlock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrProofOfWorkExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidDifficulty),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyProposalSet),
		errors.Is(err, core.ErrInvalidBlock):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrConsensusNotSet),
		errors.Is(err, core.ErrProofOfWorkNotSet),
		errors.Is(err, core.ErrHistoryNotSet):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
