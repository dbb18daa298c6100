// Package api exposes a peer's STATUS, transaction-submission, and
// committed-block-stream surfaces over HTTP and WebSocket: a REST +
// WS status server with the perp-exchange-shaped routes (markets,
// orderbooks, positions, orders) replaced by the equivalents this
// domain actually has.
package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"convex.dev/node/pkg/cvm/txn"
	"convex.dev/node/pkg/peer"
)

// Server handles REST and WebSocket connections for one running peer.
type Server struct {
	node   *peer.Node
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
}

// NewServer builds a Server around a running Node and registers a commit
// hook so every applied block is pushed out to WebSocket subscribers.
func NewServer(node *peer.Node, logger *zap.SugaredLogger) *Server {
	s := &Server{
		node:   node,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		logger: logger,
	}
	node.OnCommit(s.broadcastBlock)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves addr until the process exits or
// the listener errors.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	handler := c.Handler(s.router)
	s.logger.Infow("server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST handlers
// ==============================

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.node.Status()
	points := make(map[string]int, len(st.ConsensusPoints))
	for k, p := range st.ConsensusPoints {
		points[hex.EncodeToString(k[:])] = p
	}
	respondJSON(w, StatusResponse{
		BeliefHash:         hex.EncodeToString(st.BeliefHash[:]),
		StateHash:          hex.EncodeToString(st.StateHash[:]),
		GenesisHash:        hex.EncodeToString(st.GenesisHash[:]),
		PeerKey:            hex.EncodeToString(st.PeerKey[:]),
		ConsensusStateHash: hex.EncodeToString(st.ConsensusStateHash[:]),
		ConsensusPoint:     st.ConsensusPoint,
		ProposalPoint:      st.ProposalPoint,
		BlockCount:         st.BlockCount,
		ConsensusPoints:    points,

		PendingCount: st.PendingCount,
		Fees:         st.Fees,
		Timestamp:    st.Timestamp,
	})
}

// handleSubmitTx accepts a single cell-encoded Transaction (txn.EncodeTx's
// wire form) in the request body and queues it for inclusion in this
// peer's next self-proposed block.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	tx, err := txn.DecodeTx(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction encoding", err.Error())
		return
	}

	if err := s.node.SubmitTransaction(tx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "transaction rejected", err.Error())
		return
	}

	s.logger.Infow("tx_submitted", "address", tx.Address, "sequence", tx.Sequence)
	respondJSON(w, SubmitTxResponse{
		Status: "accepted",
		Hash:   strconv.FormatUint(tx.Sequence, 10) + ":" + hex.EncodeToString(tx.AccountKey[:8]),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// broadcastBlock is the Node.OnCommit hook: it converts a freshly applied
// block and its result into a BlockUpdate and fans it out to every
// "blocks"-subscribed WebSocket client.
func (s *Server) broadcastBlock(b txn.Block, res txn.BlockResult) {
	ids := make([]string, 0, len(res.Results))
	for _, r := range res.Results {
		ids = append(ids, fmt.Sprintf("%d", r.ID))
	}
	globals := res.State.Globals()
	update := BlockUpdate{
		Type:         "block",
		PeerKey:      hex.EncodeToString(b.PeerKey[:]),
		Timestamp:    b.Timestamp,
		Transactions: len(b.Transactions),
		ResultIDs:    ids,
		Invalid:      res.Invalid,
		GlobalsFees:  globals.Fees,
		GlobalsTime:  globals.Timestamp,
	}
	s.hub.BroadcastToChannel("blocks", update)
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
