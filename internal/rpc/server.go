// Package rpc implements the node's HTTP boundary: the plain REST-style
// routes peers and wallets use to exchange blocks, transactions, and
// peer-set information.
package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/node"
	"github.com/Klingon-tech/klingnet-chain/internal/p2p"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/rs/zerolog"
)

// Server wires a node.Node's operations onto HTTP routes.
type Server struct {
	node   *node.Node
	mux    *http.ServeMux
	logger zerolog.Logger
}

// New builds a Server ready to be served with http.Serve or used as an
// http.Handler directly.
func New(n *node.Node) *Server {
	s := &Server{node: n, mux: http.NewServeMux(), logger: log.WithComponent("rpc")}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /ping", s.handlePing)
	s.mux.HandleFunc("GET /peers", s.handleListPeers)
	s.mux.HandleFunc("POST /peers/register", s.handleRegisterPeer)
	s.mux.HandleFunc("POST /peers/deregister", s.handleDeregisterPeer)
	s.mux.HandleFunc("GET /blocks", s.handleFullChain)
	s.mux.HandleFunc("GET /blocks/latest", s.handleLatestBlock)
	s.mux.HandleFunc("GET /blocks/{hash}", s.handleBlockByHash)
	s.mux.HandleFunc("POST /blocks", s.handleSubmitBlock)
	s.mux.HandleFunc("POST /transactions", s.handleSubmitTransaction)
	s.mux.HandleFunc("GET /unspent/{address}", s.handleUnspent)
	s.mux.HandleFunc("GET /balance/{address}", s.handleBalance)
	s.mux.HandleFunc("POST /mining/start", s.handleStartMining)
	s.mux.HandleFunc("POST /mining/stop", s.handleStopMining)
	s.mux.HandleFunc("POST /mining/restart", s.handleRestartMining)
	s.mux.HandleFunc("GET /mining/status", s.handleMiningStatus)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.From != "" {
		s.logger.Debug().Str("from", req.From).Msg("ping received")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "pong": true})
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"peers": s.node.Peers()})
}

// registerRequest is the shared body shape for peer register/deregister:
// either a single url or a list of urls (or both).
type registerRequest struct {
	URL  string   `json:"url"`
	URLs []string `json:"urls"`
}

func (req registerRequest) urls() []string {
	urls := req.URLs
	if req.URL != "" {
		urls = append(urls, req.URL)
	}
	return urls
}

func (s *Server) handleRegisterPeer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	urls := req.urls()
	s.node.RegisterPeers(urls...)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"urls":      urls,
		"responder": s.node.SelfURL(),
		"peers":     s.node.Peers(),
	})
}

func (s *Server) handleDeregisterPeer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	urls := req.urls()
	s.node.DeregisterPeers(urls...)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"urls":      urls,
		"responder": s.node.SelfURL(),
		"peers":     s.node.Peers(),
	})
}

func (s *Server) handleFullChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"chain": s.node.FullChain()})
}

func (s *Server) handleLatestBlock(w http.ResponseWriter, r *http.Request) {
	tip := s.node.LatestBlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"latest":     tip,
		"height":     tip.Height,
		"difficulty": tip.Difficulty,
	})
}

func (s *Server) handleBlockByHash(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	b, ok := s.node.BlockByHash(hash)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("block not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "block": b})
}

// wireOutcome maps an internal ingest outcome to the wire vocabulary of
// block-push responses: "accepted", "ignored-already-visited",
// "gap-detected", or "invalid".
func wireOutcome(o chain.Outcome) string {
	switch o {
	case chain.Accepted:
		return "accepted"
	case chain.AlreadyKnown:
		return "ignored-already-visited"
	case chain.Orphan:
		return "gap-detected"
	default:
		return "invalid"
	}
}

func (s *Server) handleSubmitBlock(w http.ResponseWriter, r *http.Request) {
	var push p2p.BlockPush
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if push.Block == nil {
		writeError(w, http.StatusBadRequest, errors.New("block is required"))
		return
	}
	outcome, err := s.node.SubmitBlock(push.Block, push.Sender, push.PreviousPeers)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"outcome": wireOutcome(outcome),
			"reason":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": wireOutcome(outcome)})
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var t tx.Transaction
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.SubmitTransaction(&t); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, mempool.ErrDuplicate) || errors.Is(err, mempool.ErrConflict) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "txId": t.ID})
}

func (s *Server) handleUnspent(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	writeJSON(w, http.StatusOK, s.node.Unspent(address))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"balance": s.node.Balance(address),
	})
}

func (s *Server) handleStartMining(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}
	old, _, _ := s.node.MiningStatus()
	s.node.StartMining(req.Address)
	writeJSON(w, http.StatusOK, map[string]string{
		"old": miningStatusString(old),
		"new": "running",
	})
}

func (s *Server) handleStopMining(w http.ResponseWriter, r *http.Request) {
	old, _, _ := s.node.MiningStatus()
	s.node.StopMining()
	writeJSON(w, http.StatusOK, map[string]string{
		"old": miningStatusString(old),
		"new": "stopped",
	})
}

func (s *Server) handleRestartMining(w http.ResponseWriter, r *http.Request) {
	old, _, _ := s.node.MiningStatus()
	s.node.RestartMining()
	writeJSON(w, http.StatusOK, map[string]string{
		"old": miningStatusString(old),
		"new": miningStatusString(old),
	})
}

func miningStatusString(enabled bool) string {
	if enabled {
		return "running"
	}
	return "stopped"
}

func (s *Server) handleMiningStatus(w http.ResponseWriter, r *http.Request) {
	enabled, address, running := s.node.MiningStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": enabled,
		"address": address,
		"running": running,
	})
}
