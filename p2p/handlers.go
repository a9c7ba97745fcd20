package p2p

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"powgossip_go/blockchain"
	"powgossip_go/mempool"
	"powgossip_go/utils"
)

// StatusResponse is returned by /status.
type StatusResponse struct {
	NodeID      string `json:"node_id"`
	Role        string `json:"role"`
	TipIndex    uint32 `json:"tip_index"`
	TipHash     string `json:"tip_hash"`
	Length      int    `json:"length"`
	FullHistory bool   `json:"full_history"`
	Pending     int    `json:"pending_blocks"`
	MempoolSize int    `json:"mempool_size"`
	Peers       int    `json:"peers"`
	WSClients   int    `json:"ws_clients"`
}

// TxResponse is returned by POST /tx.
type TxResponse struct {
	Txid   string `json:"txid"`
	Status string `json:"status"`
}

// PingHandler handles ping requests
func (s *Server) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		utils.LogError("PingHandler: Error writing response: %v", err)
	}
}

// StatusHandler reports the node's view of the chain.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tip, err := s.Chain.CurrentTip(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	length, err := s.Chain.GetLength(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := s.Chain.PendingCount(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	status := StatusResponse{
		NodeID:      s.NodeID,
		Role:        s.Role,
		TipIndex:    tip.Index,
		TipHash:     tip.Hash.String(),
		Length:      length,
		FullHistory: s.Chain.RetainsHistory(),
		Pending:     pending,
		WSClients:   s.Tips.ClientCount(),
	}
	if s.Mempool != nil {
		status.MempoolSize = s.Mempool.GetSize()
	}
	if s.Network != nil {
		status.Peers = s.Network.PeerCount()
	}
	writeJSON(w, http.StatusOK, status)
}

// TipHandler returns the current tip in wire format.
func (s *Server) TipHandler(w http.ResponseWriter, r *http.Request) {
	tip, err := s.Chain.CurrentTip(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tip)
}

// ChainHandler returns every retained block, which is only the tip when
// history is not kept.
func (s *Server) ChainHandler(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.Chain.GetBlocks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

// BlockHandler looks a block up by index, first in the archive and then among
// the retained blocks.
func (s *Server) BlockHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid block index", http.StatusBadRequest)
		return
	}

	if s.Archive != nil {
		b, err := s.Archive.GetBlockByIndex(uint32(index))
		if err == nil {
			writeJSON(w, http.StatusOK, b)
			return
		}
		if !errors.Is(err, blockchain.ErrNotFound) {
			utils.LogError("BlockHandler: archive lookup for %d failed: %v", index, err)
		}
	}

	b, err := s.Chain.GetBlockByIndex(r.Context(), uint32(index))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// MempoolHandler lists pending transactions.
func (s *Server) MempoolHandler(w http.ResponseWriter, r *http.Request) {
	if s.Mempool == nil {
		writeJSON(w, http.StatusOK, []blockchain.Tx{})
		return
	}
	writeJSON(w, http.StatusOK, s.Mempool.GetAllTxs())
}

// TransactionHandler accepts a transaction into the mempool. The txid must
// match the content.
func (s *Server) TransactionHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if s.Mempool == nil {
		http.Error(w, "Mempool not available", http.StatusServiceUnavailable)
		return
	}

	var tx blockchain.Tx
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		utils.LogDebug("TransactionHandler: invalid transaction body: %v", err)
		http.Error(w, "Invalid transaction format: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Mempool.AddTx(tx); err != nil {
		utils.LogInfo("TransactionHandler: rejected transaction %s: %v", tx.Txid.Short(), err)
		writeError(w, err)
		return
	}

	utils.LogInfo("Transaction %s added to mempool", tx.Txid.Short())
	writeJSON(w, http.StatusAccepted, TxResponse{Txid: tx.Txid.String(), Status: "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.LogError("Error encoding response: %v", err)
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, blockchain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, blockchain.ErrTxidMismatch),
		errors.Is(err, mempool.ErrCoinbase),
		errors.Is(err, mempool.ErrEmptyTx):
		status = http.StatusBadRequest
	case errors.Is(err, mempool.ErrFull),
		errors.Is(err, blockchain.ErrChainStopped):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
