package p2p

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"powgossip_go/blockchain"
	"powgossip_go/mempool"
	"powgossip_go/utils"
)

// Server represents the HTTP server for the blockchain node
type Server struct {
	Router  *mux.Router
	NodeID  string
	Role    string
	Port    int
	Chain   *blockchain.Blockchain
	Mempool *mempool.Mempool
	Archive blockchain.BlockArchive // optional
	Network GossipNetwork           // optional
	Tips    *TipHub

	srv *http.Server
}

// NewServer creates a new server instance
func NewServer(nodeID, role string, port int, chain *blockchain.Blockchain, pool *mempool.Mempool,
	archive blockchain.BlockArchive, network GossipNetwork) *Server {

	s := &Server{
		Router:  mux.NewRouter(),
		NodeID:  nodeID,
		Role:    role,
		Port:    port,
		Chain:   chain,
		Mempool: pool,
		Archive: archive,
		Network: network,
		Tips:    NewTipHub(),
	}
	s.SetupRoutes()
	return s
}

// SetupRoutes configures the API routes
func (s *Server) SetupRoutes() {
	s.Router.HandleFunc("/ping", s.PingHandler).Methods("GET")
	s.Router.HandleFunc("/status", s.StatusHandler).Methods("GET")

	// Chain endpoints
	s.Router.HandleFunc("/tip", s.TipHandler).Methods("GET")
	s.Router.HandleFunc("/chain", s.ChainHandler).Methods("GET")
	s.Router.HandleFunc("/block/{index:[0-9]+}", s.BlockHandler).Methods("GET")

	// Transaction endpoints
	s.Router.HandleFunc("/mempool", s.MempoolHandler).Methods("GET")
	s.Router.HandleFunc("/tx", s.TransactionHandler).Methods("POST")

	s.Router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.Router.Handle("/ws/tips", s.Tips)
}

// Start serves the API until ctx is done, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	utils.LogInfo("Server starting on port %d", s.Port)

	s.srv = &http.Server{
		Handler:      s.Router,
		Addr:         fmt.Sprintf(":%d", s.Port),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			utils.LogWarn("API server shutdown: %v", err)
		}
		utils.LogInfo("Server on port %d stopped", s.Port)
		return nil
	}
}
