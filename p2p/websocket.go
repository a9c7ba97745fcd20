package p2p

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"powgossip_go/blockchain"
	"powgossip_go/utils"
)

const wsWriteTimeout = 5 * time.Second

// upgrader is used to upgrade HTTP connections to WebSocket connections.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TipHub streams every new tip to connected websocket clients.
type TipHub struct {
	clients      map[*websocket.Conn]*sync.Mutex
	clientsMutex sync.RWMutex
}

// NewTipHub creates a hub with no clients.
func NewTipHub() *TipHub {
	return &TipHub{clients: make(map[*websocket.Conn]*sync.Mutex)}
}

// ClientCount returns the number of connected clients.
func (h *TipHub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. Clients are not expected to send anything.
func (h *TipHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.LogError("[TIPS_WS] Failed to upgrade connection for %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	h.clientsMutex.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.clientsMutex.Unlock()
	utils.LogInfo("[TIPS_WS] Connection established with %s", r.RemoteAddr)

	defer func() {
		h.clientsMutex.Lock()
		delete(h.clients, conn)
		h.clientsMutex.Unlock()
		utils.LogInfo("[TIPS_WS] Connection closed with %s", r.RemoteAddr)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				utils.LogError("[TIPS_WS] Error reading from %s: %v", r.RemoteAddr, err)
			}
			return
		}
	}
}

// Broadcast sends b as wire JSON to every client.
func (h *TipHub) Broadcast(b blockchain.Block) {
	payload, err := blockchain.EncodeBlock(b)
	if err != nil {
		utils.LogError("[TIPS_WS] Failed to encode block %d: %v", b.Index, err)
		return
	}

	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	for client, writeMu := range h.clients {
		writeMu.Lock()
		_ = client.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		err := client.WriteMessage(websocket.TextMessage, payload)
		writeMu.Unlock()
		if err != nil {
			utils.LogError("[TIPS_WS] Error writing to client %s: %v", client.RemoteAddr().String(), err)
		}
	}
}

// Run forwards every block received on tips to the connected clients until
// ctx is done or tips is closed.
func (h *TipHub) Run(ctx context.Context, tips <-chan blockchain.Block) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-tips:
			if !ok {
				return nil
			}
			h.Broadcast(b)
		}
	}
}
