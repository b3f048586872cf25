package relayapi

import (
	"log/slog"
	"net/http"

	serverops "github.com/contenox/relay/apiframework"
	"github.com/contenox/relay/historyservice"
	"github.com/contenox/relay/internal/wsconn"
	"github.com/contenox/relay/relayservice"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func AddRelayRoutes(mux *http.ServeMux, relayService relayservice.Service, historyService historyservice.Service) {
	m := &relayManager{service: relayService, history: historyService}

	mux.HandleFunc("GET /ws", m.connectClient)
	mux.HandleFunc("GET /api/stats", m.getStats)
}

type relayManager struct {
	service relayservice.Service
	history historyservice.Service
}

// Upgrades the request to a websocket session and hands it to the dispatcher.
//
// The first frame on the socket is always the room catalog; everything after
// that follows from the frames the client sends.
func (m *relayManager) connectClient(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	conn := wsconn.New(uuid.NewString(), ws, m.service, nil)
	if err := conn.Start(r.Context()); err != nil {
		slog.Error("connection rejected", "error", err)
	}
}

type relayStats struct {
	Connections   int            `json:"connections" example:"12"`
	Sessions      int            `json:"sessions" example:"9"`
	Rooms         map[string]int `json:"rooms"`
	StoredBatches int64          `json:"storedBatches" example:"42"`
}

// Reports a live snapshot of the dispatcher plus a storage estimate.
//
// Room occupancy counts registered members only; connections that never
// joined a room appear in the connection count alone. The batch figure is a
// planner estimate, not an exact count.
func (m *relayManager) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := m.service.Stats(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}
	batches, err := m.history.EstimateBatchCount(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	resp := relayStats{
		Connections:   stats.Connections,
		Sessions:      stats.Sessions,
		Rooms:         stats.Rooms,
		StoredBatches: batches,
	}

	_ = serverops.Encode(w, r, http.StatusOK, resp) // @response relayapi.relayStats
}
