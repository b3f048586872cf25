package relayapi

import (
	"fmt"
	"net/http"
	"strconv"

	serverops "github.com/contenox/relay/apiframework"
	"github.com/contenox/relay/historyservice"
	"github.com/contenox/relay/historystore"
	"github.com/contenox/relay/roomcatalog"
)

func AddHistoryRoutes(mux *http.ServeMux, historyService historyservice.Service, catalog *roomcatalog.Catalog) {
	h := &historyManager{service: historyService, catalog: catalog}

	mux.HandleFunc("GET /api/rooms", h.listRooms)
	mux.HandleFunc("GET /api/rooms/{room}/history", h.getHistory)
}

type historyManager struct {
	service historyservice.Service
	catalog *roomcatalog.Catalog
}

// Lists the rooms clients can join.
//
// The catalog is fixed at startup; this is the same list every websocket
// client receives as its first frame.
func (h *historyManager) listRooms(w http.ResponseWriter, r *http.Request) {
	_ = serverops.Encode(w, r, http.StatusOK, h.catalog.List()) // @response []string
}

type roomHistory struct {
	Room     string                       `json:"room" example:"general"`
	Count    int64                        `json:"count" example:"87"`
	Messages []historystore.StoredMessage `json:"messages"`
}

// Returns the retained history of one room, oldest first.
//
// Count is the total number of retained entries; when a limit is given the
// messages are the newest entries up to that limit, still oldest first.
func (h *historyManager) getHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	room := serverops.GetPathParam(r, "room", "The room whose history to read.")
	if err := h.catalog.Require(room); err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	limitStr := serverops.GetQueryParam(r, "limit", "0", "Return at most this many of the newest entries; 0 returns everything retained.")
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		err = fmt.Errorf("%w: invalid limit format, expected integer", serverops.ErrUnprocessableEntity)
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	messages, err := h.service.Tail(ctx, room, limit)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}
	count, err := h.service.CountMessages(ctx, room)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	resp := roomHistory{
		Room:     room,
		Count:    count,
		Messages: messages,
	}

	_ = serverops.Encode(w, r, http.StatusOK, resp) // @response relayapi.roomHistory
}
