package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewHandler creates the HTTP handler with all routes. Extra routes such as
// /metrics are mounted by the caller on the returned mux.
func NewHandler(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()

	// Serve static files.
	fs := http.FileServer(http.Dir("static"))
	mux.Handle("/", fs)

	// WebSocket endpoint.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("websocket upgrade error", zap.Error(err))
			return
		}
		client := newClient(hub, conn)
		go client.WritePump()
		go client.ReadPump()
	})

	return mux
}
