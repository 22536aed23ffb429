package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/livinlog/internal/events"
)

// HandleWebSocket upgrades the request and streams bus events to it. When
// greet is not nil its event is sent first so a new client starts from the
// current route instead of waiting for the next change.
func HandleWebSocket(hub *Hub, greet func() events.Event, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		var greeting []byte
		if greet != nil {
			greeting, err = json.Marshal(greet())
			if err != nil {
				logger.Error("marshal greeting", "error", err)
				greeting = nil
			}
		}

		NewClient(hub, conn).Run(r.Context(), greeting)
	}
}
