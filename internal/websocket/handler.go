package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades editor connections and attaches them to hub.
// originPatterns follows coder/websocket semantics; empty allows same-origin only.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept failed", "error", err)
			return
		}

		logger.Debug("editor connected", "clients", hub.ClientCount()+1)
		NewClient(hub, conn).Run(r.Context())
		logger.Debug("editor disconnected", "clients", hub.ClientCount())
	}
}
