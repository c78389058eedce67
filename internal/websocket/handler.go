package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/mise/internal/auth"
)

// HandleFeed upgrades an admin request to a websocket and streams the live
// feed over it. It must sit behind admin authentication. An empty
// originPatterns allows same-origin connections only.
func HandleFeed(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	logger = logger.With("component", "live_feed")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		p, _ := auth.FromContext(r.Context())
		logger.Info("console connected", "admin", p.Email, "consoles", hub.ClientCount()+1)
		NewClient(hub, conn).Run(r.Context())
		logger.Info("console disconnected", "admin", p.Email)
	}
}
