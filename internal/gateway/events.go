// Package gateway - events.go streams live request telemetry over a
// websocket for local dashboards and debugging.
package gateway

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// handleEvents upgrades the connection and forwards every telemetry event
// as one text frame until the client disconnects. Loopback only.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		g.writeError(w, errUnauthorized("events endpoint is local only"))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("events: websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// CloseRead gives us a context that ends when the client goes away.
	ctx := conn.CloseRead(r.Context())

	ch, cancel := g.events.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
