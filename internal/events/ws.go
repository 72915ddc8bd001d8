package events

import (
	"net/http"
	"strings"

	"golang.org/x/net/websocket"
)

// Handler returns the websocket endpoint. Clients may narrow delivery with
// ?types=queue,vote (comma separated); no parameter means all frames.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serveConn)
}

func (h *Hub) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	var types []Type
	if raw := conn.Request().URL.Query().Get("types"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				types = append(types, Type(part))
			}
		}
	}

	sub := h.Subscribe(types...)
	defer h.Unsubscribe(sub)

	remote := conn.Request().RemoteAddr
	h.logger.Debug().Str("remote", remote).Int("types", len(types)).Msg("subscriber connected")

	// Reader goroutine only watches for the peer closing the socket.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var discard string
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-sub.C():
			if err := websocket.JSON.Send(conn, frame); err != nil {
				h.logger.Debug().Str("remote", remote).Err(err).Msg("subscriber send failed")
				return
			}
		case <-done:
			h.logger.Debug().Str("remote", remote).Msg("subscriber disconnected")
			return
		}
	}
}
