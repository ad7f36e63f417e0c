package port

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/constant"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write one frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type handler struct {
	hub *Hub
}

func RegisterHandler(ctx context.Context, router chi.Router, hub *Hub) {
	h := handler{hub: hub}

	router.Get(constant.SSE_PATH, h.ServeEvents)
	router.Get(constant.WEBSOCKET_PATH, h.Connect(ctx))
}

// ServeEvents streams every published event as an SSE frame until the peer
// goes away or the client is evicted.
func (h handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Error().Err(err).Msg("broadcast: response does not support streaming")
		return
	}

	client, err := h.hub.Register(TransportSSE, EncodeSSE)
	if err != nil {
		log.Warn().Err(err).Msg("broadcast: cannot register sse client")
		return
	}
	defer client.Finish()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done():
			return
		case frame := <-client.Frames():
			// not every ResponseWriter supports deadlines
			_ = rc.SetWriteDeadline(time.Now().Add(writeWait))
			if _, err := w.Write(frame); err != nil {
				log.Debug().Err(err).Str("client", client.SubscriberID()).Msg("broadcast: sse write failed")
				return
			}
			if err := rc.Flush(); err != nil {
				log.Debug().Err(err).Str("client", client.SubscriberID()).Msg("broadcast: sse flush failed")
				return
			}
		}
	}
}

func (h handler) Connect(ctx context.Context) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("broadcast: websocket upgrade failed")
			return
		}
		client, err := h.hub.Register(TransportWebsocket, EncodeJSON)
		if err != nil {
			log.Warn().Err(err).Msg("broadcast: cannot register websocket client")
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"))
			conn.Close()
			return
		}

		go readPump(client, conn)
		writePump(ctx, client, conn)
	}
}

// readPump discards inbound messages and notices when the peer closes.
func readPump(client *Client, conn *websocket.Conn) {
	defer client.hub.Remove(client)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", client.SubscriberID()).Msg("broadcast: websocket read failed")
			}
			return
		}
	}
}

func writePump(ctx context.Context, client *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		client.Finish()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-client.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("client", client.SubscriberID()).Msg("broadcast: websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
