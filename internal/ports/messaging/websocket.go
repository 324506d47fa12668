package messaging

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"time"

	"attendance.edge/internal/core/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// WebSocketHandler upgrades foreground windows onto the hub.
// A window reports the page it is showing with the "url" query parameter.
type WebSocketHandler struct {
	hub      Subscriber
	upgrader websocket.Upgrader
}

// NewWebSocketHandler accepts connections whose Origin host is in hosts.
// An empty hosts list accepts any origin.
func NewWebSocketHandler(hub Subscriber, hosts []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(hosts) == 0 {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return slices.Contains(hosts, u.Hostname())
			},
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		pageURL = r.Header.Get("Referer")
	}

	send := make(chan []byte, sendBuffer)
	done := make(chan struct{})

	client, unsubscribe := h.hub.Subscribe(pageURL, func(msg model.ClientMessage) {
		b, err := json.Marshal(msg)
		if err != nil {
			return
		}
		select {
		case <-done:
		case send <- b:
		default:
			// Client send buffer is full, drop the message
			log.Warn().Str("type", msg.Type).Msg("Websocket client too slow, dropping message")
		}
	})

	go writePump(conn, send, done)
	readPump(conn)

	unsubscribe()
	close(done)
	log.Debug().Str("client_id", client.ID()).Msg("Websocket closed")
}

// readPump drains the connection until the peer goes away.
func readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("Websocket read error")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case b := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
