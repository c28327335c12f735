// Package ws is the websocket transport behind the hub's Sender seam.
// Clients connect once, authenticated upstream, and only ever receive:
// the socket is push-only, state changes go through the HTTP operations.
package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parlorchat/parlor-server/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// errConnectionClosed is returned by Send after the connection is gone.
var errConnectionClosed = errors.New("ws: connection closed")

// Gateway upgrades authenticated requests and registers the resulting
// connections with the hub.
type Gateway struct {
	hub      *hub.Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewGateway creates the websocket gateway.
func NewGateway(h *hub.Hub, logger *zap.Logger) *Gateway {
	return &Gateway{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// frame is the wire envelope for one pushed event.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// sender adapts one websocket connection to hub.Sender. Writes flow
// through a buffered channel and a single write pump; a full buffer drops
// the frame so a slow client never stalls a broadcast.
type sender struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newSender(conn *websocket.Conn) *sender {
	return &sender{
		conn: conn,
		out:  make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send enqueues one event frame for the write pump.
func (s *sender) Send(event string, payload []byte) error {
	raw, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errConnectionClosed
	case s.out <- raw:
		return nil
	default:
		return errors.New("ws: send buffer full, frame dropped")
	}
}

// Close shuts the write pump down and closes the socket.
func (s *sender) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.conn.Close()
}

func (s *sender) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case raw := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleClient upgrades the request and keeps the connection registered
// until the peer goes away. userID arrives validated from the identity
// middleware.
func (g *Gateway) HandleClient(userID int64, w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	snd := newSender(conn)
	go snd.writePump()

	handle := g.hub.Register(userID, snd)
	defer func() {
		g.hub.Unregister(handle)
		snd.Close()
	}()

	g.logger.Debug("websocket connected", zap.Int64("user_id", userID))

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Inbound frames are drained and discarded; the read loop exists to
	// notice disconnects and keep pong handling alive.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	g.logger.Debug("websocket disconnected", zap.Int64("user_id", userID))
}
