package broadcast

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	ActionJoinRoom  = "join-room"
	ActionLeaveRoom = "leave-room"
)

// ClientMessage is a frame sent by the browser.
type ClientMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

type roomAck struct {
	Room string `json:"room"`
}

type errorData struct {
	Message string `json:"message"`
}

// WSHandler upgrades HTTP connections and attaches each one to the hub under a fresh id.
type WSHandler struct {
	hub          *Hub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewWSHandler(hub *Hub, allowedOrigins []string, pingInterval, writeTimeout time.Duration, logger *slog.Logger) *WSHandler {
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "websocket"),
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	connID := uuid.NewString()
	sub := h.hub.Attach(connID)
	logger := h.logger.With("conn_id", connID)
	logger.Info("client connected", "remote", r.RemoteAddr)

	go h.writeLoop(conn, sub, logger)
	h.readLoop(conn, connID, logger)
}

func (h *WSHandler) readLoop(conn *websocket.Conn, connID string, logger *slog.Logger) {
	defer func() {
		h.hub.Detach(connID)
		conn.Close()
		logger.Info("client disconnected")
	}()

	pongWait := 2 * h.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		h.handle(connID, msg, logger)
	}
}

func (h *WSHandler) handle(connID string, msg ClientMessage, logger *slog.Logger) {
	var (
		err   error
		event string
	)

	switch msg.Action {
	case ActionJoinRoom:
		event = EventRoomJoined
		err = h.hub.Subscribe(connID, msg.Room)
	case ActionLeaveRoom:
		event = EventRoomLeft
		err = h.hub.Unsubscribe(connID, msg.Room)
	default:
		err = errors.New("unknown action " + msg.Action)
	}

	reply := Message{Event: event, Data: roomAck{Room: msg.Room}}
	if err != nil {
		logger.Debug("rejected client message", "action", msg.Action, "room", msg.Room, "error", err)
		reply = Message{Event: EventError, Data: errorData{Message: err.Error()}}
	}

	_ = h.hub.Send(connID, reply)
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, sub *Subscriber, logger *slog.Logger) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
