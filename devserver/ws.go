package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/parlachat/parla/chat"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// wsEvent is pushed to subscribers when a message is appended to their
// conversation.
type wsEvent struct {
	Type           string       `json:"type"`
	ConversationID string       `json:"conversationId"`
	Message        chat.Message `json:"message"`
}

type wsConnection struct {
	conn           *websocket.Conn
	conversationID string
	send           chan []byte
	server         *Server
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversationID"]

	if _, ok := s.store.getConversation(conversationID); !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := &wsConnection{
		conn:           conn,
		conversationID: conversationID,
		send:           make(chan []byte, 256),
		server:         s,
	}

	s.registerSubscriber(conversationID, wsConn)

	go wsConn.writePump()
	go wsConn.readPump()
}

func (s *Server) registerSubscriber(conversationID string, wsConn *wsConnection) {
	value, _ := s.subscribers.LoadOrStore(conversationID, make([]*wsConnection, 0))
	connections := value.([]*wsConnection)
	connections = append(connections, wsConn)
	s.subscribers.Store(conversationID, connections)
}

func (s *Server) unregisterSubscriber(conversationID string, wsConn *wsConnection) {
	value, ok := s.subscribers.Load(conversationID)
	if !ok {
		return
	}

	connections := value.([]*wsConnection)
	for i, conn := range connections {
		if conn == wsConn {
			connections = append(connections[:i], connections[i+1:]...)
			break
		}
	}

	if len(connections) == 0 {
		s.subscribers.Delete(conversationID)
	} else {
		s.subscribers.Store(conversationID, connections)
	}
}

func (s *Server) notifySubscribers(msg chat.Message) {
	value, ok := s.subscribers.Load(msg.ConversationID)
	if !ok {
		return
	}

	data, err := json.Marshal(wsEvent{
		Type:           "message",
		ConversationID: msg.ConversationID,
		Message:        msg,
	})
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return
	}

	connections := value.([]*wsConnection)
	for i, conn := range connections {
		select {
		case conn.send <- data:
		default:
			slog.Warn("Failed to send to subscriber - channel full",
				"conversationID", msg.ConversationID,
				"connectionIndex", i)
		}
	}
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConnection) readPump() {
	defer func() {
		c.server.unregisterSubscriber(c.conversationID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}
	}
}
