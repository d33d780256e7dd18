package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pairprep/collab/internal/collab/events"
	"github.com/pairprep/collab/internal/collab/session"
)

// ConnectionManager owns the WebSocket side of the session channel: it
// upgrades connections, runs their read/write pumps, and forwards inbound
// events to the coordinator.
type ConnectionManager struct {
	coordinator *session.Coordinator
	upgrader    websocket.Upgrader
	config      ConnectionConfig

	mu          sync.Mutex
	connections map[*Connection]struct{}
}

// Connection is one WebSocket client. Its buffered send channel makes it a
// non-blocking session.Sender; a full buffer means a slow consumer and the
// connection is dropped.
type Connection struct {
	ID      string
	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager
	sess    *session.Session

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a manager that dispatches into coordinator.
func NewConnectionManager(coordinator *session.Coordinator, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		connections: make(map[*Connection]struct{}),
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket session channel.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		conn:        conn,
		send:        make(chan []byte, 256),
		manager:     cm,
		ConnectedAt: time.Now(),
	}
	connection.sess = cm.coordinator.NewSession(connection)
	connection.ID = connection.sess.ID

	cm.mu.Lock()
	cm.connections[connection] = struct{}{}
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

// unregisterConnection removes a connection from the manager and tells the
// coordinator the client is gone, arming its grace timer. Safe to call more
// than once; only the first call has any effect.
//
// Disconnect must complete before the send channel closes: once the
// coordinator has dropped the session from its broadcast set, no further
// Send can race the close.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, registered := cm.connections[conn]
	delete(cm.connections, conn)
	cm.mu.Unlock()

	if registered {
		cm.coordinator.Disconnect(conn.sess)
		close(conn.send)
		log.Info().Str("connection_id", conn.ID).Msg("connection unregistered")
	}
}

// ConnectionCount returns the number of open WebSocket connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.connections)
}

// CloseAll force-closes every open connection, used on shutdown.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	open := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		open = append(open, conn)
	}
	cm.mu.Unlock()

	for _, conn := range open {
		conn.conn.Close()
	}
}

// Send queues an event for delivery, implementing session.Sender. A send on
// a closed channel is unrecoverable here, so delivery races with disconnect
// are absorbed by the buffered channel plus the unregister-once guard.
func (c *Connection) Send(evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal event")
		return
	}

	select {
	case c.send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, closing connection")
		c.conn.Close()
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client events off the socket and dispatches them until the
// connection drops.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregisterConnection(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			break
		}

		c.dispatch(message)
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

// dispatch decodes one inbound envelope and routes it to the coordinator.
// Malformed events are logged and dropped, never fatal to the connection.
func (c *Connection) dispatch(message []byte) {
	var evt events.Event
	if err := json.Unmarshal(message, &evt); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("malformed client event")
		return
	}

	coordinator := c.manager.coordinator

	switch evt.Type {
	case events.TypeAddUser:
		coordinator.AddUser(c.sess, stringPayload(evt.Data))

	case events.TypeJoinRoom:
		coordinator.JoinRoom(c.sess, stringPayload(evt.Data))

	case events.TypeChatMessage:
		coordinator.HandleChat(c.sess, stringPayload(evt.Data))

	case events.TypeBotChatMessage:
		coordinator.HandleBotChat(c.sess, stringPayload(evt.Data))

	case events.TypeContinueSession:
		coordinator.HandleContinueVote(c.sess, stringPayload(evt.Data))

	case events.TypeUserLeft:
		coordinator.Leave(c.sess)

	case events.TypeVoiceOffer, events.TypeVoiceAnswer, events.TypeVoiceCandidate:
		coordinator.Relay(c.sess, evt.Type, evt.Data)

	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("event_type", string(evt.Type)).
			Msg("unknown event type - ignoring")
	}
}

// stringPayload decodes the bare-string payloads used by add-user,
// join-room, chat and vote events.
func stringPayload(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ""
	}
	return s
}
