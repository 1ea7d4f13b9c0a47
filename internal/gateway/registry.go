package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Registry tracks this process's WebSocket connections, keyed by the topic
// they watch. It only knows local connections; cross-process fanout is the
// bus's job.
type Registry struct {
	topicConnections map[string]map[*Connection]bool
	mu               sync.RWMutex

	upgrader websocket.Upgrader

	config ConnectionConfig

	broadcastCh chan broadcastMessage
}

// Connection is one client WebSocket watching a topic.
type Connection struct {
	ID       string
	Topic    string
	Conn     *websocket.Conn
	Send     chan []byte
	registry *Registry

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds the WebSocket tunables.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	Topic string
	Data  []byte
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewRegistry creates a connection registry.
func NewRegistry(config ConnectionConfig) *Registry {
	return &Registry{
		topicConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages. Blocks until ctx is done.
func (r *Registry) Start(ctx context.Context) {
	log.Info().Msg("connection registry started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection registry shutting down")
			return
		case message := <-r.broadcastCh:
			r.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket watching topic.
func (r *Registry) UpgradeConnection(w http.ResponseWriter, req *http.Request, topic string) error {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Topic:       topic,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		registry:    r,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	r.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("topic", topic).
		Msg("WebSocket connection established")

	return nil
}

func (r *Registry) registerConnection(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.topicConnections[conn.Topic] == nil {
		r.topicConnections[conn.Topic] = make(map[*Connection]bool)
	}
	r.topicConnections[conn.Topic][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("topic", conn.Topic).
		Int("total_connections", len(r.topicConnections[conn.Topic])).
		Msg("connection registered")
}

func (r *Registry) unregisterConnection(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if connections, exists := r.topicConnections[conn.Topic]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)

			if len(connections) == 0 {
				delete(r.topicConnections, conn.Topic)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("topic", conn.Topic).
				Msg("connection unregistered")
		}
	}
}

// BroadcastLocal queues data for every local connection watching topic.
// Never blocks; under backpressure the message is dropped with a warning.
func (r *Registry) BroadcastLocal(topic string, data []byte) {
	select {
	case r.broadcastCh <- broadcastMessage{Topic: topic, Data: data}:
	default:
		log.Warn().Str("topic", topic).Msg("broadcast channel full, dropping message")
	}
}

func (r *Registry) handleBroadcast(message broadcastMessage) {
	r.mu.RLock()
	connections, exists := r.topicConnections[message.Topic]
	if !exists {
		r.mu.RUnlock()
		return
	}

	// Snapshot so the lock is not held while writing to send buffers.
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- message.Data:
		default:
			// Connection is slow or dead, close it.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("topic", conn.Topic).
				Msg("connection send buffer full, closing connection")
			r.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("topic", message.Topic).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats returns counts of active connections by topic.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	topicCounts := make(map[string]int)
	for topic, connections := range r.topicConnections {
		count := len(connections)
		total += count
		topicCounts[topic] = count
	}

	return map[string]interface{}{
		"total_connections": total,
		"active_topics":     len(r.topicConnections),
		"topic_connections": topicCounts,
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.registry.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.registry.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.registry.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.registry.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.registry.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.registry.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		// Clients only listen; inbound frames are logged and ignored.
		log.Debug().
			Str("connection_id", c.ID).
			RawJSON("message", message).
			Msg("received client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.registry.config.ReadTimeout))
	}
}
