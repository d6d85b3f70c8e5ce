package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/yegors/squitter/pkg/logger"
)

// Message types for track streaming
const (
	MessageTypeTrackUpdate        = "track_update"
	MessageTypeTrackComplete      = "track_complete"
	MessageTypeTrackRemoved       = "track_removed"
	MessageTypeTracksBulkRequest  = "tracks_bulk_request"  // Client requests the current tracks
	MessageTypeTracksBulkResponse = "tracks_bulk_response" // Server answers a bulk request
	MessageTypeFilterUpdate       = "filter_update"        // Client sends filter preferences
)

// Message represents a WebSocket message. Track messages carry the ICAO
// address under "icao" and, when known, the altitude in feet under "altitude".
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// MessageHandler defines the interface for handling incoming WebSocket messages
type MessageHandler interface {
	HandleMessage(client *Client, messageType string, data map[string]any) error
}

// ClientFilters represents the active filters for a WebSocket client
type ClientFilters struct {
	ICAO        map[string]bool `json:"icao"`         // empty means every aircraft
	MinAltitude int             `json:"min_altitude"` // feet, 0 disables the check
}

// Client represents a WebSocket client
type Client struct {
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	filters   *ClientFilters
}

// Server is the hub that fans messages out to connected clients
type Server struct {
	clients        map[*Client]bool
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *Message
	done           chan struct{}
	closeOnce      sync.Once
	upgrader       websocket.Upgrader
	logger         *logger.Logger
	mu             sync.RWMutex
	messageHandler MessageHandler
}

// NewServer creates a new WebSocket server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: log.Named("web-socket"),
	}
}

// SetMessageHandler sets the message handler for incoming WebSocket messages
func (s *Server) SetMessageHandler(handler MessageHandler) {
	s.messageHandler = handler
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run runs the hub loop until Close is called
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket server")

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", Int("client_count", clientCount))

		case client := <-s.unregister:
			s.mu.Lock()
			s.removeClient(client)
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client unregistered", Int("client_count", clientCount))

		case message := <-s.broadcast:
			s.deliver(message)

		case <-s.done:
			s.mu.Lock()
			for client := range s.clients {
				s.removeClient(client)
			}
			s.mu.Unlock()
			s.logger.Info("WebSocket server stopped")
			return
		}
	}
}

// deliver sends a message to every client whose filters match. Clients whose
// send buffer is full are dropped.
func (s *Server) deliver(message *Message) {
	s.mu.RLock()
	slow := make([]*Client, 0)
	for client := range s.clients {
		client.mu.Lock()
		closed := client.closed
		client.mu.Unlock()
		if closed {
			slow = append(slow, client)
			continue
		}

		if !s.shouldSendToClient(client, message) {
			continue
		}

		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	s.mu.RUnlock()

	if len(slow) > 0 {
		s.mu.Lock()
		for _, client := range slow {
			s.removeClient(client)
		}
		s.mu.Unlock()
		s.logger.Warn("Dropped slow WebSocket clients", Int("count", len(slow)))
	}
}

// removeClient must be called with s.mu held
func (s *Server) removeClient(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	client.mu.Lock()
	client.closed = true
	close(client.send)
	client.mu.Unlock()
}

// HandleConnection upgrades an HTTP request and registers the client
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Handling new WebSocket connection request",
		String("remote_addr", r.RemoteAddr),
		String("user_agent", r.UserAgent()))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			Error(err),
			String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan *Message, 256),
		server:    s,
		closeChan: make(chan struct{}),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}

// Broadcast queues a message for every connected client. It never blocks; when
// the hub is saturated the message is dropped.
func (s *Server) Broadcast(message *Message) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.broadcast <- message:
	default:
		s.logger.Warn("Broadcast queue full, dropping message", String("message_type", message.Type))
	}
}

// Close stops the hub and disconnects every client
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// readPump pumps messages from the WebSocket connection to the message handler
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", Error(err))
			}
			return
		}

		var message Message
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.server.logger.Error("Failed to parse WebSocket message", Error(err))
			continue
		}

		c.server.logger.Debug("Received WebSocket message",
			String("type", message.Type),
			String("client", c.conn.RemoteAddr().String()))

		if c.server.messageHandler != nil {
			if err := c.server.messageHandler.HandleMessage(c, message.Type, message.Data); err != nil {
				c.server.logger.Error("Failed to handle WebSocket message",
					Error(err),
					String("type", message.Type))
			}
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.server.logger.Error("Failed to marshal message", Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closeChan:
		return
	default:
	}
	close(c.closeChan)
	c.conn.Close()
}

// SendMessage sends a message to this specific client without blocking
func (c *Client) SendMessage(message *Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// UpdateFilters replaces the client's active filters
func (c *Client) UpdateFilters(filters *ClientFilters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = filters
}

// GetFilters returns a copy of the client's current filters
func (c *Client) GetFilters() *ClientFilters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filters == nil {
		return nil
	}
	filtersCopy := &ClientFilters{
		ICAO:        make(map[string]bool, len(c.filters.ICAO)),
		MinAltitude: c.filters.MinAltitude,
	}
	for icao, enabled := range c.filters.ICAO {
		filtersCopy.ICAO[icao] = enabled
	}
	return filtersCopy
}

// MatchesFilters checks if a track matches the client's active filters.
// A track with unknown altitude fails an active minimum altitude filter.
func (c *Client) MatchesFilters(icao string, altitude *int) bool {
	filters := c.GetFilters()
	if filters == nil {
		return true
	}

	if len(filters.ICAO) > 0 && !filters.ICAO[strings.ToUpper(icao)] {
		return false
	}

	if filters.MinAltitude > 0 && (altitude == nil || *altitude < filters.MinAltitude) {
		return false
	}
	return true
}

// shouldSendToClient determines if a message should be sent to a specific client based on their filters
func (s *Server) shouldSendToClient(client *Client, message *Message) bool {
	switch message.Type {
	case MessageTypeTrackUpdate, MessageTypeTrackComplete:
	default:
		// Removals and everything else always go out so clients can prune state
		return true
	}

	icao, _ := message.Data["icao"].(string)
	var altitude *int
	if alt, ok := message.Data["altitude"].(int); ok {
		altitude = &alt
	}
	return client.MatchesFilters(icao, altitude)
}

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)
