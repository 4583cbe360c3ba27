package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

type MessageType string

const (
	MessageStore        MessageType = "store"
	MessageNotification MessageType = "notification"
	MessageConflict     MessageType = "conflict"
	MessageResolve      MessageType = "resolve"
)

// Message is the envelope of everything sent over the event stream.
type Message struct {
	Type MessageType `json:"type"`

	Event     string    `json:"event,omitempty"`
	Key       string    `json:"key,omitempty"`
	Game      *GameView `json:"game,omitempty"`
	Operation string    `json:"operation,omitempty"`

	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	Local      *GameView `json:"local,omitempty"`
	Remote     *GameView `json:"remote,omitempty"`
	Fields     []string  `json:"fields,omitempty"`
	Resolution string    `json:"resolution,omitempty"`
}

var _ port.Notifier = (*EventStream)(nil)

// wsConn is the part of *websocket.Conn the stream uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type streamClient struct {
	conn wsConn
	send chan []byte
}

// EventStream pushes store events, notifications and conflict prompts to
// websocket clients. Slow clients are dropped rather than blocking the store.
type EventStream struct {
	mu        sync.RWMutex
	clients   map[*streamClient]bool
	upgrader  websocket.Upgrader
	onResolve func(key domain.Key, r domain.Resolution) error
	logger    *slog.Logger
}

func NewEventStream(logger *slog.Logger) *EventStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStream{
		clients: make(map[*streamClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// OnResolve sets the callback for resolve messages sent by clients.
func (s *EventStream) OnResolve(fn func(key domain.Key, r domain.Resolution) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResolve = fn
}

func (s *EventStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := s.register(conn)
	go s.writeLoop(c)
	s.readLoop(c)
}

func (s *EventStream) register(conn wsConn) *streamClient {
	c := &streamClient{conn: conn, send: make(chan []byte, clientBuffer)}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	return c
}

func (s *EventStream) readLoop(c *streamClient) {
	defer s.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", slog.Any("error", err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageResolve {
			continue
		}
		s.mu.RLock()
		fn := s.onResolve
		s.mu.RUnlock()
		if fn == nil {
			continue
		}
		if err := fn(domain.Key(msg.Key), domain.Resolution(msg.Resolution)); err != nil {
			s.logger.Warn("resolve from websocket", slog.String("key", msg.Key), slog.Any("error", err))
		}
	}
}

func (s *EventStream) writeLoop(c *streamClient) {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("websocket write failed", slog.Any("error", err))
			s.drop(c)
			// Unblocks readLoop.
			c.conn.Close()
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

func (s *EventStream) drop(c *streamClient) {
	s.mu.Lock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}

// OnStoreEvent is a service.Listener.
func (s *EventStream) OnStoreEvent(evt domain.StoreEvent) {
	msg := Message{Type: MessageStore, Event: string(evt.Type), Key: evt.Key.String()}
	if evt.Game != nil && evt.Type != domain.EventRemove {
		msg.Game = newGameView(*evt.Game, nil)
	}
	if evt.Operation != nil {
		msg.Operation = string(evt.Operation.Kind)
	}
	s.Broadcast(msg)
}

func (s *EventStream) Success(message string) { s.notify("success", message) }
func (s *EventStream) Error(message string)   { s.notify("error", message) }
func (s *EventStream) Warning(message string) { s.notify("warning", message) }
func (s *EventStream) Info(message string)    { s.notify("info", message) }

func (s *EventStream) notify(level, message string) {
	s.Broadcast(Message{Type: MessageNotification, Level: level, Message: message})
}

func (s *EventStream) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	var slow []*streamClient
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		s.logger.Warn("dropping slow websocket client")
		s.drop(c)
	}
}

func (s *EventStream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}
