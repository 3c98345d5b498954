package gateway

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/farid/orbit/pkg/events"
)

// EventMessage is the wire shape of one websocket event.
type EventMessage struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	Seq       int64       `json:"seq"`
}

// Broadcaster fans event bus topics out to connected websocket clients.
// A client whose write fails is dropped.
type Broadcaster struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	mu       sync.Mutex
	clients  map[*websocket.Conn]*subscriber
	unsubs   []func()
	seq      uint64
}

// subscriber wraps a connection with a write lock. Bus handlers run on
// separate goroutines and gorilla/websocket allows one concurrent writer.
type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *subscriber) write(msg EventMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Topics forwarded to websocket clients.
var broadcastTopics = []string{
	events.TopicScheduleUpdated,
	events.TopicAgentFileUpdated,
	events.TopicAgentReloaded,
}

// NewBroadcaster creates a broadcaster bound to bus.
func NewBroadcaster(bus *events.Bus, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		bus:     bus,
		logger:  logger.With().Str("component", "broadcaster").Logger(),
		clients: make(map[*websocket.Conn]*subscriber),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start subscribes to the forwarded topics.
func (b *Broadcaster) Start() {
	for _, topic := range broadcastTopics {
		topic := topic
		unsub := b.bus.On(topic, func(payload interface{}) {
			b.broadcast(topic, payload)
		})
		b.unsubs = append(b.unsubs, unsub)
	}
}

// Stop unsubscribes and closes every client.
func (b *Broadcaster) Stop() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		conn.Close()
	}
	clear(b.clients)
}

// HandleUpgrade upgrades an HTTP request to a websocket subscription.
func (b *Broadcaster) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	b.mu.Lock()
	b.clients[conn] = &subscriber{conn: conn}
	count := len(b.clients)
	b.mu.Unlock()

	b.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", count).Msg("Event subscriber connected")

	// Drain the read side so pings and close frames are processed.
	go func() {
		defer b.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) broadcast(topic string, payload interface{}) {
	msg := EventMessage{
		Type:      "event",
		Topic:     topic,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
		Seq:       int64(atomic.AddUint64(&b.seq, 1)),
	}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.clients))
	for _, sub := range b.clients {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.write(msg); err != nil {
			b.logger.Warn().Err(err).Str("topic", topic).Msg("Dropping event subscriber")
			b.drop(sub.conn)
		}
	}
}

func (b *Broadcaster) drop(conn *websocket.Conn) {
	b.mu.Lock()
	_, present := b.clients[conn]
	delete(b.clients, conn)
	b.mu.Unlock()

	if present {
		conn.Close()
	}
}
