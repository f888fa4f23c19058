package gateway

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/mindhaven/crisisflow/internal/logging"
	"github.com/mindhaven/crisisflow/pkg/messaging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one dashboard connection. An empty workflow filter receives
// every timeline event.
type wsClient struct {
	id       uuid.UUID
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	workflow uuid.UUID
}

// Subscriber is the bus surface the feed consumes.
type Subscriber interface {
	Subscribe(subject string, handler func(msg *nats.Msg)) error
	Unsubscribe(subject string) error
}

// Feed relays workflow timeline events from the bus to websocket clients.
type Feed struct {
	bus     Subscriber
	clients map[uuid.UUID]*wsClient
	mu      sync.RWMutex
	log     *logging.Logger
}

// NewFeed subscribes to the timeline subject and starts relaying.
func NewFeed(bus Subscriber, log *logging.Logger) (*Feed, error) {
	f := &Feed{
		bus:     bus,
		clients: make(map[uuid.UUID]*wsClient),
		log:     log.Component("feed"),
	}
	if err := bus.Subscribe(messaging.SubjectTimelineEvent, f.relay); err != nil {
		return nil, err
	}
	return f, nil
}

// Close drops the bus subscription and disconnects every client.
func (f *Feed) Close() {
	f.bus.Unsubscribe(messaging.SubjectTimelineEvent)
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, client := range f.clients {
		close(client.done)
		client.conn.Close()
		delete(f.clients, id)
	}
}

func (f *Feed) relay(msg *nats.Msg) {
	var ev messaging.TimelineEventMessage
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		f.log.Debug("dropping malformed timeline message", "error", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, client := range f.clients {
		if client.workflow != uuid.Nil && client.workflow != ev.WorkflowID {
			continue
		}
		select {
		case client.send <- msg.Data:
		default:
			// Slow consumer; the event is already durable on the timeline.
		}
	}
}

// Attach upgrades the request and starts the read/write pumps.
func (f *Feed) Attach(c *gin.Context) {
	var filter uuid.UUID
	if raw := c.Query("workflow_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow_id"})
			return
		}
		filter = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		id:       uuid.New(),
		conn:     conn,
		send:     make(chan []byte, 32),
		done:     make(chan struct{}),
		workflow: filter,
	}
	f.mu.Lock()
	f.clients[client.id] = client
	f.mu.Unlock()

	go f.readPump(client)
	go f.writePump(client)
}

func (f *Feed) readPump(client *wsClient) {
	defer func() {
		f.mu.Lock()
		if _, ok := f.clients[client.id]; ok {
			delete(f.clients, client.id)
			close(client.done)
		}
		f.mu.Unlock()
		client.conn.Close()
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
		// The feed is one-way; inbound frames are ignored.
	}
}

func (f *Feed) writePump(client *wsClient) {
	for {
		select {
		case message := <-client.send:
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}
