package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindhaven/crisisflow/internal/logging"
	"github.com/mindhaven/crisisflow/pkg/messaging"
)

// fakeBus hands the relay handler back to the test instead of NATS.
type fakeBus struct {
	handler func(msg *nats.Msg)
}

func (b *fakeBus) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	b.handler = handler
	return nil
}

func (b *fakeBus) Unsubscribe(subject string) error { return nil }

func (b *fakeBus) publish(t *testing.T, ev messaging.TimelineEventMessage) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	b.handler(&nats.Msg{Subject: messaging.SubjectTimelineEvent, Data: data})
}

type feedFixture struct {
	feed *Feed
	bus  *fakeBus
	srv  *httptest.Server
}

func newFeedFixture(t *testing.T) *feedFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bus := &fakeBus{}
	feed, err := NewFeed(bus, logging.Discard())
	require.NoError(t, err)

	router := gin.New()
	router.GET("/ws", feed.Attach)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &feedFixture{feed: feed, bus: bus, srv: srv}
}

// dial connects a websocket client and waits until the feed has registered
// it, so a publish right after cannot slip past an unregistered client.
func (f *feedFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	f.feed.mu.RLock()
	before := len(f.feed.clients)
	f.feed.mu.RUnlock()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		f.feed.mu.RLock()
		defer f.feed.mu.RUnlock()
		return len(f.feed.clients) > before
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestFeedRelaysTimelineEvents(t *testing.T) {
	f := newFeedFixture(t)
	conn := f.dial(t, "")

	ev := messaging.TimelineEventMessage{
		WorkflowID: uuid.New(),
		SubjectID:  "subject-1",
		Seq:        1,
		Kind:       "workflow-created",
		Actor:      "orchestrator",
	}
	f.bus.publish(t, ev)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got messaging.TimelineEventMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ev.WorkflowID, got.WorkflowID)
	assert.Equal(t, "workflow-created", got.Kind)
}

func TestFeedFiltersByWorkflow(t *testing.T) {
	f := newFeedFixture(t)
	wanted := uuid.New()
	conn := f.dial(t, "?workflow_id="+wanted.String())

	f.bus.publish(t, messaging.TimelineEventMessage{WorkflowID: uuid.New(), Kind: "other"})
	f.bus.publish(t, messaging.TimelineEventMessage{WorkflowID: wanted, Kind: "wanted"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got messaging.TimelineEventMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, wanted, got.WorkflowID, "events for other workflows are filtered out")
}

func TestFeedRejectsBadFilter(t *testing.T) {
	f := newFeedFixture(t)

	resp, err := http.Get(f.srv.URL + "/ws?workflow_id=not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFeedCloseDisconnectsClients(t *testing.T) {
	f := newFeedFixture(t)
	conn := f.dial(t, "")

	f.feed.Close()

	// The server side tore the connection down, so the client read fails
	// without waiting for a deadline.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), "timeout"), "close must not rely on read deadlines")
}
