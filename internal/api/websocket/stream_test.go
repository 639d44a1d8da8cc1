package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/meshguard/internal/core/resilience/testutil"
	"github.com/weisyn/meshguard/pkg/constants/events"
	eventiface "github.com/weisyn/meshguard/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/meshguard/pkg/types"
)

type rawFrame struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Dropped uint64          `json:"dropped"`
}

func newStream(t *testing.T) (*Server, eventiface.EventBus, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bus := testutil.NewBus()
	s := NewServer(bus, nil)
	t.Cleanup(s.Close)

	router := gin.New()
	s.RegisterRoutes(router.Group("/api/v1"))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return s, bus, srv
}

func dial(t *testing.T, base, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(base, "http") + "/api/v1/resilience/events/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) rawFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f rawFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestStream_FiltersByType(t *testing.T) {
	s, bus, srv := newStream(t)
	conn := dial(t, srv.URL, "?types=degradation.mode.changed")

	first := readFrame(t, conn)
	assert.Equal(t, FrameSubscribed, first.Type)
	var subscribed []string
	require.NoError(t, json.Unmarshal(first.Payload, &subscribed))
	assert.Equal(t, []string{string(events.EventTypeModeChanged)}, subscribed)
	assert.Equal(t, 1, s.Clients())

	bus.Publish(events.EventTypePeerRecovered, types.PeerRecoveredEvent{Attempts: 1})
	bus.Publish(events.EventTypeModeChanged, types.ModeChangedEvent{
		From: types.ModeP2POnly, To: types.ModeHybrid, Reason: "degraded",
	})

	f := readFrame(t, conn)
	assert.Equal(t, string(events.EventTypeModeChanged), f.Type)
	assert.NotZero(t, f.Seq)
	assert.Zero(t, f.Dropped)
	var ev types.ModeChangedEvent
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	assert.Equal(t, types.ModeHybrid, ev.To)
	assert.Equal(t, "degraded", ev.Reason)
}

func TestStream_AllTypesByDefault(t *testing.T) {
	_, bus, srv := newStream(t)
	conn := dial(t, srv.URL, "")

	var subscribed []string
	require.NoError(t, json.Unmarshal(readFrame(t, conn).Payload, &subscribed))
	assert.Len(t, subscribed, len(events.AllEventTypes()))

	bus.Publish(events.EventTypePeerRecovered, types.PeerRecoveredEvent{Attempts: 2})
	bus.Publish(events.EventTypeModeChanged, types.ModeChangedEvent{To: types.ModeOffline})

	first, second := readFrame(t, conn), readFrame(t, conn)
	assert.Equal(t, string(events.EventTypePeerRecovered), first.Type)
	assert.Equal(t, string(events.EventTypeModeChanged), second.Type)
	assert.Less(t, first.Seq, second.Seq)
}

func TestStream_ClientDisconnectDetaches(t *testing.T) {
	s, bus, srv := newStream(t)
	conn := dial(t, srv.URL, "")
	readFrame(t, conn)
	require.Equal(t, 1, s.Clients())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// 无连接时发布不阻塞
	bus.Publish(events.EventTypeModeChanged, types.ModeChangedEvent{To: types.ModeHybrid})
}

func TestStream_CloseEndsConnections(t *testing.T) {
	s, bus, srv := newStream(t)
	conn := dial(t, srv.URL, "")
	readFrame(t, conn)

	s.Close()
	s.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err=%v", err)
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	assert.False(t, bus.HasCallback(events.EventTypeModeChanged))
}

func TestStream_SlowClientDropsAndReports(t *testing.T) {
	s := &Server{clients: make(map[*client]struct{})}
	cl := &client{
		types: map[events.EventType]struct{}{events.EventTypeModeChanged: {}},
		send:  make(chan Frame, 1),
	}
	s.clients[cl] = struct{}{}

	for i := 0; i < 3; i++ {
		s.dispatch(events.EventTypeModeChanged, types.ModeChangedEvent{})
	}
	s.dispatch(events.EventTypePeerRecovered, types.PeerRecoveredEvent{})

	assert.Len(t, cl.send, 1)
	assert.EqualValues(t, 2, cl.dropped.Load())
}

func TestParseTypes(t *testing.T) {
	all, err := parseTypes("")
	require.NoError(t, err)
	assert.Equal(t, events.AllEventTypes(), all)

	got, err := parseTypes(" degradation.mode.changed , peer.recovered,degradation.mode.changed,")
	require.NoError(t, err)
	assert.Equal(t, []events.EventType{events.EventTypeModeChanged, events.EventTypePeerRecovered}, got)

	_, err = parseTypes("degradation.mode.changed,bogus")
	assert.ErrorContains(t, err, "bogus")
}
