package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	benclock "github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/meshguard/internal/api/http/handlers"
	apiws "github.com/weisyn/meshguard/internal/api/websocket"
	apicfg "github.com/weisyn/meshguard/internal/config/api"
	resilienceconfig "github.com/weisyn/meshguard/internal/config/resilience"
	"github.com/weisyn/meshguard/internal/core/resilience/degradation"
	"github.com/weisyn/meshguard/internal/core/resilience/testutil"
	"github.com/weisyn/meshguard/pkg/constants/events"
	"github.com/weisyn/meshguard/pkg/types"
)

func TestEventHistoryRoutes(t *testing.T) {
	bus := testutil.NewBus()
	require.NoError(t, bus.EnableEventHistory(events.EventTypeModeChanged, 2))
	for _, to := range []types.OperationMode{types.ModeHybrid, types.ModeCentralizedOnly, types.ModeOffline} {
		bus.Publish(events.EventTypeModeChanged, types.ModeChangedEvent{To: to, Reason: "test", At: time.Unix(0, 0).UTC()})
	}

	h := &harness{router: NewRouter(apicfg.HTTPConfig{}, Services{Events: bus}, nil)}

	w := h.do(http.MethodGet, "/api/v1/resilience/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summary []handlers.EventTypeSummary
	decodeData(t, w, &summary)
	assert.Len(t, summary, len(events.AllEventTypes()))
	for _, s := range summary {
		if s.Type == string(events.EventTypeModeChanged) {
			assert.Equal(t, 2, s.Count)
		} else {
			assert.Zero(t, s.Count, s.Type)
		}
	}

	w = h.do(http.MethodGet, "/api/v1/resilience/events/degradation.mode.changed?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Type   string                   `json:"type"`
		Events []types.ModeChangedEvent `json:"events"`
	}
	decodeData(t, w, &history)
	require.Len(t, history.Events, 1)
	assert.Equal(t, types.ModeOffline, history.Events[0].To)

	w = h.do(http.MethodGet, "/api/v1/resilience/events/peer.recovered", "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &history)
	assert.Empty(t, history.Events)

	w = h.do(http.MethodGet, "/api/v1/resilience/events/bogus", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RES_UNKNOWN_EVENT_TYPE", decodeProblem(t, w).Code)

	w = h.do(http.MethodGet, "/api/v1/resilience/events/peer.recovered?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventHistoryUnavailableWithoutBus(t *testing.T) {
	router := NewRouter(apicfg.HTTPConfig{}, Services{}, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/resilience/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func streamURL(base, query string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/api/v1/resilience/events/stream" + query
}

func TestEventStream_ReceivesModeChange(t *testing.T) {
	bus := testutil.NewBus()
	deg := degradation.NewController(resilienceconfig.DefaultOptions().Degradation, benclock.NewMock(), bus, nil)
	t.Cleanup(deg.Stop)

	srv := httptest.NewServer(NewRouter(apicfg.HTTPConfig{}, Services{Degradation: deg, Events: bus}, nil))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial(streamURL(srv.URL, "?types=degradation.mode.changed"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var frame struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, apiws.FrameSubscribed, frame.Type)

	require.NoError(t, deg.SetOperationMode(context.Background(), types.ModeCentralizedOnly, "manual"))

	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, string(events.EventTypeModeChanged), frame.Type)
	var ev types.ModeChangedEvent
	require.NoError(t, json.Unmarshal(frame.Payload, &ev))
	assert.Equal(t, types.ModeP2POnly, ev.From)
	assert.Equal(t, types.ModeCentralizedOnly, ev.To)
	assert.Equal(t, "manual", ev.Reason)
}

func TestEventStream_RejectsBeforeUpgrade(t *testing.T) {
	srv := httptest.NewServer(NewRouter(apicfg.HTTPConfig{}, Services{Events: testutil.NewBus()}, nil))
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial(streamURL(srv.URL, "?types=bogus"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	noBus := httptest.NewServer(NewRouter(apicfg.HTTPConfig{}, Services{}, nil))
	t.Cleanup(noBus.Close)
	_, resp, err = websocket.DefaultDialer.Dial(streamURL(noBus.URL, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerStop_ClosesEventStreams(t *testing.T) {
	bus := testutil.NewBus()
	s := NewServer(apicfg.HTTPConfig{ListenAddr: "127.0.0.1:0", ShutdownTimeout: time.Second}, Services{Events: bus}, nil)
	require.NoError(t, s.Start())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/api/v1/resilience/events/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err=%v", err)
}
