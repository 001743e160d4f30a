package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty/internal/hub"
	"watchparty/store/mem"
)

const testVideoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wsState struct {
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
	Timestamp   int64   `json:"timestamp"`
}

type wsRoster struct {
	RoomID       string `json:"roomId"`
	Participants int    `json:"participants"`
}

func newTestApp(t *testing.T) (*App, *httptest.Server, *clockwork.FakeClock) {
	t.Helper()

	st, err := mem.New(mem.Config{})
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(testEpoch)
	app := &App{
		logger: log.New(io.Discard, "", 0),
		clock:  clock,
		cfg: &hub.Config{
			Name:            "test",
			RoomIDLen:       10,
			MaxRooms:        10,
			MaxPeersPerRoom: 10,
			MaxMessageLen:   3000,
			MaxMessageQueue: 100,
			WSTimeout:       10 * time.Second,
			RoomIdleTimeout: 5 * time.Minute,
			RoomAge:         24 * time.Hour,
			SweepInterval:   10 * time.Second,
		},
	}
	app.hub = hub.NewHub(app.cfg, st, clock, app.logger)

	srv := httptest.NewServer(initRouter(app))
	t.Cleanup(srv.Close)
	return app, srv, clock
}

func createRoom(t *testing.T, srv *httptest.Server, videoURL string) roomResp {
	t.Helper()

	b, _ := json.Marshal(reqRoom{YoutubeURL: videoURL})
	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out roomResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func dialWS(t *testing.T, srv *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev wsEvent
	require.NoError(t, json.Unmarshal(b, &ev))
	return ev
}

func readState(t *testing.T, conn *websocket.Conn, wantType string) wsState {
	t.Helper()

	ev := readEvent(t, conn)
	require.Equal(t, wantType, ev.Type)

	var st wsState
	require.NoError(t, json.Unmarshal(ev.Data, &st))
	return st
}

func readRoster(t *testing.T, conn *websocket.Conn, wantType string) wsRoster {
	t.Helper()

	ev := readEvent(t, conn)
	require.Equal(t, wantType, ev.Type)

	var ro wsRoster
	require.NoError(t, json.Unmarshal(ev.Data, &ro))
	return ro
}

func sendEvent(t *testing.T, conn *websocket.Conn, typ string, data interface{}) {
	t.Helper()

	b, err := json.Marshal(map[string]interface{}{"type": typ, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func TestCreateRoom(t *testing.T) {
	_, srv, _ := newTestApp(t)

	room := createRoom(t, srv, testVideoURL)
	assert.Len(t, room.ID, 10)
	assert.Equal(t, testVideoURL, room.YoutubeURL)
	assert.Equal(t, "dQw4w9WgXcQ", room.YoutubeVideoID)
	assert.False(t, room.IsPlaying)
	assert.Equal(t, 0.0, room.CurrentTime)
	assert.Equal(t, 0, room.Participants)
}

func TestCreateRoomInvalidURL(t *testing.T) {
	_, srv, _ := newTestApp(t)

	b, _ := json.Marshal(reqRoom{YoutubeURL: "https://example.com/clip"})
	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out errResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.Error)
}

func TestGetRoomNotFound(t *testing.T) {
	_, srv, _ := newTestApp(t)

	for _, path := range []string{"/api/rooms/nosuchroom", "/api/rooms/nosuchroom/state"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}

func TestWSUnknownRoomRejected(t *testing.T) {
	_, srv, _ := newTestApp(t)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/nosuchroom"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func getRoomState(t *testing.T, srv *httptest.Server, roomID string) wsState {
	t.Helper()

	resp, err := http.Get(srv.URL + "/api/rooms/" + roomID + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st wsState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestPlaybackSyncFlow(t *testing.T) {
	_, srv, clock := newTestApp(t)
	room := createRoom(t, srv, testVideoURL)

	// First participant joins: gets the initial state, then the roster
	// update that includes itself.
	connA := dialWS(t, srv, room.ID)
	stA := readState(t, connA, "video:state")
	assert.Equal(t, 0.0, stA.CurrentTime)
	assert.False(t, stA.IsPlaying)
	assert.Equal(t, 1, readRoster(t, connA, "room:user_joined").Participants)

	// Second participant joins: both see the roster grow.
	connB := dialWS(t, srv, room.ID)
	readState(t, connB, "video:state")
	assert.Equal(t, 2, readRoster(t, connB, "room:user_joined").Participants)
	assert.Equal(t, 2, readRoster(t, connA, "room:user_joined").Participants)

	// A starts playback; everyone gets the broadcast.
	sendEvent(t, connA, "video:play", map[string]interface{}{})
	for _, conn := range []*websocket.Conn{connA, connB} {
		st := readState(t, conn, "video:play")
		assert.Equal(t, 0.0, st.CurrentTime)
		assert.True(t, st.IsPlaying)
		assert.Equal(t, testEpoch.UnixMilli(), st.Timestamp)
	}

	// Five seconds in, B asks for a sync and gets the projected position.
	clock.Advance(5 * time.Second)
	sendEvent(t, connB, "video:sync_request", nil)
	sync := readState(t, connB, "video:sync")
	assert.Equal(t, 5.0, sync.CurrentTime)
	assert.True(t, sync.IsPlaying)

	// The REST state endpoint reports the same projection.
	st := getRoomState(t, srv, room.ID)
	assert.Equal(t, 5.0, st.CurrentTime)
	assert.True(t, st.IsPlaying)

	// B pauses; the position freezes at 5 for everyone.
	sendEvent(t, connB, "video:pause", map[string]interface{}{})
	for _, conn := range []*websocket.Conn{connA, connB} {
		st := readState(t, conn, "video:pause")
		assert.Equal(t, 5.0, st.CurrentTime)
		assert.False(t, st.IsPlaying)
	}

	// A paused clock does not advance.
	clock.Advance(15 * time.Second)
	assert.Equal(t, 5.0, getRoomState(t, srv, room.ID).CurrentTime)

	// Seek while paused keeps the room paused.
	sendEvent(t, connA, "video:seek", map[string]interface{}{"currentTime": 120})
	for _, conn := range []*websocket.Conn{connA, connB} {
		st := readState(t, conn, "video:seek")
		assert.Equal(t, 120.0, st.CurrentTime)
		assert.False(t, st.IsPlaying)
	}

	// B leaves; A sees the roster shrink.
	connB.Close()
	assert.Equal(t, 1, readRoster(t, connA, "room:user_left").Participants)
}

func TestWSInvalidIntentRejectedToSenderOnly(t *testing.T) {
	_, srv, _ := newTestApp(t)
	room := createRoom(t, srv, testVideoURL)

	connA := dialWS(t, srv, room.ID)
	readState(t, connA, "video:state")
	readRoster(t, connA, "room:user_joined")

	connB := dialWS(t, srv, room.ID)
	readState(t, connB, "video:state")
	readRoster(t, connB, "room:user_joined")
	readRoster(t, connA, "room:user_joined")

	// A negative seek is rejected to the sender alone and leaves the room
	// loop alive.
	sendEvent(t, connA, "video:seek", map[string]interface{}{"currentTime": -3})
	assert.Equal(t, "room:error", readEvent(t, connA).Type)

	// The room still processes intents, and B never saw the rejection.
	sendEvent(t, connA, "video:play", map[string]interface{}{})
	assert.Equal(t, "video:play", readEvent(t, connB).Type)
	assert.Equal(t, "video:play", readEvent(t, connA).Type)

	// State was untouched by the rejected seek.
	assert.Equal(t, 0.0, getRoomState(t, srv, room.ID).CurrentTime)
}

func TestIdleRoomSweptAndForgotten(t *testing.T) {
	app, srv, clock := newTestApp(t)
	room := createRoom(t, srv, testVideoURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.hub.Run(ctx)

	// Wait for the sweep ticker to be armed before moving the clock.
	clock.BlockUntil(1)
	clock.Advance(app.cfg.RoomIdleTimeout + app.cfg.SweepInterval + time.Second)

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/api/rooms/" + room.ID)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 3*time.Second, 20*time.Millisecond)
}
