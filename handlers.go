package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"

	"watchparty/internal/hub"
)

const (
	hasRoom = 1 << iota
)

// reqCtx is the context injected into every request.
type reqCtx struct {
	app  *App
	room *hub.Room
}

// errResp is the envelope for JSON API errors.
type errResp struct {
	Error string `json:"error"`
}

// roomResp is the external representation of a room. CurrentTime is the
// position projected to the instant of the read.
type roomResp struct {
	ID             string    `json:"id"`
	YoutubeURL     string    `json:"youtubeUrl"`
	YoutubeVideoID string    `json:"youtubeVideoId"`
	CreatedAt      time.Time `json:"createdAt"`
	CurrentTime    float64   `json:"currentTime"`
	IsPlaying      bool      `json:"isPlaying"`
	Participants   int       `json:"participants"`
}

// stateResp is the external representation of synced playback state.
// Timestamp is the authoritative server instant in Unix milliseconds;
// clients replay position as currentTime + (isPlaying ? now - timestamp : 0)
// on their own clocks.
type stateResp struct {
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
	Timestamp   int64   `json:"timestamp"`
}

type reqRoom struct {
	YoutubeURL string `json:"youtubeUrl"`
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	return true
}}

// handleIndex renders the landing page.
func handleIndex(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)
	respondHTML("index", http.StatusOK, w, app)
}

// handleCreateRoom creates a new room for the posted video URL.
func handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context().Value("ctx").(*reqCtx)
		app = ctx.app
	)

	var req reqRoom
	if err := readJSONReq(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "error parsing JSON request")
		return
	}

	room, err := app.hub.AddRoom(req.YoutubeURL)
	switch {
	case errors.Is(err, hub.ErrInvalidVideoRef):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, hub.ErrCapacityExceeded):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		app.logger.Printf("error creating room: %v", err)
		respondError(w, http.StatusInternalServerError, "error creating room")
	default:
		respondJSON(w, http.StatusCreated, makeRoomResp(room, app))
	}
}

// handleGetRoom returns a room snapshot.
func handleGetRoom(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context().Value("ctx").(*reqCtx)
		app  = ctx.app
		room = ctx.room
	)

	if room == nil {
		respondError(w, http.StatusNotFound, hub.ErrRoomNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, makeRoomResp(room, app))
}

// handleRoomState returns the room's synced playback state.
func handleRoomState(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context().Value("ctx").(*reqCtx)
		app  = ctx.app
		room = ctx.room
	)

	if room == nil {
		respondError(w, http.StatusNotFound, hub.ErrRoomNotFound.Error())
		return
	}

	var (
		now = app.clock.Now()
		pb  = room.Playback()
	)
	respondJSON(w, http.StatusOK, stateResp{
		CurrentTime: pb.PositionAt(now),
		IsPlaying:   pb.Playing,
		Timestamp:   now.UnixMilli(),
	})
}

// handleWS joins an incoming connection to a room.
func handleWS(w http.ResponseWriter, r *http.Request) {
	var (
		ctx  = r.Context().Value("ctx").(*reqCtx)
		app  = ctx.app
		room = ctx.room
	)

	if room == nil {
		respondError(w, http.StatusNotFound, hub.ErrRoomNotFound.Error())
		return
	}

	// Create the WS connection.
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Printf("websocket upgrade failed: %s: %v", r.RemoteAddr, err)
		return
	}

	// Joining is an intent like any other: it passes through the room's
	// serialization point.
	room.AddPeer(ws)
}

// makeRoomResp builds the room snapshot response.
func makeRoomResp(room *hub.Room, app *App) roomResp {
	pb := room.Playback()
	return roomResp{
		ID:             room.ID,
		YoutubeURL:     room.VideoURL,
		YoutubeVideoID: room.VideoID,
		CreatedAt:      room.CreatedAt,
		CurrentTime:    pb.PositionAt(app.clock.Now()),
		IsPlaying:      pb.Playing,
		Participants:   room.ParticipantCount(),
	}
}

// respondJSON responds to an HTTP request with a JSON payload.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	b, err := json.Marshal(data)
	if err != nil {
		logger.Printf("error marshalling JSON response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

// respondError responds to an HTTP request with a JSON error envelope.
func respondError(w http.ResponseWriter, statusCode int, msg string) {
	respondJSON(w, statusCode, errResp{Error: msg})
}

// respondHTML responds to an HTTP request with the HTML output of a given
// template.
func respondHTML(tplName string, statusCode int, w http.ResponseWriter, app *App) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if statusCode > 0 {
		w.WriteHeader(statusCode)
	}
	if err := app.tpl.ExecuteTemplate(w, tplName, struct {
		Config *hub.Config
	}{app.cfg}); err != nil {
		app.logger.Printf("error rendering template %s: %s", tplName, err)
		w.Write([]byte("error rendering template"))
	}
}

// wrap is a middleware that resolves the room for room-scoped HTTP handlers
// and attaches the app context.
func wrap(next http.HandlerFunc, app *App, opts uint8) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &reqCtx{app: app}

		// Check if the room is valid and active. If it's not, req.room stays
		// nil and the target handler responds with the not-found error.
		if opts&hasRoom != 0 {
			room, err := app.hub.GetRoom(chi.URLParam(r, "roomID"))
			if err == nil {
				req.room = room
			}
		}

		// Attach the request context.
		ctx := context.WithValue(r.Context(), "ctx", req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// readJSONReq reads the JSON body from a request and unmarshals it to the
// given target.
func readJSONReq(r *http.Request, o interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, o)
}
