package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Types of events in and out of the socket.
const (
	TypeRoomJoin    = "room:join"
	TypeRoomLeave   = "room:leave"
	TypeUserJoined  = "room:user_joined"
	TypeUserLeft    = "room:user_left"
	TypeRoomError   = "room:error"
	TypeRoomFull    = "room:full"
	TypePlay        = "video:play"
	TypePause       = "video:pause"
	TypeSeek        = "video:seek"
	TypeState       = "video:state"
	TypeSync        = "video:sync"
	TypeSyncRequest = "video:sync_request"
)

type msgWrap struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// payloadMsgWrap is the inbound counterpart of msgWrap.
type payloadMsgWrap struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type msgVideoState struct {
	CurrentTime float64 `json:"currentTime"`
	IsPlaying   bool    `json:"isPlaying"`
	Timestamp   int64   `json:"timestamp"`
}

type msgRoster struct {
	RoomID       string `json:"roomId"`
	Participants int    `json:"participants"`
}

type msgError struct {
	Message string `json:"message"`
}

// msgControl is the payload of inbound playback intents. CurrentTime is
// optional for play/pause and required for seek. Intents never carry client
// timestamps; the server clock is authoritative.
type msgControl struct {
	CurrentTime *float64 `json:"currentTime"`
}

// peerReq represents a peer request (join, leave) that's processed by a Room.
type peerReq struct {
	reqType string
	peer    *Peer
}

// intent is a playback intent queued to a room's event loop. The issuing
// peer only matters for sync answers and error replies; the resulting state
// is a function of the intent order alone.
type intent struct {
	kind string
	pos  *float64
	peer *Peer
}

// Room represents a viewing room. All roster and playback mutations happen on
// the room's run() goroutine, so intents for one room apply one at a time in
// arrival order, while different rooms proceed fully in parallel.
type Room struct {
	ID        string
	VideoURL  string
	VideoID   string
	CreatedAt time.Time

	hub *Hub

	// Connected peers. Owned by the run() goroutine.
	peers map[*Peer]bool

	// Inbound queues drained by run().
	peerQ      chan peerReq
	intentQ    chan intent
	disposeSig chan bool

	// Read-side snapshots for concurrent HTTP lookups and the idle sweep.
	// Written only by the run() goroutine.
	mut        sync.RWMutex
	playback   PlaybackState
	numPeers   int
	emptySince time.Time
	closed     bool
}

// NewRoom returns a new instance of Room with playback initialized to a
// paused state at position zero.
func NewRoom(id, videoURL, videoID string, h *Hub) *Room {
	now := h.clock.Now()
	return &Room{
		ID:         id,
		VideoURL:   videoURL,
		VideoID:    videoID,
		CreatedAt:  now,
		hub:        h,
		peers:      make(map[*Peer]bool, 8),
		peerQ:      make(chan peerReq, h.cfg.MaxMessageQueue),
		intentQ:    make(chan intent, h.cfg.MaxMessageQueue),
		disposeSig: make(chan bool, 1),
		playback:   PlaybackState{UpdatedAt: now},
		emptySince: now,
	}
}

// AddPeer adds a new peer to the room given a WS connection from an HTTP
// handler.
func (r *Room) AddPeer(ws *websocket.Conn) {
	r.queuePeerReq(TypeRoomJoin, newPeer(ws, r))
}

// Dispose signals the room's event loop to shut down, disconnecting all
// peers. Safe to call more than once.
func (r *Room) Dispose() {
	r.mut.RLock()
	defer r.mut.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.disposeSig <- true:
	default:
	}
}

// Playback returns the current authoritative playback state.
func (r *Room) Playback() PlaybackState {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.playback
}

// ParticipantCount returns the number of connected peers.
func (r *Room) ParticipantCount() int {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.numPeers
}

// idleSince returns the instant the roster last became empty, or the zero
// time while the room is occupied. A never-joined room is idle since its
// creation.
func (r *Room) idleSince() time.Time {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.emptySince
}

// run is a blocking function that starts the main event loop for a room,
// serializing peer joins/leaves and playback intents. This should be invoked
// as a goroutine.
func (r *Room) run() {
loop:
	for {
		select {
		case <-r.disposeSig:
			break loop

		case req := <-r.peerQ:
			switch req.reqType {
			case TypeRoomJoin:
				r.addPeer(req.peer)
			case TypeRoomLeave:
				r.removePeer(req.peer)
			}

		case in := <-r.intentQ:
			r.apply(in)
		}
	}

	r.hub.log.Printf("stopped room: %v", r.ID)
	r.dispose()
}

// addPeer admits a peer into the roster and notifies everyone.
func (r *Room) addPeer(p *Peer) {
	// Room's capacity is exhausted. Kick the peer out.
	if r.hub.cfg.MaxPeersPerRoom > 0 && len(r.peers) >= r.hub.cfg.MaxPeersPerRoom {
		p.writeWSData(websocket.TextMessage, r.makePayload(msgError{Message: "room is full"}, TypeRoomFull))
		p.writeWSControl(websocket.FormatCloseMessage(websocket.CloseNormalClosure, TypeRoomFull))
		p.ws.Close()
		return
	}

	r.peers[p] = true
	r.publishRoster()
	go p.RunListener()
	go p.RunWriter()

	// Send the new peer the current playback state, alone.
	p.SendData(r.makePayload(r.Playback().videoState(), TypeState))

	// Notify all peers of the new addition.
	r.fanout(r.makePayload(msgRoster{RoomID: r.ID, Participants: len(r.peers)}, TypeUserJoined))
	r.hub.log.Printf("%s joined %s", p.ID, r.ID)
}

// removePeer removes a peer from the roster and notifies the remaining ones.
func (r *Room) removePeer(p *Peer) {
	if !r.peers[p] {
		return
	}
	delete(r.peers, p)
	p.closeQueue()
	r.publishRoster()

	r.fanout(r.makePayload(msgRoster{RoomID: r.ID, Participants: len(r.peers)}, TypeUserLeft))
	r.hub.log.Printf("%s left %s", p.ID, r.ID)
}

// apply executes a single playback intent against the current state. Every
// intent is accepted in every state; only out-of-range positions are
// rejected, and a rejection is reported to the sender alone, leaving the
// state and the rest of the roster untouched.
func (r *Room) apply(in intent) {
	var (
		now = r.hub.clock.Now()
		cur = r.Playback()

		next PlaybackState
		err  error
	)

	switch in.kind {
	case TypeSyncRequest:
		// Answer the requester with the projected position. No state change.
		in.peer.SendData(r.makePayload(msgVideoState{
			CurrentTime: cur.PositionAt(now),
			IsPlaying:   cur.Playing,
			Timestamp:   now.UnixMilli(),
		}, TypeSync))
		return

	case TypePlay:
		next, err = cur.play(in.pos, now)

	case TypePause:
		next, err = cur.pause(in.pos, now)

	case TypeSeek:
		if in.pos == nil {
			err = ErrInvalidPosition
		} else {
			next, err = cur.seek(*in.pos, now)
		}

	default:
		return
	}

	if err != nil {
		in.peer.SendData(r.makePayload(msgError{Message: err.Error()}, TypeRoomError))
		return
	}

	r.setPlayback(next)
	r.fanout(r.makePayload(next.videoState(), in.kind))
}

// dispose disconnects all peers and removes the room from the hub and the
// store. Destruction is irreversible.
func (r *Room) dispose() {
	r.mut.Lock()
	r.closed = true
	r.mut.Unlock()

	for p := range r.peers {
		p.writeWSControl(websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room disposed"))
		p.closeQueue()
		delete(r.peers, p)
	}
	r.hub.removeRoom(r.ID)
}

// queuePeerReq queues a peer addition / removal request to the room.
func (r *Room) queuePeerReq(reqType string, p *Peer) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.peerQ <- peerReq{reqType: reqType, peer: p}:
	default:
		r.hub.log.Printf("peer queue full on %s, dropping %s", r.ID, reqType)
	}
}

// queueIntent queues a playback intent to the room. Intents for a disposed
// room are dropped; the peer's connection is being torn down anyway.
func (r *Room) queueIntent(kind string, pos *float64, p *Peer) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.intentQ <- intent{kind: kind, pos: pos, peer: p}:
	default:
		r.hub.log.Printf("intent queue full on %s, dropping %s", r.ID, kind)
	}
}

// fanout delivers a payload to every peer in the roster at this moment.
// Only called from the run() goroutine, so the roster can't go stale
// between emission and delivery.
func (r *Room) fanout(data []byte) {
	for p := range r.peers {
		p.SendData(data)
	}
}

// setPlayback publishes a new playback state for concurrent readers.
func (r *Room) setPlayback(s PlaybackState) {
	r.mut.Lock()
	r.playback = s
	r.mut.Unlock()
}

// publishRoster publishes the roster size and tracks when the room became
// empty, which the hub's sweep uses for idle disposal.
func (r *Room) publishRoster() {
	r.mut.Lock()
	r.numPeers = len(r.peers)
	if r.numPeers == 0 {
		r.emptySince = r.hub.clock.Now()
	} else {
		r.emptySince = time.Time{}
	}
	r.mut.Unlock()
}

// makePayload prepares an event payload.
func (r *Room) makePayload(data interface{}, typ string) []byte {
	m := msgWrap{
		Timestamp: r.hub.clock.Now(),
		Type:      typ,
		Data:      data,
	}
	b, _ := json.Marshal(m)
	return b
}
