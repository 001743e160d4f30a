package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Peer represents an individual connection into a room.
type Peer struct {
	// Connection ID, unique per socket.
	ID string

	ws *websocket.Conn

	// Channel for outbound messages. mu guards closed so that the room's
	// event loop can shut the queue while the listener is still sending.
	dataQ  chan []byte
	mu     sync.Mutex
	closed bool

	// Peer's room.
	room *Room
}

// newPeer returns a new instance of Peer.
func newPeer(ws *websocket.Conn, room *Room) *Peer {
	return &Peer{
		ID:    uuid.NewString(),
		ws:    ws,
		dataQ: make(chan []byte, room.hub.cfg.MaxMessageQueue),
		room:  room,
	}
}

// RunListener is a blocking function that reads incoming messages from a
// peer's WS connection until it's dropped or there's an error. This should be
// invoked as a goroutine. A dropped connection is an implicit leave; intents
// queued before the drop still apply.
func (p *Peer) RunListener() {
	p.ws.SetReadLimit(int64(p.room.hub.cfg.MaxMessageLen))
	for {
		_, m, err := p.ws.ReadMessage()
		if err != nil {
			break
		}
		p.processMessage(m)
	}

	// WS connection is closed.
	p.ws.Close()
	p.room.queuePeerReq(TypeRoomLeave, p)
}

// RunWriter is a blocking function that writes messages in a peer's queue to
// the peer's WS connection. This should be invoked as a goroutine.
func (p *Peer) RunWriter() {
	defer p.ws.Close()
	for {
		message, ok := <-p.dataQ
		if !ok {
			p.writeWSData(websocket.CloseMessage, []byte{})
			return
		}
		if err := p.writeWSData(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// SendData queues a message to be written to the peer's WS. A peer that
// can't drain its queue loses messages rather than stalling the room.
func (p *Peer) SendData(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.dataQ <- b:
	default:
	}
}

// closeQueue shuts the peer's outbound queue, unwinding its writer.
func (p *Peer) closeQueue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.dataQ)
	}
}

// writeWSData writes the given payload to the peer's WS connection.
func (p *Peer) writeWSData(msgType int, payload []byte) error {
	p.ws.SetWriteDeadline(time.Now().Add(p.room.hub.cfg.WSTimeout))
	return p.ws.WriteMessage(msgType, payload)
}

// writeWSControl writes the given control payload to the peer's WS connection.
func (p *Peer) writeWSControl(payload []byte) error {
	return p.ws.WriteControl(websocket.CloseMessage, payload, time.Time{})
}

// processMessage maps an incoming socket message to a room intent.
func (p *Peer) processMessage(b []byte) {
	var m payloadMsgWrap
	if err := json.Unmarshal(b, &m); err != nil {
		p.SendData(p.room.makePayload(msgError{Message: "malformed message"}, TypeRoomError))
		return
	}

	switch m.Type {
	// Playback intents.
	case TypePlay, TypePause, TypeSeek:
		var ctl msgControl
		if len(m.Data) > 0 {
			if err := json.Unmarshal(m.Data, &ctl); err != nil {
				p.SendData(p.room.makePayload(msgError{Message: "malformed payload"}, TypeRoomError))
				return
			}
		}
		if m.Type == TypeSeek && ctl.CurrentTime == nil {
			p.SendData(p.room.makePayload(msgError{Message: "seek requires currentTime"}, TypeRoomError))
			return
		}
		p.room.queueIntent(m.Type, ctl.CurrentTime, p)

	// Request for the current state.
	case TypeSyncRequest:
		p.room.queueIntent(TypeSyncRequest, nil, p)

	// Leaving is just a disconnect. Closing the socket unwinds the listener,
	// which queues the actual leave.
	case TypeRoomLeave:
		p.ws.Close()

	default:
	}
}
