package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"watchparty/internal/video"
	"watchparty/store"
)

// Errors surfaced at the API and socket boundaries. None of them is fatal to
// a room's event loop.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrInvalidVideoRef  = errors.New("invalid video reference")
	ErrInvalidPosition  = errors.New("invalid playback position")
	ErrCapacityExceeded = errors.New("too many active rooms")
)

// Config represents the app configuration.
type Config struct {
	Address string `koanf:"address"`
	RootURL string `koanf:"root_url"`

	Name            string        `koanf:"name"`
	RoomIDLen       int           `koanf:"room_id_length"`
	MaxRooms        int           `koanf:"max_rooms"`
	MaxPeersPerRoom int           `koanf:"max_peers_per_room"`
	MaxMessageLen   int           `koanf:"max_message_length"`
	MaxMessageQueue int           `koanf:"max_message_queue"`
	WSTimeout       time.Duration `koanf:"websocket_timeout"`
	RoomIdleTimeout time.Duration `koanf:"room_idle_timeout"`
	RoomAge         time.Duration `koanf:"room_age"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`
}

// Hub acts as the registry and container for all viewing rooms.
type Hub struct {
	Store store.Store
	rooms map[string]*Room

	cfg   *Config
	clock clockwork.Clock
	mut   sync.RWMutex
	log   *log.Logger
}

// NewHub returns a new instance of Hub.
func NewHub(cfg *Config, st store.Store, clock clockwork.Clock, l *log.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]*Room),

		cfg:   cfg,
		Store: st,
		clock: clock,
		log:   l,
	}
}

// AddRoom resolves the video reference, creates a new room in the store,
// adds it to the hub, and starts its event loop. The room starts paused at
// position zero with no participants.
func (h *Hub) AddRoom(videoURL string) (*Room, error) {
	ref, err := video.Resolve(videoURL)
	if err != nil {
		return nil, ErrInvalidVideoRef
	}

	id, err := h.generateRoomID(h.cfg.RoomIDLen, 5)
	if err != nil {
		return nil, err
	}

	h.mut.Lock()
	defer h.mut.Unlock()

	if h.cfg.MaxRooms > 0 && len(h.rooms) >= h.cfg.MaxRooms {
		return nil, ErrCapacityExceeded
	}

	r := NewRoom(id, ref.URL, ref.ID, h)

	// Record the room in the store for the duration of its life.
	if err := h.Store.AddRoom(store.Room{
		ID:        id,
		VideoURL:  ref.URL,
		VideoID:   ref.ID,
		CreatedAt: r.CreatedAt,
	}, h.cfg.RoomAge); err != nil {
		h.log.Printf("error creating room in the store: %v", err)
		return nil, errors.New("error creating room")
	}

	h.rooms[id] = r
	go r.run()
	return r, nil
}

// GetRoom retrieves an active room from the hub.
func (h *Hub) GetRoom(id string) (*Room, error) {
	h.mut.RLock()
	r, ok := h.rooms[id]
	h.mut.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// Run sweeps rooms that have been empty beyond the idle grace period, or
// that have outlived the maximum room age, on a periodic cycle. Blocks until
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	t := h.clock.NewTicker(h.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			h.sweep()
		}
	}
}

// sweep disposes expired rooms. Disposal is asynchronous: each room's own
// event loop disconnects its peers and calls back into removeRoom.
func (h *Hub) sweep() {
	now := h.clock.Now()
	for _, r := range h.activeRooms() {
		if h.cfg.RoomAge > 0 && now.Sub(r.CreatedAt) > h.cfg.RoomAge {
			r.Dispose()
			continue
		}
		if es := r.idleSince(); !es.IsZero() && now.Sub(es) > h.cfg.RoomIdleTimeout {
			r.Dispose()
		}
	}
}

// activeRooms returns the list of active rooms.
func (h *Hub) activeRooms() []*Room {
	h.mut.RLock()
	out := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	h.mut.RUnlock()
	return out
}

// removeRoom removes a room from the hub and the store.
func (h *Hub) removeRoom(id string) {
	h.mut.Lock()
	delete(h.rooms, id)
	h.mut.Unlock()

	if err := h.Store.RemoveRoom(id); err != nil {
		h.log.Printf("error removing room from store: %v", err)
	}
}

// generateRoomID generates a random room ID while checking the store for
// uniqueness up to numTries times.
func (h *Hub) generateRoomID(length, numTries int) (string, error) {
	for i := 0; i < numTries; i++ {
		id, err := GenerateGUID(length)
		if err != nil {
			h.log.Printf("error generating room ID: %v", err)
			return "", errors.New("error generating room ID")
		}

		exists, err := h.Store.RoomExists(id)
		if err != nil {
			h.log.Printf("error checking room ID in store: %v", err)
			return "", errors.New("error checking room ID")
		}

		// Got a unique ID.
		if !exists {
			return id, nil
		}
	}
	return "", errors.New("unable to generate unique room ID")
}

// GenerateGUID generates a cryptographically random, alphanumeric string of
// length n.
func GenerateGUID(n int) (string, error) {
	const dictionary = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var bytes = make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	for k, v := range bytes {
		bytes[k] = dictionary[v%byte(len(dictionary))]
	}
	return string(bytes), nil
}
