package store

import (
	"errors"
	"time"
)

// Store represents a backend store holding room records for the duration of
// a room's life.
type Store interface {
	AddRoom(r Room, ttl time.Duration) error
	GetRoom(id string) (Room, error)
	RoomExists(id string) (bool, error)
	RemoveRoom(id string) error
}

// Room represents the properties of a room in the store.
type Room struct {
	ID        string    `json:"id"`
	VideoURL  string    `json:"video_url"`
	VideoID   string    `json:"video_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrRoomNotFound indicates that the requested room was not found.
var ErrRoomNotFound = errors.New("room not found")
