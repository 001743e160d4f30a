package redis

import (
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"watchparty/store"
)

// Config represents the Redis store config structure.
type Config struct {
	Address     string        `koanf:"address"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	ActiveConns int           `koanf:"active_conns"`
	IdleConns   int           `koanf:"idle_conns"`
	Timeout     time.Duration `koanf:"timeout"`

	PrefixRoom string `koanf:"prefix_room"`
}

// Redis represents the Redis implementation of the Store interface.
type Redis struct {
	cfg  *Config
	pool *redis.Pool
}

type room struct {
	ID        string `redis:"id"`
	VideoURL  string `redis:"video_url"`
	VideoID   string `redis:"video_id"`
	CreatedAt string `redis:"created_at"`
}

// New returns a new Redis store.
func New(cfg Config) (*Redis, error) {
	pool := &redis.Pool{
		Wait:      true,
		MaxActive: cfg.ActiveConns,
		MaxIdle:   cfg.IdleConns,
		Dial: func() (redis.Conn, error) {
			return redis.Dial(
				"tcp",
				cfg.Address,
				redis.DialPassword(cfg.Password),
				redis.DialConnectTimeout(cfg.Timeout),
				redis.DialReadTimeout(cfg.Timeout),
				redis.DialWriteTimeout(cfg.Timeout),
				redis.DialDatabase(cfg.DB),
			)
		},
	}

	// Test connection.
	c := pool.Get()
	defer c.Close()

	if err := c.Err(); err != nil {
		return nil, err
	}
	return &Redis{cfg: &cfg, pool: pool}, nil
}

// AddRoom adds a room to the store.
func (r *Redis) AddRoom(rm store.Room, ttl time.Duration) error {
	c := r.pool.Get()
	defer c.Close()

	key := fmt.Sprintf(r.cfg.PrefixRoom, rm.ID)
	c.Send("HMSET", key,
		"id", rm.ID,
		"video_url", rm.VideoURL,
		"video_id", rm.VideoID,
		"created_at", rm.CreatedAt.Format(time.RFC3339))
	c.Send("EXPIRE", key, int(ttl.Seconds()))
	return c.Flush()
}

// GetRoom gets a room from the store.
func (r *Redis) GetRoom(id string) (store.Room, error) {
	c := r.pool.Get()
	defer c.Close()

	var (
		out store.Room
		rm  room
		key = fmt.Sprintf(r.cfg.PrefixRoom, id)
	)
	res, err := redis.Values(c.Do("HGETALL", key))
	if err != nil {
		return out, err
	}
	if err := redis.ScanStruct(res, &rm); err != nil {
		return out, err
	}
	if rm.ID == "" {
		return out, store.ErrRoomNotFound
	}

	t, err := time.Parse(time.RFC3339, rm.CreatedAt)
	if err != nil {
		return out, err
	}
	return store.Room{
		ID:        rm.ID,
		VideoURL:  rm.VideoURL,
		VideoID:   rm.VideoID,
		CreatedAt: t,
	}, nil
}

// RoomExists checks if a room exists in the store.
func (r *Redis) RoomExists(id string) (bool, error) {
	c := r.pool.Get()
	defer c.Close()

	ok, err := redis.Bool(c.Do("EXISTS", fmt.Sprintf(r.cfg.PrefixRoom, id)))
	if err != nil && err != redis.ErrNil {
		return false, err
	}
	return ok, nil
}

// RemoveRoom deletes a room from the store.
func (r *Redis) RemoveRoom(id string) error {
	c := r.pool.Get()
	defer c.Close()

	_, err := c.Do("DEL", fmt.Sprintf(r.cfg.PrefixRoom, id))
	return err
}
