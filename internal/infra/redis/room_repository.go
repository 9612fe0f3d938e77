package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// RoomLoader fetches room content from a backing store (e.g., Postgres).
type RoomLoader interface {
	LoadRoom(ctx context.Context, roomID string) (domain.Room, error)
}

// RoomRepository caches whole rooms as JSON in Redis and falls back to a
// loader on cache miss. Rooms are stored as: SET room:{roomID}:data {json}.
// Host checks always go to the loader so privilege is never served stale.
type RoomRepository struct {
	client *redis.Client
	loader RoomLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewRoomRepository(client *redis.Client, loader RoomLoader, ttl time.Duration) *RoomRepository {
	return &RoomRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

func (r *RoomRepository) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	key := r.dataKey(roomID)

	if raw, err := r.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
		var room domain.Room
		if err := json.Unmarshal(raw, &room); err == nil {
			return room, nil
		}
		// fall through and refill on a corrupt entry
	}

	result, err, _ := r.sf.Do(roomID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
			var room domain.Room
			if err := json.Unmarshal(raw, &room); err == nil {
				return room, nil
			}
		}

		room, err := r.loader.LoadRoom(ctx, roomID)
		if err != nil {
			return domain.Room{}, err
		}

		if raw, err := json.Marshal(room); err == nil {
			_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		}
		return room, nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return result.(domain.Room), nil
}

func (r *RoomRepository) IsHost(ctx context.Context, roomID, participantID string) (bool, error) {
	room, err := r.loader.LoadRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.IsHost(participantID), nil
}

func (r *RoomRepository) dataKey(roomID string) string {
	return "room:" + roomID + ":data"
}

// ttlWithJitter adds up to 10% jitter to spread expirations. Fills for
// different rooms run concurrently, so this uses the shared locked source.
func (r *RoomRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
