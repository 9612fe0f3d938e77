package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// RoomLoader fetches room content from a backing store (e.g., Postgres).
type RoomLoader interface {
	LoadRoom(ctx context.Context, roomID string) (domain.Room, error)
}

// RoomRepository caches rooms with TTL to avoid repeated store hits. Role
// checks go straight to the loader so privilege is never served stale.
type RoomRepository struct {
	loader RoomLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedRoom
}

type cachedRoom struct {
	room      domain.Room
	expiresAt time.Time
}

func NewRoomRepository(loader RoomLoader, ttl time.Duration) *RoomRepository {
	return &RoomRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedRoom),
	}
}

func (r *RoomRepository) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[roomID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.room, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(roomID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[roomID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.room, nil
		}
		r.mu.RUnlock()

		room, err := r.loader.LoadRoom(ctx, roomID)
		if err != nil {
			return domain.Room{}, err
		}

		r.mu.Lock()
		r.cache[roomID] = cachedRoom{
			room:      room,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
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

func (r *RoomRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticRoomLoader is a simple loader backed by an in-memory map (useful for
// tests/demos).
type StaticRoomLoader struct {
	rooms map[string]domain.Room
}

func NewStaticRoomLoader(rooms map[string]domain.Room) *StaticRoomLoader {
	return &StaticRoomLoader{rooms: rooms}
}

func (l *StaticRoomLoader) LoadRoom(_ context.Context, roomID string) (domain.Room, error) {
	if room, ok := l.rooms[roomID]; ok {
		return room, nil
	}
	return domain.Room{}, domain.ErrRoomNotFound
}
