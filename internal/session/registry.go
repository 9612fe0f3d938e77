package session

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// RoomRepository loads room content and resolves host roles from the
// backing store (cache, Postgres, etc).
type RoomRepository interface {
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	IsHost(ctx context.Context, roomID, participantID string) (bool, error)
}

// Liveness receives session lifecycle notifications, e.g. to mark live
// rooms in Redis for operators. Implementations must not block.
type Liveness interface {
	SessionCreated(roomID string)
	SessionRemoved(roomID string)
}

type noopLiveness struct{}

func (noopLiveness) SessionCreated(string) {}
func (noopLiveness) SessionRemoved(string) {}

const defaultIdleRetention = 2 * time.Hour

// RegistryConfig tunes the registry and the sessions it creates.
type RegistryConfig struct {
	Session       Config
	IdleRetention time.Duration // empty sessions older than this are swept
	Liveness      Liveness
	Clock         func() time.Time
}

// Registry owns the process-wide map from room id to live session. Sessions
// are created lazily with a single backing-store fetch and evicted when
// finished or abandoned.
type Registry struct {
	rooms RoomRepository
	cfg   RegistryConfig
	sf    singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(rooms RoomRepository, cfg RegistryConfig) *Registry {
	if cfg.IdleRetention <= 0 {
		cfg.IdleRetention = defaultIdleRetention
	}
	if cfg.Liveness == nil {
		cfg.Liveness = noopLiveness{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Registry{
		rooms:    rooms,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the room's live session, creating it on first use.
// Creation fetches the room's question list and timer settings exactly once;
// singleflight collapses concurrent first joins into one fetch.
func (r *Registry) GetOrCreate(ctx context.Context, roomID string) (*Session, error) {
	r.mu.RLock()
	if s, ok := r.sessions[roomID]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(roomID, func() (interface{}, error) {
		r.mu.RLock()
		if s, ok := r.sessions[roomID]; ok {
			r.mu.RUnlock()
			return s, nil
		}
		r.mu.RUnlock()

		room, err := r.rooms.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}

		s := New(room, r.cfg.Session)
		r.mu.Lock()
		r.sessions[roomID] = s
		r.mu.Unlock()
		r.cfg.Liveness.SessionCreated(roomID)
		log.Printf("registry: created session for room %s with %d questions", roomID, len(room.Questions))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

func (r *Registry) Get(roomID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

// Remove cancels the session's pending timer and drops it.
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	s, ok := r.sessions[roomID]
	if ok {
		delete(r.sessions, roomID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	r.cfg.Liveness.SessionRemoved(roomID)
	log.Printf("registry: removed session for room %s", roomID)
}

// RemoveIfFinished drops the session once it has ended and everyone is gone.
// Live or waiting sessions are left for Sweep so reconnects still work.
func (r *Registry) RemoveIfFinished(roomID string) {
	s, ok := r.Get(roomID)
	if !ok {
		return
	}
	if s.State() == StateEnded && s.Empty() {
		r.Remove(roomID)
	}
}

// Sweep evicts sessions that have ended, or that have had no connected
// participants for longer than the retention window. Returns the number
// removed.
func (r *Registry) Sweep() int {
	now := r.cfg.Clock()

	r.mu.RLock()
	stale := make([]string, 0)
	for roomID, s := range r.sessions {
		if s.State() == StateEnded || (s.Empty() && now.Sub(s.CreatedAt()) > r.cfg.IdleRetention) {
			stale = append(stale, roomID)
		}
	}
	r.mu.RUnlock()

	for _, roomID := range stale {
		r.Remove(roomID)
	}
	return len(stale)
}

// Run sweeps on the given interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Printf("registry: swept %d stale sessions", n)
			}
		}
	}
}
