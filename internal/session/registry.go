package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Close reasons used by the background sweeps.
const (
	ReasonHeartbeatTimeout = "heartbeat timeout"
	ReasonAuthTimeout      = "authentication timeout"
)

// ErrSessionNotFound is returned for operations on unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Registry owns the live session map. It is mutated concurrently by new
// connections, disconnects, and the background sweeps.
type Registry struct {
	heartbeatInterval time.Duration
	authGrace         time.Duration
	log               *zerolog.Logger

	mu         sync.RWMutex
	sessions   map[string]*Session
	authTimers map[string]*time.Timer

	// onEvict runs after a session is removed by a sweep, before its
	// connection is closed. The transport layer uses it for best-effort
	// room cleanup.
	onEvict func(*Session, string)
}

// Stats is a snapshot of registry occupancy.
type Stats struct {
	TotalConnections         int `json:"totalConnections"`
	AuthenticatedConnections int `json:"authenticatedConnections"`
	ActiveRooms              int `json:"activeRooms"`
}

func NewRegistry(heartbeatInterval, authGrace time.Duration, logger *zerolog.Logger) *Registry {
	return &Registry{
		heartbeatInterval: heartbeatInterval,
		authGrace:         authGrace,
		log:               logger,
		sessions:          make(map[string]*Session),
		authTimers:        make(map[string]*time.Timer),
	}
}

// SetEvictHandler installs the callback invoked when a sweep evicts a
// session. Must be called before Run.
func (r *Registry) SetEvictHandler(fn func(s *Session, reason string)) {
	r.onEvict = fn
}

// Register creates and tracks a session for a new connection, arming its
// authentication grace timer.
func (r *Registry) Register() *Session {
	s := newSession("session_" + uuid.NewString())

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.authTimers[s.ID] = time.AfterFunc(r.authGrace, func() {
		if !s.Authenticated() {
			r.evict(s, ReasonAuthTimeout)
		}
	})
	r.mu.Unlock()

	r.log.Debug().Str("session_id", s.ID).Msg("session registered")
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Authenticate transitions the session to authenticated and disarms its
// grace timer.
func (r *Registry) Authenticate(id, appID, openID string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	if timer, ok := r.authTimers[id]; ok {
		timer.Stop()
		delete(r.authTimers, id)
	}
	r.mu.Unlock()

	s.authenticate(appID, openID)
	return nil
}

// Remove untracks the session. Returns false when it was already gone,
// which callers use to make teardown run exactly once.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	if timer, ok := r.authTimers[id]; ok {
		timer.Stop()
		delete(r.authTimers, id)
	}
	return s, true
}

// SessionsInRoom returns authenticated sessions whose tenant and current
// room match.
func (r *Registry) SessionsInRoom(appID, roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, s := range r.sessions {
		if !s.Authenticated() {
			continue
		}
		sAppID, _ := s.Identity()
		sRoomID, _, ok := s.Room()
		if ok && sAppID == appID && sRoomID == roomID {
			out = append(out, s)
		}
	}
	return out
}

// Stats counts connections and distinct occupied rooms.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{TotalConnections: len(r.sessions)}
	rooms := make(map[string]struct{})
	for _, s := range r.sessions {
		if !s.Authenticated() {
			continue
		}
		stats.AuthenticatedConnections++
		if roomID, _, ok := s.Room(); ok {
			appID, _ := s.Identity()
			rooms[appID+":"+roomID] = struct{}{}
		}
	}
	stats.ActiveRooms = len(rooms)
	return stats
}

// Run drives the heartbeat sweep until ctx is cancelled. A session whose
// last heartbeat is older than twice the interval is evicted.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()

			stats := r.Stats()
			r.log.Debug().
				Int("connections", stats.TotalConnections).
				Int("authenticated", stats.AuthenticatedConnections).
				Int("active_rooms", stats.ActiveRooms).
				Msg("registry stats")
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-2 * r.heartbeatInterval)

	r.mu.RLock()
	var expired []*Session
	for _, s := range r.sessions {
		if s.lastSeen().Before(cutoff) {
			expired = append(expired, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range expired {
		r.log.Info().Str("session_id", s.ID).Msg("heartbeat timeout")
		r.evict(s, ReasonHeartbeatTimeout)
	}
}

// evict removes the session, runs the evict handler for best-effort room
// cleanup, and closes the session. Racing with a concurrent disconnect is
// resolved by Remove: only the caller that actually removed the session
// proceeds.
func (r *Registry) evict(s *Session, reason string) {
	if _, ok := r.Remove(s.ID); !ok {
		return
	}
	if r.onEvict != nil {
		r.onEvict(s, reason)
	}
	s.Close(reason)
}
