// Package session tracks live connections: identity, protocol state,
// room membership, and heartbeat freshness.
package session

import (
	"sync"
	"time"

	"github.com/realsync/gateway/internal/proto"
)

// outboxSize bounds per-session delivery. A full outbox drops the frame
// rather than blocking the sender; a stalled connection never delays
// fanout to its roommates.
const outboxSize = 32

// Session is the in-process record of one live connection. It is owned by
// the process that accepted the connection and never persisted.
type Session struct {
	ID string

	// Outbox carries outbound frames to the connection's write loop.
	Outbox chan *proto.Envelope

	mu            sync.Mutex
	appID         string
	openID        string
	authenticated bool
	roomID        string
	playerID      int
	lastHeartbeat time.Time
	unsubscribe   func()

	closeOnce   sync.Once
	closed      chan struct{}
	closeReason string
}

func newSession(id string) *Session {
	return &Session{
		ID:            id,
		Outbox:        make(chan *proto.Envelope, outboxSize),
		lastHeartbeat: time.Now(),
		closed:        make(chan struct{}),
	}
}

// Send queues a frame for the write loop. Returns false when the frame
// was dropped because the session is closed or its outbox is full.
func (s *Session) Send(env *proto.Envelope) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.Outbox <- env:
		return true
	default:
		return false
	}
}

// Close marks the session closed with the given reason. Safe to call from
// the sweep, the auth timer, and the connection handler concurrently; the
// first caller wins and later calls no-op.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeReason = reason
		s.mu.Unlock()
		close(s.closed)
	})
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

func (s *Session) authenticate(appID, openID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appID = appID
	s.openID = openID
	s.authenticated = true
}

// Authenticated reports whether auth has completed.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Identity returns the tenant and user identity set at auth time.
func (s *Session) Identity() (appID, openID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appID, s.openID
}

// Room returns the current membership, if any.
func (s *Session) Room() (roomID string, playerID int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID, s.playerID, s.roomID != ""
}

// SetRoom records membership along with the room subscription's
// unsubscribe handle. Any previously held handle is returned for the
// caller to invoke outside the lock, so a replaced membership cannot
// leak its subscription.
func (s *Session) SetRoom(roomID string, playerID int, unsubscribe func()) (displaced func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	displaced = s.unsubscribe
	s.roomID = roomID
	s.playerID = playerID
	s.unsubscribe = unsubscribe
	return displaced
}

// ClearRoom drops membership and returns the unsubscribe handle for the
// caller to invoke outside the lock.
func (s *Session) ClearRoom() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	unsub := s.unsubscribe
	s.roomID = ""
	s.playerID = 0
	s.unsubscribe = nil
	return unsub
}

// Touch refreshes the heartbeat timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}

func (s *Session) lastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}
