// ABOUTME: In-memory session registry binding Mcp-Session-Id values to handler instances.
// ABOUTME: Sessions are created on initialize, touched on use, and evicted when idle.

package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/metricool-mcp/internal/tools"
)

// session tracks one active MCP client session. The toolbox is the handler
// instance every request carrying this session id is routed to.
type session struct {
	id              string
	protocolVersion string
	toolbox         *tools.Toolbox
	ownerToken      string // auth credential used to verify session ownership on DELETE
	createdAt       time.Time
	lastSeen        time.Time
}

// sessionStore manages active MCP sessions. It is safe for concurrent use;
// net/http invokes handlers from multiple goroutines.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
	now      func() time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// create registers a new session bound to the given toolbox and returns it.
func (s *sessionStore) create(protocolVersion string, toolbox *tools.Toolbox, ownerToken string) *session {
	now := s.now()
	sess := &session{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		toolbox:         toolbox,
		ownerToken:      ownerToken,
		createdAt:       now,
		lastSeen:        now,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// get looks up a session by id and refreshes its idle timer.
func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess, true
}

// delete removes a session, reporting whether it existed.
func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// evictIdle removes every session idle longer than maxIdle and returns the
// evicted ids.
func (s *sessionStore) evictIdle(maxIdle time.Duration) []string {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// count returns the number of active sessions (for monitoring).
func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
