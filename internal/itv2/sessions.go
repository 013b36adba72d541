package itv2

import (
	"errors"
	"sync"

	"github.com/dscbridge/dsc2ws/internal/log"
)

// ErrSessionNotFound is returned when a command names a session that is
// not connected.
var ErrSessionNotFound = errors.New("session not found")

// SessionEvent announces a session joining or leaving the registry.
type SessionEvent struct {
	ID        string
	Connected bool
}

// SessionRegistry tracks the live sessions by integration identifier.
type SessionRegistry struct {
	log *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	subs     []func(SessionEvent)
}

func NewSessionRegistry(logger *log.Logger) *SessionRegistry {
	return &SessionRegistry{
		log:      logger,
		sessions: make(map[string]*Session),
	}
}

// Subscribe adds a lifecycle listener. Callbacks run on session goroutines
// and must not block.
func (r *SessionRegistry) Subscribe(fn func(SessionEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Register adds a session after handshake completion. A second session
// with the same identifier is rejected.
func (r *SessionRegistry) Register(s *Session) bool {
	r.mu.Lock()
	if _, dup := r.sessions[s.ID()]; dup {
		r.mu.Unlock()
		r.log.Warn("Rejecting duplicate session %s", s.ID())
		return false
	}
	r.sessions[s.ID()] = s
	subs := append([]func(SessionEvent){}, r.subs...)
	r.mu.Unlock()

	r.log.Info("Session %s registered", s.ID())
	for _, fn := range subs {
		fn(SessionEvent{ID: s.ID(), Connected: true})
	}
	return true
}

// Deregister removes a session on shutdown.
func (r *SessionRegistry) Deregister(s *Session) {
	r.mu.Lock()
	current, ok := r.sessions[s.ID()]
	if !ok || current != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.ID())
	subs := append([]func(SessionEvent){}, r.subs...)
	r.mu.Unlock()

	r.log.Info("Session %s deregistered", s.ID())
	for _, fn := range subs {
		fn(SessionEvent{ID: s.ID(), Connected: false})
	}
}

// Get looks up a session for command dispatch.
func (r *SessionRegistry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List snapshots the live sessions.
func (r *SessionRegistry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown closes every live session.
func (r *SessionRegistry) Shutdown() {
	for _, s := range r.List() {
		s.Shutdown()
	}
}
