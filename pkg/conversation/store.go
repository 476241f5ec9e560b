// Package conversation keeps per-chat session handles for text backends.
package conversation

import (
	"strings"
	"sync"
	"time"
)

// Store owns the chat id to session mapping. Sessions live for the process
// lifetime and are never evicted or persisted.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Session is the mutable conversation state tracked for one chat id.
//
// The turn lock is held by whoever acquired the session; Handle and Update
// must only be called while holding it.
type Session struct {
	chatID string
	turnMu sync.Mutex

	handle    any
	hasHandle bool
	turns     int
	updatedAt time.Time
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Acquire returns the session for chatID, creating it on first use, and locks
// it for exclusive use until release is called. Distinct chat ids only share
// the brief map lock.
func (s *Store) Acquire(chatID string) (*Session, func()) {
	session := s.sessionFor(chatID)
	session.turnMu.Lock()

	var once sync.Once
	release := func() {
		once.Do(session.turnMu.Unlock)
	}
	return session, release
}

// Len reports how many chats have a session.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) sessionFor(chatID string) *Session {
	key := strings.TrimSpace(chatID)

	s.mu.RLock()
	session, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		return session
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok = s.sessions[key]
	if ok {
		return session
	}

	session = &Session{chatID: key}
	s.sessions[key] = session
	return session
}

// ChatID returns the chat id the session belongs to.
func (s *Session) ChatID() string {
	return s.chatID
}

// Handle returns the backend-owned handle and whether one has been stored.
func (s *Session) Handle() (any, bool) {
	return s.handle, s.hasHandle
}

// Update replaces the backend-owned handle and records a completed turn.
func (s *Session) Update(handle any) {
	s.handle = handle
	s.hasHandle = true
	s.turns++
	s.updatedAt = time.Now().UTC()
}

// Turns reports how many times the handle has been updated.
func (s *Session) Turns() int {
	return s.turns
}

// UpdatedAt returns the time of the last Update, or the zero time.
func (s *Session) UpdatedAt() time.Time {
	return s.updatedAt
}
