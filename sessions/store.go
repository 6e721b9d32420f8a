// Package sessions keeps bounded per-conversation chat histories.
package sessions

import (
	"sync"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// DefaultLimit is the number of most recent messages kept per session.
const DefaultLimit = 20

type session struct {
	mu       sync.Mutex
	messages []models.ChatMessage
}

// Store maps session ids to histories. Each session has its own lock, so
// updates on one id are serialized while different ids proceed in parallel.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	limit    int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{sessions: make(map[string]*session), limit: limit}
}

func (s *Store) get(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	return sess
}

// Update runs fn with a copy of the session's history while holding the
// session lock. The messages fn returns are appended and the history is
// truncated to the newest entries. If fn fails nothing is appended.
func (s *Store) Update(id string, fn func(history []models.ChatMessage) ([]models.ChatMessage, error)) error {
	sess := s.get(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	snapshot := make([]models.ChatMessage, len(sess.messages))
	copy(snapshot, sess.messages)

	appended, err := fn(snapshot)
	if err != nil {
		return err
	}

	msgs := append(sess.messages, appended...)
	if over := len(msgs) - s.limit; over > 0 {
		msgs = append([]models.ChatMessage(nil), msgs[over:]...)
	}
	sess.messages = msgs
	return nil
}

// History returns a copy of the session's messages, oldest first. Unknown
// sessions are not created.
func (s *Store) History(id string) []models.ChatMessage {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return []models.ChatMessage{}
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]models.ChatMessage, len(sess.messages))
	copy(out, sess.messages)
	return out
}

// Delete drops one session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Clear drops every session.
func (s *Store) Clear() {
	s.mu.Lock()
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
}

func (s *Store) Limit() int {
	return s.limit
}
