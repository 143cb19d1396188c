package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Suited for single-instance
// deployments; eviction happens via ReapExpired which the server drives on
// a timer.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	onEvict  func(id string)
}

// NewMemoryStore creates a store evicting sessions idle longer than ttl.
// onEvict, if non-nil, runs for every evicted or deleted session.
func NewMemoryStore(ttl time.Duration, onEvict func(id string)) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		onEvict:  onEvict,
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id, originURL, mode string) (*Session, bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok && !s.expired(sess, now) {
		sess.LastSeen = now
		cp := *sess
		return &cp, false, nil
	}
	sess := &Session{
		ID:        id,
		OriginURL: originURL,
		Mode:      mode,
		CreatedAt: now,
		LastSeen:  now,
	}
	s.sessions[id] = sess
	cp := *sess
	return &cp, true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || s.expired(sess, now) {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || s.expired(sess, now) {
		return ErrNotFound
	}
	sess.LastSeen = now
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok && s.onEvict != nil {
		s.onEvict(id)
	}
	return nil
}

func (s *MemoryStore) ReapExpired(_ context.Context) (int, error) {
	now := s.now()
	var evicted []string
	s.mu.Lock()
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()
	if s.onEvict != nil {
		for _, id := range evicted {
			s.onEvict(id)
		}
	}
	return len(evicted), nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if !s.expired(sess, now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Session, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if s.expired(sess, now) {
			continue
		}
		cp := *sess
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) expired(sess *Session, now time.Time) bool {
	return now.Sub(sess.LastSeen) > s.ttl
}
