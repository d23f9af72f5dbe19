package api

import (
	"context"
	"sort"
	"sync"

	"github.com/soaringjerry/recipesurvey/internal/services"
)

// MemoryStore is an in-process SessionStore for development and tests. It
// hands out deep copies so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*services.ParticipantSession
}

var _ services.SessionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*services.ParticipantSession{}}
}

func (s *MemoryStore) LoadSession(_ context.Context, participantID string) (*services.ParticipantSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[participantID]
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) SaveSession(_ context.Context, sess *services.ParticipantSession) error {
	if sess == nil || sess.ParticipantID == "" {
		return services.NewInvalidError("session id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, exists := s.sessions[sess.ParticipantID]
	switch {
	case sess.Version == 0 && exists:
		return services.ErrStaleSession
	case sess.Version != 0 && (!exists || stored.Version != sess.Version):
		return services.ErrStaleSession
	}
	cp := sess.Clone()
	cp.Version = sess.Version + 1
	s.sessions[sess.ParticipantID] = cp
	sess.Version = cp.Version
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*services.ParticipantSession, error) {
	return s.filter(func(*services.ParticipantSession) bool { return true }), nil
}

func (s *MemoryStore) ListSessionsByExternalID(_ context.Context, pid string) ([]*services.ParticipantSession, error) {
	if pid == "" {
		return nil, nil
	}
	return s.filter(func(p *services.ParticipantSession) bool { return p.External.PID == pid }), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status services.Status) ([]*services.ParticipantSession, error) {
	return s.filter(func(p *services.ParticipantSession) bool { return p.Status == status }), nil
}

func (s *MemoryStore) filter(keep func(*services.ParticipantSession) bool) []*services.ParticipantSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.ParticipantSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if keep(sess) {
			out = append(out, sess.Clone())
		}
	}
	// keep stable order by creation, then id
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}

// Ping satisfies the health check.
func (s *MemoryStore) Ping(context.Context) error { return nil }
