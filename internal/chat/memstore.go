package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store used when no database is configured
// and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]Message
	seq      map[string]uint64
	next     uint64
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]Message),
		seq:      make(map[string]uint64),
		now:      time.Now,
	}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m.ID = uuid.New().String()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.Reactions = cloneReactions(m.Reactions)
	s.messages[m.ID] = m
	s.next++
	s.seq[m.ID] = s.next
	return copyMessage(m), nil
}

// Recent implements Store.
func (s *MemoryStore) Recent(_ context.Context, room string, before time.Time, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0)
	for _, m := range s.messages {
		if m.Room != room {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, copyMessage(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return copyMessage(m), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, id string, p MessagePatch) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	if p.Body != nil {
		m.Body = *p.Body
	}
	if p.Edited != nil {
		m.Edited = *p.Edited
	}
	if p.Read != nil {
		m.Read = *p.Read
	}
	if p.Reactions != nil {
		m.Reactions = cloneReactions(p.Reactions)
	}
	m.UpdatedAt = s.now()
	s.messages[id] = m
	return copyMessage(m), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	delete(s.seq, id)
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len reports how many messages are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func copyMessage(m Message) Message {
	m.Reactions = cloneReactions(m.Reactions)
	return m
}

func cloneReactions(in []Reaction) []Reaction {
	out := make([]Reaction, len(in))
	copy(out, in)
	return out
}
