package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is process-local; all messages for a channel must reach the
// same process.
type MemoryStore struct {
	mu        sync.Mutex
	wizards   map[string]Registration
	ratings   map[string]PendingRating
	ratingTTL time.Duration
	now       func() time.Time
}

// NewMemoryStore builds a store. ratingTTL of zero keeps rating prompts open
// until they are answered.
func NewMemoryStore(ratingTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		wizards:   make(map[string]Registration),
		ratings:   make(map[string]PendingRating),
		ratingTTL: ratingTTL,
		now:       time.Now,
	}
}

func (m *MemoryStore) Registration(_ context.Context, channelID string) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wizards[channelID], nil
}

func (m *MemoryStore) SaveRegistration(_ context.Context, channelID string, r Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !r.Active() {
		delete(m.wizards, channelID)
		return nil
	}
	m.wizards[channelID] = r
	return nil
}

func (m *MemoryStore) ClearRegistration(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wizards, channelID)
	return nil
}

func (m *MemoryStore) PendingRating(_ context.Context, channelID string) (PendingRating, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.ratings[channelID]
	if !ok {
		return PendingRating{}, false, nil
	}
	if m.ratingTTL > 0 && m.now().Sub(p.OpenedAt) > m.ratingTTL {
		delete(m.ratings, channelID)
		return PendingRating{}, false, nil
	}
	return p, true, nil
}

func (m *MemoryStore) OpenRating(_ context.Context, channelID string, p PendingRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.OpenedAt.IsZero() {
		p.OpenedAt = m.now()
	}
	m.ratings[channelID] = p
	return nil
}

func (m *MemoryStore) ClearRating(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ratings, channelID)
	return nil
}
