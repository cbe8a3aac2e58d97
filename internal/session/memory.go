package session

import (
	"context"
	"sync"
	"time"

	"github.com/pavelanni/interviewer/internal/model"
)

// MemoryStore keeps sessions in process memory with a sliding TTL. Expired
// entries are swept from Save at most once per half TTL.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]memoryItem
	ttl       time.Duration
	locks     *KeyedMutex
	now       func() time.Time
	lastSweep time.Time
}

type memoryItem struct {
	state     model.InterviewState
	expiresAt time.Time
}

// NewMemoryStore builds an in-memory session store. A zero ttl disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		locks: NewKeyedMutex(),
		now:   time.Now,
	}
}

// Load returns a copy of the stored state, or nil if absent or expired.
func (m *MemoryStore) Load(_ context.Context, token string) (*model.InterviewState, error) {
	m.mu.RLock()
	item, ok := m.items[token]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if m.expired(item, m.now()) {
		m.mu.Lock()
		delete(m.items, token)
		m.mu.Unlock()
		return nil, nil
	}
	st := item.state
	return &st, nil
}

// Save stores st for token and refreshes its expiry.
func (m *MemoryStore) Save(_ context.Context, token string, st model.InterviewState) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var stored int64
	if item, ok := m.items[token]; ok && !m.expired(item, now) {
		stored = item.state.Version
	}
	if stored != st.Version {
		return ErrConflict
	}
	st.Version++
	st.UpdatedAt = now
	m.items[token] = memoryItem{state: st, expiresAt: now.Add(m.ttl)}
	m.sweep(now)
	return nil
}

func (m *MemoryStore) expired(item memoryItem, now time.Time) bool {
	return m.ttl > 0 && now.After(item.expiresAt)
}

// sweep drops expired entries. The caller holds m.mu.
func (m *MemoryStore) sweep(now time.Time) {
	if m.ttl <= 0 || now.Sub(m.lastSweep) < m.ttl/2 {
		return
	}
	m.lastSweep = now
	for token, item := range m.items {
		if m.expired(item, now) {
			delete(m.items, token)
		}
	}
}

// Clear removes token's state.
func (m *MemoryStore) Clear(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.items, token)
	m.mu.Unlock()
	return nil
}

// Lock acquires the per-token lock.
func (m *MemoryStore) Lock(ctx context.Context, token string) (func(), error) {
	return m.locks.Lock(ctx, token)
}
