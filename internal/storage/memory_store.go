package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/nearby/internal/models"
)

type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]models.Entity
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]models.Entity)}
}

func (m *MemoryStore) Create(_ context.Context, e models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[e.ID]; ok {
		return ErrExists
	}
	m.users[e.ID] = e
	m.order = append(m.order, e.ID)
	return nil
}

func (m *MemoryStore) UpdatePosition(_ context.Context, id string, c models.Coord, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	e.Lat, e.Lng, e.UpdatedAt = c.Lat, c.Lng, at
	m.users[id] = e
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.users[id]
	if !ok {
		return models.Entity{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) ListExcept(_ context.Context, id string) ([]models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Entity, 0, len(m.order))
	for _, uid := range m.order {
		if uid == id {
			continue
		}
		out = append(out, m.users[uid])
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
