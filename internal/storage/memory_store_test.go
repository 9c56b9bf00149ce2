package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/nearby/internal/models"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now()

	require.NoError(t, m.Create(ctx, models.Entity{ID: "a", Name: "Ann", Lat: 1, Lng: 2, UpdatedAt: now}))
	require.NoError(t, m.Create(ctx, models.Entity{ID: "b", Name: "Bob", Lat: 3, Lng: 4, UpdatedAt: now}))
	require.NoError(t, m.Create(ctx, models.Entity{ID: "c", Name: "Cat", Lat: 5, Lng: 6, UpdatedAt: now}))
	assert.ErrorIs(t, m.Create(ctx, models.Entity{ID: "a"}), ErrExists)

	later := now.Add(time.Minute)
	require.NoError(t, m.UpdatePosition(ctx, "b", models.Coord{Lat: 7, Lng: 8}, later))
	assert.ErrorIs(t, m.UpdatePosition(ctx, "ghost", models.Coord{}, later), ErrNotFound)

	b, err := m.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.Entity{ID: "b", Name: "Bob", Lat: 7, Lng: 8, UpdatedAt: later}, b)

	_, err = m.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	rest, err := m.ListExcept(ctx, "b")
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "a", rest[0].ID)
	assert.Equal(t, "c", rest[1].ID)
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for i := 0; i < 20; i++ {
		require.NoError(t, m.Create(ctx, models.Entity{ID: fmt.Sprintf("u%d", i)}))
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			for j := 0; j < 50; j++ {
				_ = m.UpdatePosition(ctx, id, models.Coord{Lat: float64(j), Lng: float64(i)}, time.Now())
				_, _ = m.ListExcept(ctx, id)
			}
		}(i)
	}
	wg.Wait()

	all, err := m.ListExcept(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 20)
	for _, e := range all {
		assert.Equal(t, 49.0, e.Lat)
	}
}
