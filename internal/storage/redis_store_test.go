package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/nearby/internal/models"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return NewRedisStoreFromClient(c, "test:"), s
}

func TestRedisStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	r, s := newRedisStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	require.NoError(t, r.Create(ctx, models.Entity{ID: "a", Name: "Ann", Lat: 51.5, Lng: -0.12, UpdatedAt: now}))
	assert.ErrorIs(t, r.Create(ctx, models.Entity{ID: "a", Name: "Other", UpdatedAt: now}), ErrExists)

	assert.Equal(t, "Ann", s.HGet("test:user:a", "name"))

	e, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.Entity{ID: "a", Name: "Ann", Lat: 51.5, Lng: -0.12, UpdatedAt: now}, e)

	_, err = r.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreUpdatePosition(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisStore(t)
	now := time.Now().UTC()
	require.NoError(t, r.Create(ctx, models.Entity{ID: "a", Name: "Ann", Lat: 1, Lng: 1, UpdatedAt: now}))

	require.NoError(t, r.UpdatePosition(ctx, "a", models.Coord{Lat: 10, Lng: 1}, now.Add(time.Second)))
	e, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 10.0, e.Lat)
	assert.Equal(t, "Ann", e.Name)

	assert.ErrorIs(t, r.UpdatePosition(ctx, "ghost-id", models.Coord{Lat: 1, Lng: 1}, now), ErrNotFound)
	_, err = r.Get(ctx, "ghost-id")
	assert.ErrorIs(t, err, ErrNotFound, "update must not create the record")
}

func TestRedisStoreListExcept(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisStore(t)
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Create(ctx, models.Entity{ID: id, Name: id, UpdatedAt: base.Add(time.Duration(i) * time.Second)}))
	}

	es, err := r.ListExcept(ctx, "b")
	require.NoError(t, err)
	require.Len(t, es, 2)
	assert.Equal(t, "a", es[0].ID)
	assert.Equal(t, "c", es[1].ID)
}

func TestRedisStoreMirror(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedisStore(t)
	now := time.Now().UTC()

	require.NoError(t, r.Mirror(ctx, models.PositionEvent{ID: "m", Name: "Mo", Lat: 3, Lng: 4, UpdatedAt: now}))
	require.NoError(t, r.Mirror(ctx, models.PositionEvent{ID: "m", Lat: 5, Lng: 6, UpdatedAt: now.Add(time.Second)}))

	e, err := r.Get(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "Mo", e.Name)
	assert.Equal(t, 5.0, e.Lat)

	es, err := r.ListExcept(ctx, "")
	require.NoError(t, err)
	assert.Len(t, es, 1)
}

func TestRedisStorePing(t *testing.T) {
	r, s := newRedisStore(t)
	require.NoError(t, r.Ping(context.Background()))
	s.SetError("LOADING")
	assert.Error(t, r.Ping(context.Background()))
}

func TestRedisStoreListKeepsRegistrationOrderOnSameTimestamp(t *testing.T) {
	ctx := context.Background()
	r, s := newRedisStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ids := []string{"zz", "mm", "aa", "yy", "bb"}
	for _, id := range ids {
		require.NoError(t, r.Create(ctx, models.Entity{ID: id, Name: id, UpdatedAt: now}))
	}

	es, err := r.ListExcept(ctx, "")
	require.NoError(t, err)
	got := make([]string, 0, len(es))
	for _, e := range es {
		got = append(got, e.ID)
	}
	assert.Equal(t, ids, got)

	// a mirrored newcomer goes last; a repeat event keeps its slot
	require.NoError(t, r.Mirror(ctx, models.PositionEvent{ID: "a0", Lat: 1, Lng: 1, UpdatedAt: now}))
	require.NoError(t, r.Mirror(ctx, models.PositionEvent{ID: "zz", Lat: 2, Lng: 2, UpdatedAt: now}))
	es, err = r.ListExcept(ctx, "")
	require.NoError(t, err)
	require.Len(t, es, 6)
	assert.Equal(t, "zz", es[0].ID)
	assert.Equal(t, 2.0, es[0].Lat)
	assert.Equal(t, "a0", es[5].ID)
	assert.Equal(t, "6", mustGet(t, s, "test:users:seq"))
}

func mustGet(t *testing.T, s *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := s.Get(key)
	require.NoError(t, err)
	return v
}
