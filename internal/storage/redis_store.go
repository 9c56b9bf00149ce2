package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/nearby/internal/models"
)

// Each entity lives in a hash at <prefix>user:<id>. The sorted set
// <prefix>users indexes ids by a sequence number drawn from <prefix>users:seq
// so listing order is registration order.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'name', ARGV[2], 'lat', ARGV[3], 'lng', ARGV[4], 'updated', ARGV[5])
redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[3]), ARGV[1])
return 1
`)

// mirrorScript upserts the hash fields in ARGV[2:] and indexes ARGV[1] only
// the first time it is seen.
var mirrorScript = redis.NewScript(`
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
if not redis.call('ZSCORE', KEYS[2], ARGV[1]) then
	redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[3]), ARGV[1])
end
return 1
`)

var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'lat', ARGV[1], 'lng', ARGV[2], 'updated', ARGV[3])
return 1
`)

// RedisStore implements PositionStore on Redis hashes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, password, prefix string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisStoreFromClient(c, prefix)
}

func NewRedisStoreFromClient(c *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: c, prefix: prefix}
}

func (r *RedisStore) userKey(id string) string { return r.prefix + "user:" + id }
func (r *RedisStore) indexKey() string         { return r.prefix + "users" }
func (r *RedisStore) seqKey() string           { return r.prefix + "users:seq" }

func (r *RedisStore) Create(ctx context.Context, e models.Entity) error {
	ok, err := createScript.Run(ctx, r.client,
		[]string{r.userKey(e.ID), r.indexKey(), r.seqKey()},
		e.ID, e.Name, formatFloat(e.Lat), formatFloat(e.Lng), e.UpdatedAt.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrExists
	}
	return nil
}

func (r *RedisStore) UpdatePosition(ctx context.Context, id string, c models.Coord, at time.Time) error {
	ok, err := updateScript.Run(ctx, r.client, []string{r.userKey(id)},
		formatFloat(c.Lat), formatFloat(c.Lng), at.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

// Mirror applies an event without requiring the entity to exist. It is
// used by the event consumer to keep a read replica in sync.
func (r *RedisStore) Mirror(ctx context.Context, ev models.PositionEvent) error {
	args := []interface{}{ev.ID,
		"id", ev.ID,
		"lat", formatFloat(ev.Lat),
		"lng", formatFloat(ev.Lng),
		"updated", ev.UpdatedAt.Format(time.RFC3339Nano),
	}
	if ev.Name != "" {
		args = append(args, "name", ev.Name)
	}
	return mirrorScript.Run(ctx, r.client, []string{r.userKey(ev.ID), r.indexKey(), r.seqKey()}, args...).Err()
}

func (r *RedisStore) Get(ctx context.Context, id string) (models.Entity, error) {
	m, err := r.client.HGetAll(ctx, r.userKey(id)).Result()
	if err != nil {
		return models.Entity{}, err
	}
	if len(m) == 0 {
		return models.Entity{}, ErrNotFound
	}
	return parseEntity(m)
}

func (r *RedisStore) ListExcept(ctx context.Context, id string) ([]models.Entity, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, uid := range ids {
			if uid == id {
				continue
			}
			cmds = append(cmds, p.HGetAll(ctx, r.userKey(uid)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Entity, 0, len(cmds))
	for _, c := range cmds {
		m := c.Val()
		// index entry without a hash: the record was removed out of band
		if len(m) == 0 {
			continue
		}
		e, err := parseEntity(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.client.Close() }

func parseEntity(m map[string]string) (models.Entity, error) {
	e := models.Entity{ID: m["id"], Name: m["name"]}
	var err error
	if e.Lat, err = strconv.ParseFloat(m["lat"], 64); err != nil {
		return models.Entity{}, fmt.Errorf("user %s: bad lat: %w", e.ID, err)
	}
	if e.Lng, err = strconv.ParseFloat(m["lng"], 64); err != nil {
		return models.Entity{}, fmt.Errorf("user %s: bad lng: %w", e.ID, err)
	}
	if v := m["updated"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.UpdatedAt = t
		}
	}
	return e, nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
