package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/move-calendar/internal/models"
)

const maxWatchRetries = 5

// RedisStore keeps schedule entries as hashes (prefix:entry:city:day) and
// blocked days as a set (prefix:blocked).
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return NewRedisStoreWithClient(c, prefix)
}

func NewRedisStoreWithClient(c redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "schedule"
	}
	return &RedisStore{client: c, prefix: prefix}
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) entryKey(city, day string) string { return r.prefix + ":entry:" + city + ":" + day }
func (r *RedisStore) blockedKey() string               { return r.prefix + ":blocked" }

func (r *RedisStore) GetEntry(ctx context.Context, city, day string) (models.ScheduleEntry, error) {
	m, err := r.client.HGetAll(ctx, r.entryKey(city, day)).Result()
	if err != nil {
		return models.ScheduleEntry{}, err
	}
	if len(m) == 0 {
		return models.ScheduleEntry{}, ErrNotFound
	}
	return entryFromHash(m)
}

func entryFromHash(m map[string]string) (models.ScheduleEntry, error) {
	var e models.ScheduleEntry
	var err error
	if e.Version, err = strconv.ParseInt(m["version"], 10, 64); err != nil {
		return e, err
	}
	e.IsScheduled = m["scheduled"] == "true"
	e.IsEmpty = m["empty"] == "true"
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.UpdatedAt = t
		}
	}
	return e, nil
}

// PutEntry compares versions inside WATCH/MULTI so two writers racing on one
// key cannot both win.
func (r *RedisStore) PutEntry(ctx context.Context, city, day string, e models.ScheduleEntry) (bool, error) {
	key := r.entryKey(city, day)
	applied := false
	txf := func(tx *redis.Tx) error {
		applied = false
		cur, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && e.Version <= cur {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]interface{}{
				"scheduled": strconv.FormatBool(e.IsScheduled),
				"empty":     strconv.FormatBool(e.IsEmpty),
				"version":   strconv.FormatInt(e.Version, 10),
				"updated":   time.Now().UTC().Format(time.RFC3339Nano),
			})
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}
	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return applied, err
	}
	return false, redis.TxFailedErr
}

func (r *RedisStore) BlockedDays(ctx context.Context, from, to string) (map[string]bool, error) {
	days, err := r.client.SMembers(ctx, r.blockedKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, d := range days {
		if d >= from && d <= to {
			out[d] = true
		}
	}
	return out, nil
}

func (r *RedisStore) SetBlocked(ctx context.Context, day string, blocked bool) error {
	if blocked {
		return r.client.SAdd(ctx, r.blockedKey(), day).Err()
	}
	return r.client.SRem(ctx, r.blockedKey(), day).Err()
}
