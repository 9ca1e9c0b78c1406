package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/models"
)

// RedisStore shares session state between process instances. Wizard sessions
// expire after wizardTTL of inactivity; rating prompts after ratingTTL when set.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	wizardTTL time.Duration
	ratingTTL time.Duration
}

func NewRedisStore(addr, password, prefix string, ratingTTL time.Duration) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if prefix == "" {
		prefix = "session"
	}
	return &RedisStore{client: c, prefix: prefix, wizardTTL: 24 * time.Hour, ratingTTL: ratingTTL}
}

func (r *RedisStore) wizardKey(channelID string) string { return r.prefix + ":wizard:" + channelID }
func (r *RedisStore) ratingKey(channelID string) string { return r.prefix + ":rating:" + channelID }

func (r *RedisStore) Registration(ctx context.Context, channelID string) (Registration, error) {
	var reg Registration
	ok, err := r.getJSON(ctx, r.wizardKey(channelID), &reg)
	if err != nil || !ok {
		return Registration{}, err
	}
	return reg, nil
}

func (r *RedisStore) SaveRegistration(ctx context.Context, channelID string, reg Registration) error {
	if !reg.Active() {
		return r.ClearRegistration(ctx, channelID)
	}
	return r.setJSON(ctx, r.wizardKey(channelID), reg, r.wizardTTL)
}

func (r *RedisStore) ClearRegistration(ctx context.Context, channelID string) error {
	return models.Dependency("redis del wizard", r.client.Del(ctx, r.wizardKey(channelID)).Err())
}

func (r *RedisStore) PendingRating(ctx context.Context, channelID string) (PendingRating, bool, error) {
	var p PendingRating
	ok, err := r.getJSON(ctx, r.ratingKey(channelID), &p)
	if err != nil || !ok {
		return PendingRating{}, false, err
	}
	return p, true, nil
}

func (r *RedisStore) OpenRating(ctx context.Context, channelID string, p PendingRating) error {
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	return r.setJSON(ctx, r.ratingKey(channelID), p, r.ratingTTL)
}

func (r *RedisStore) ClearRating(ctx context.Context, channelID string) error {
	return models.Dependency("redis del rating", r.client.Del(ctx, r.ratingKey(channelID)).Err())
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return models.Dependency("redis ping", r.client.Ping(ctx).Err())
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) getJSON(ctx context.Context, key string, v any) (bool, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, models.Dependency("redis get "+key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, models.Dependency("redis decode "+key, err)
	}
	return true, nil
}

// setJSON writes with SET so a channel's value is replaced atomically.
func (r *RedisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return models.Dependency("redis set "+key, r.client.Set(ctx, key, b, ttl).Err())
}
