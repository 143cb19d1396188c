package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "adstitch:session:"

// RedisStore keeps sessions in Redis (or any Redis-protocol server) so
// multiple stitcher instances share them. Expiry is native key TTL, so
// ReapExpired has nothing to scan.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	onEvict func(id string)
}

func NewRedisStore(redisURL string, ttl time.Duration, onEvict func(id string)) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisStore{
		client:  redis.NewClient(opt),
		ttl:     ttl,
		onEvict: onEvict,
	}, nil
}

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) GetOrCreate(ctx context.Context, id, originURL, mode string) (*Session, bool, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        id,
		OriginURL: originURL,
		Mode:      mode,
		CreatedAt: now,
		LastSeen:  now,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, false, err
	}
	created, err := s.client.SetNX(ctx, redisKeyPrefix+id, data, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("session setnx: %w", err)
	}
	if created {
		return sess, true, nil
	}
	existing, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Expired between SetNX and Get; recreate
		if err := s.client.Set(ctx, redisKeyPrefix+id, data, s.ttl).Err(); err != nil {
			return nil, false, fmt.Errorf("session set: %w", err)
		}
		return sess, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := s.Touch(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	existing.LastSeen = now
	return existing, false, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session unmarshal: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Touch(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.LastSeen = time.Now().UTC()
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, redisKeyPrefix+id, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("session setxx: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("session del: %w", err)
	}
	if n > 0 && s.onEvict != nil {
		s.onEvict(id)
	}
	return nil
}

func (s *RedisStore) ReapExpired(_ context.Context) (int, error) {
	return 0, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n := 0
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 256).Result()
		if err != nil {
			return 0, fmt.Errorf("session scan: %w", err)
		}
		n += len(keys)
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}

func (s *RedisStore) List(ctx context.Context) ([]*Session, error) {
	var out []*Session
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 256).Result()
		if err != nil {
			return nil, fmt.Errorf("session scan: %w", err)
		}
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("session get %s: %w", key, err)
			}
			var sess Session
			if err := json.Unmarshal(data, &sess); err != nil {
				continue
			}
			out = append(out, &sess)
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}
