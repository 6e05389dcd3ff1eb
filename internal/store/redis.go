package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shanehokw/ranker/internal/config"
)

// RedisStore keeps each poll as a RedisJSON document, written with JSON.SET
// on field paths so concurrent writers touching different fields never
// clobber each other's updates.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisStore(client *redis.Client, log *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		log:    log.With("component", "redis_store"),
	}
}

func (s *RedisStore) SetPoll(ctx context.Context, pollID string, doc []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	key := Key(pollID)

	// Document and expiry land in one round trip; the record is never
	// visible without its TTL.
	pipe := s.client.TxPipeline()
	pipe.JSONSet(ctx, key, ".", string(doc))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.classify(fmt.Errorf("failed to set poll %s: %w", pollID, err))
	}
	return nil
}

func (s *RedisStore) GetPoll(ctx context.Context, pollID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	doc, err := s.client.JSONGet(ctx, Key(pollID), ".").Result()
	if err != nil {
		return nil, s.classify(fmt.Errorf("failed to get poll %s: %w", pollID, err))
	}
	if doc == "" {
		return nil, ErrNotFound
	}
	return []byte(doc), nil
}

func (s *RedisStore) SetPath(ctx context.Context, pollID, path string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	if err := s.client.JSONSet(ctx, Key(pollID), path, string(value)).Err(); err != nil {
		return s.classify(fmt.Errorf("failed to set %s on poll %s: %w", path, pollID, err))
	}
	return nil
}

func (s *RedisStore) DelPath(ctx context.Context, pollID, path string) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	if err := s.client.JSONDel(ctx, Key(pollID), path).Err(); err != nil {
		return s.classify(fmt.Errorf("failed to delete %s on poll %s: %w", path, pollID, err))
	}
	return nil
}

func (s *RedisStore) DelPoll(ctx context.Context, pollID string) error {
	ctx, cancel := context.WithTimeout(ctx, config.StoreTimeout)
	defer cancel()

	if err := s.client.JSONDel(ctx, Key(pollID), ".").Err(); err != nil {
		return s.classify(fmt.Errorf("failed to delete poll %s: %w", pollID, err))
	}
	return nil
}

// classify maps redis errors onto the store taxonomy: missing keys are
// ErrNotFound, timeouts and connection failures are ErrUnavailable
// (retryable), anything else surfaces as-is.
func (s *RedisStore) classify(err error) error {
	switch {
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		s.log.Warn("store call timed out", "error", err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			s.log.Warn("store connection failed", "error", err)
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
}
