package source

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlement/internal/quote/domain"
	"go.uber.org/zap"
)

// Store is the slice of redis the rate cache uses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

var errCacheMiss = errors.New("cache_miss")

type redisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	return b, err
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Cached fronts a slow source with a shared short-lived cache. Cache
// failures fall through to the source.
type Cached struct {
	next  domain.RateSource
	store Store
	ttl   time.Duration
	log   *zap.Logger
}

func NewCached(next domain.RateSource, store Store, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{next: next, store: store, ttl: ttl, log: log.Named("quote.cache")}
}

func (c *Cached) Name() string { return c.next.Name() + "+cache" }

func (c *Cached) Rate(ctx context.Context, base, quote string) (domain.Rate, error) {
	key := "settlement:rate:" + pairKey(base, quote)

	if raw, err := c.store.Get(ctx, key); err == nil {
		var rate domain.Rate
		if err := json.Unmarshal(raw, &rate); err == nil {
			return rate, nil
		}
		c.log.Warn("discarding unreadable cached rate", zap.String("pair", pairKey(base, quote)))
	} else if !errors.Is(err, errCacheMiss) {
		c.log.Warn("rate cache read failed", zap.Error(err))
	}

	rate, err := c.next.Rate(ctx, base, quote)
	if err != nil {
		return domain.Rate{}, err
	}

	if raw, err := json.Marshal(rate); err == nil {
		if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
			c.log.Warn("rate cache write failed", zap.Error(err))
		}
	}
	return rate, nil
}
