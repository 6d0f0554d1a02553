package ratelimit

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlement/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyIntentCreate = "settlement:ratelimit:intent:"

// Limiter gates intent creation per merchant.
type Limiter interface {
	AllowMerchant(ctx context.Context, merchantID string) (Result, error)
}

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Redis *redis.Client `optional:"true"`
}

// IntentLimiter is disabled (always allows) when redis or a rate is missing.
type IntentLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewIntentLimiter(p Params) *IntentLimiter {
	log := p.Log.Named("ratelimit")
	cfg := p.Cfg.RateLimit
	if p.Redis == nil || cfg.IntentRate <= 0 || cfg.IntentBurst <= 0 {
		log.Info("intent rate limit disabled")
		return &IntentLimiter{log: log}
	}
	return &IntentLimiter{
		bucket: NewTokenBucket(p.Redis),
		rate:   cfg.IntentRate,
		burst:  cfg.IntentBurst,
		log:    log,
	}
}

func (l *IntentLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowMerchant fails open: a redis error lets the request through.
func (l *IntentLimiter) AllowMerchant(ctx context.Context, merchantID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	result, err := l.bucket.Allow(ctx, keyIntentCreate+strings.TrimSpace(merchantID), l.rate, l.burst)
	if err != nil {
		l.log.Warn("rate limit check failed, allowing request",
			zap.String("merchant_id", merchantID),
			zap.Error(err),
		)
		return Result{Allowed: true, Limit: l.burst}, err
	}
	return result, nil
}
