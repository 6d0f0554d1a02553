// Package seed loads deposit addresses and a merchant webhook endpoint so a
// local stack can take payments end to end.
package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	addressdomain "github.com/smallbiznis/settlement/internal/addresspool/domain"
	"github.com/smallbiznis/settlement/internal/config"
	webhookdomain "github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrNothingToSeed  = errors.New("nothing_to_seed")
	ErrChainRequired  = errors.New("seed_chain_required")
	ErrMerchantNeeded = errors.New("seed_merchant_required")
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Cfg       config.Config
	Addresses addressdomain.Service
	Endpoints webhookdomain.Service
}

type Result struct {
	Chain      string
	Offered    int
	Registered int
	EndpointID snowflake.ID
}

// Run registers the configured addresses and endpoint. Both steps are
// idempotent, so re-running with the same input changes nothing.
func Run(ctx context.Context, p Params) (Result, error) {
	log := p.Log.Named("seed")
	cfg := p.Cfg.Seed

	if len(cfg.Addresses) == 0 && strings.TrimSpace(cfg.WebhookURL) == "" {
		return Result{}, ErrNothingToSeed
	}

	result := Result{Chain: cfg.Chain, Offered: len(cfg.Addresses)}
	if len(cfg.Addresses) > 0 {
		if cfg.Chain == "" {
			return result, ErrChainRequired
		}
		registered, err := p.Addresses.Register(ctx, cfg.Chain, cfg.Addresses)
		if err != nil {
			return result, err
		}
		result.Registered = registered
		log.Info("deposit addresses seeded",
			zap.String("chain", cfg.Chain),
			zap.Int("offered", len(cfg.Addresses)),
			zap.Int("registered", registered),
		)
	}

	if strings.TrimSpace(cfg.WebhookURL) != "" {
		if cfg.MerchantID <= 0 {
			return result, ErrMerchantNeeded
		}
		endpoint, err := p.Endpoints.Upsert(ctx, webhookdomain.UpsertRequest{
			MerchantID: snowflake.ID(cfg.MerchantID),
			URL:        cfg.WebhookURL,
			Secret:     cfg.WebhookSecret,
		})
		if err != nil {
			return result, err
		}
		result.EndpointID = endpoint.ID
		log.Info("webhook endpoint seeded",
			zap.String("merchant_id", endpoint.MerchantID.String()),
			zap.String("url", endpoint.URL),
		)
	}

	return result, nil
}
