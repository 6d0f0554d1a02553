package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/observability/metrics"
	"github.com/smallbiznis/settlement/internal/quote/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config  config.Config
	Policy  *config.PolicyHolder
	Source  domain.RateSource
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// Service prices fiat amounts in crypto using a rate source and the asset
// precision from policy.
type Service struct {
	policy  *config.PolicyHolder
	source  domain.RateSource
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	maxAge  time.Duration
}

func New(p Params) domain.Provider {
	return &Service{
		policy:  p.Policy,
		source:  p.Source,
		clock:   p.Clock,
		log:     p.Log.Named("quote.service"),
		metrics: p.Metrics,
		timeout: p.Config.Quote.Timeout,
		maxAge:  p.Config.Quote.MaxAge,
	}
}

func (s *Service) Quote(ctx context.Context, req domain.Request) (domain.Quote, error) {
	policy := s.policy.Get()

	fiat, ok := policy.Fiat(req.FiatCurrency)
	if !ok {
		return domain.Quote{}, domain.ErrUnsupportedPair
	}
	asset, ok := policy.Asset(req.CryptoCurrency)
	if !ok {
		return domain.Quote{}, domain.ErrUnsupportedPair
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rate, err := s.source.Rate(ctx, asset.Code, fiat.Code)
	if err != nil {
		s.metrics.RecordQuote(ctx, s.source.Name(), outcomeOf(err))
		if errors.Is(err, domain.ErrUnsupportedPair) || errors.Is(err, domain.ErrUnavailable) {
			return domain.Quote{}, err
		}
		return domain.Quote{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	if !rate.Value.IsPositive() {
		s.metrics.RecordQuote(ctx, s.source.Name(), "unavailable")
		return domain.Quote{}, fmt.Errorf("%w: non-positive rate for %s/%s", domain.ErrUnavailable, asset.Code, fiat.Code)
	}

	if s.maxAge > 0 && s.clock.Now().Sub(rate.AsOf) > s.maxAge {
		s.metrics.RecordQuote(ctx, s.source.Name(), "stale")
		s.log.Warn("stale rate rejected",
			zap.String("pair", asset.Code+"/"+fiat.Code),
			zap.Time("as_of", rate.AsOf),
		)
		return domain.Quote{}, domain.ErrStale
	}

	amount := CryptoAmount(req.FiatAmount, fiat.Exponent, rate.Value, asset.Decimals)
	s.metrics.RecordQuote(ctx, s.source.Name(), "ok")

	return domain.Quote{
		CryptoAmount: amount,
		Rate:         rate.Value,
		AsOf:         rate.AsOf,
		Source:       s.source.Name(),
	}, nil
}

// CryptoAmount converts minor fiat units to the asset, rounded up to the
// asset's precision so the merchant is never under-quoted.
func CryptoAmount(fiatMinor int64, fiatExponent int32, rate decimal.Decimal, assetDecimals int32) decimal.Decimal {
	major := decimal.New(fiatMinor, -fiatExponent)
	return major.DivRound(rate, assetDecimals+8).RoundUp(assetDecimals)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnsupportedPair):
		return "unsupported"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrStale):
		return "stale"
	default:
		return "unavailable"
	}
}
