package quote

import (
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/quote/domain"
	"github.com/smallbiznis/settlement/internal/quote/service"
	"github.com/smallbiznis/settlement/internal/quote/source"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("quote.service",
	fx.Provide(NewRateSource),
	fx.Provide(service.New),
)

type SourceParams struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// NewRateSource builds the configured rate source. The http source is
// fronted by the redis cache when redis is configured.
func NewRateSource(p SourceParams) (domain.RateSource, error) {
	cfg := p.Config.Quote
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "static":
		return source.ParseStatic(cfg.StaticRates, p.Clock)
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("QUOTE_URL is required for the http quote source")
		}
		var src domain.RateSource = source.NewHTTP(cfg.URL, cfg.Timeout)
		if p.Redis != nil && cfg.CacheTTL > 0 {
			src = source.NewCached(src, source.NewRedisStore(p.Redis), cfg.CacheTTL, p.Log)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown quote source %q", cfg.Source)
	}
}
