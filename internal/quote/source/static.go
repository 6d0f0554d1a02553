package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/quote/domain"
)

// Static serves fixed rates, stamped with the current time on every read.
type Static struct {
	rates map[string]decimal.Decimal
	clock clock.Clock
}

// ParseStatic reads "DOT/USD=7.25,ETH/USD=3100".
func ParseStatic(spec string, clk clock.Clock) (*Static, error) {
	s := &Static{rates: map[string]decimal.Decimal{}, clock: clk}
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		pair, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("static rate %q: missing '='", item)
		}
		base, quote, ok := strings.Cut(strings.TrimSpace(pair), "/")
		if !ok {
			return nil, fmt.Errorf("static rate %q: pair must be BASE/QUOTE", item)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("static rate %q: %w", item, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("static rate %q must be positive", item)
		}
		s.rates[pairKey(base, quote)] = rate
	}
	return s, nil
}

func (s *Static) Name() string { return "static" }

func (s *Static) Rate(_ context.Context, base, quote string) (domain.Rate, error) {
	value, ok := s.rates[pairKey(base, quote)]
	if !ok {
		return domain.Rate{}, domain.ErrUnsupportedPair
	}
	return domain.Rate{
		Base:  strings.ToUpper(base),
		Quote: strings.ToUpper(quote),
		Value: value,
		AsOf:  s.clock.Now(),
	}, nil
}

func pairKey(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}
