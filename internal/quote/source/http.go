package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/quote/domain"
)

// HTTP reads rates from a price service answering
// GET <url>?base=DOT&quote=USD with {"rate":"7.25","as_of":"2026-01-01T00:00:00Z"}.
type HTTP struct {
	endpoint string
	client   *http.Client
}

func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	return &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) Name() string { return "http" }

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
	AsOf time.Time       `json:"as_of"`
}

func (h *HTTP) Rate(ctx context.Context, base, quote string) (domain.Rate, error) {
	u, err := url.Parse(h.endpoint)
	if err != nil {
		return domain.Rate{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	q := u.Query()
	q.Set("base", strings.ToUpper(base))
	q.Set("quote", strings.ToUpper(quote))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Rate{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.Rate{}, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Rate{}, domain.ErrUnsupportedPair
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return domain.Rate{}, fmt.Errorf("%w: rate service returned %d", domain.ErrUnavailable, resp.StatusCode)
	}

	var body rateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return domain.Rate{}, fmt.Errorf("%w: decode rate: %v", domain.ErrUnavailable, err)
	}
	if !body.Rate.IsPositive() || body.AsOf.IsZero() {
		return domain.Rate{}, fmt.Errorf("%w: incomplete rate payload", domain.ErrUnavailable)
	}

	return domain.Rate{
		Base:  strings.ToUpper(base),
		Quote: strings.ToUpper(quote),
		Value: body.Rate,
		AsOf:  body.AsOf.UTC(),
	}, nil
}
