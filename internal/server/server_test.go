package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"github.com/smallbiznis/settlement/internal/ratelimit"
	webhookdomain "github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMerchant = snowflake.ID(4242)

type fakeIntentService struct {
	created  intentdomain.CreateIntentRequest
	listed   intentdomain.ListIntentRequest
	intent   intentdomain.PaymentIntent
	err      error
	canceled bool
}

func (f *fakeIntentService) Create(_ context.Context, req intentdomain.CreateIntentRequest) (intentdomain.PaymentIntent, error) {
	f.created = req
	if f.err != nil {
		return intentdomain.PaymentIntent{}, f.err
	}
	return f.intent, nil
}

func (f *fakeIntentService) Get(_ context.Context, req intentdomain.GetIntentRequest) (intentdomain.PaymentIntent, error) {
	if f.err != nil {
		return intentdomain.PaymentIntent{}, f.err
	}
	if req.MerchantID != f.intent.MerchantID || req.ID != f.intent.ID.String() {
		return intentdomain.PaymentIntent{}, intentdomain.ErrNotFound
	}
	return f.intent, nil
}

func (f *fakeIntentService) Cancel(ctx context.Context, req intentdomain.CancelIntentRequest) (intentdomain.PaymentIntent, error) {
	intent, err := f.Get(ctx, intentdomain.GetIntentRequest{MerchantID: req.MerchantID, ID: req.ID})
	if err != nil {
		return intentdomain.PaymentIntent{}, err
	}
	if intent.Status != intentdomain.StatusRequiresPayment {
		return intentdomain.PaymentIntent{}, intentdomain.ErrInvalidStateTransition
	}
	f.canceled = true
	intent.Status = intentdomain.StatusCanceled
	return intent, nil
}

func (f *fakeIntentService) List(_ context.Context, req intentdomain.ListIntentRequest) (intentdomain.ListIntentResponse, error) {
	f.listed = req
	if _, ok := intentdomain.ParseStatus(req.Status); req.Status != "" && !ok {
		return intentdomain.ListIntentResponse{}, intentdomain.ErrInvalidStatus
	}
	return intentdomain.ListIntentResponse{Intents: []intentdomain.PaymentIntent{f.intent}}, nil
}

func (f *fakeIntentService) ExpireOverdue(context.Context, int) (int, error) {
	return 0, nil
}

type fakeEventService struct {
	events []notificationdomain.Event
}

func (f *fakeEventService) ListForIntent(_ context.Context, intentID snowflake.ID) ([]notificationdomain.Event, error) {
	var out []notificationdomain.Event
	for _, event := range f.events {
		if event.IntentID == intentID {
			out = append(out, event)
		}
	}
	return out, nil
}

type fakeEndpointService struct {
	upserted webhookdomain.UpsertRequest
	disabled bool
}

func (f *fakeEndpointService) Upsert(_ context.Context, req webhookdomain.UpsertRequest) (webhookdomain.Endpoint, error) {
	if len(req.Secret) < 16 {
		return webhookdomain.Endpoint{}, webhookdomain.ErrInvalidSecret
	}
	f.upserted = req
	return webhookdomain.Endpoint{ID: 9, MerchantID: req.MerchantID, URL: req.URL, IsActive: true}, nil
}

func (f *fakeEndpointService) SetActive(_ context.Context, _ snowflake.ID, active bool) error {
	f.disabled = !active
	return nil
}

func (f *fakeEndpointService) Resolve(context.Context, snowflake.ID) (webhookdomain.Target, error) {
	return webhookdomain.Target{}, webhookdomain.ErrNotFound
}

type fakeLimiter struct {
	remaining int
}

func (f *fakeLimiter) AllowMerchant(context.Context, string) (ratelimit.Result, error) {
	if f.remaining <= 0 {
		return ratelimit.Result{Limit: 2, RetryAfter: 1500 * time.Millisecond}, nil
	}
	f.remaining--
	return ratelimit.Result{Allowed: true, Limit: 2, Remaining: f.remaining}, nil
}

type apiFixture struct {
	engine    *gin.Engine
	intents   *fakeIntentService
	events    *fakeEventService
	endpoints *fakeEndpointService
	limiter   *fakeLimiter
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &apiFixture{
		engine: gin.New(),
		intents: &fakeIntentService{intent: intentdomain.PaymentIntent{
			ID:                 snowflake.ID(77),
			MerchantID:         testMerchant,
			FiatAmount:         2500,
			FiatCurrency:       "USD",
			CryptoCurrency:     "ETH",
			Chain:              "ethereum",
			DestinationAddress: "0xabc",
			Status:             intentdomain.StatusRequiresPayment,
			ExpiresAt:          now.Add(15 * time.Minute),
			CreatedAt:          now,
		}},
		events: &fakeEventService{events: []notificationdomain.Event{{
			ID:        snowflake.ID(1),
			IntentID:  snowflake.ID(77),
			EventType: "payment_intent.canceled",
			Payload:   []byte(`{"id":"1","type":"payment_intent.canceled"}`),
			Status:    notificationdomain.EventStatusPending,
		}}},
		endpoints: &fakeEndpointService{},
		limiter:   &fakeLimiter{remaining: 100},
	}
	f.engine.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin:         f.engine,
		Log:         zap.NewNop(),
		IntentSvc:   f.intents,
		EventSvc:    f.events,
		EndpointSvc: f.endpoints,
		Limiter:     f.limiter,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string, merchant bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if merchant {
		req.Header.Set(HeaderMerchant, testMerchant.String())
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payment_intents",
		`{"fiat_amount":2500,"fiat_currency":" usd ","crypto_currency":"ETH","metadata":{"order":"A-1"},"expires_in":600}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	assert.Equal(t, testMerchant, f.intents.created.MerchantID)
	assert.Equal(t, int64(2500), f.intents.created.FiatAmount)
	assert.Equal(t, "usd", f.intents.created.FiatCurrency)
	assert.Equal(t, 10*time.Minute, f.intents.created.TTL)
	assert.Equal(t, "A-1", f.intents.created.Metadata["order"])
}

func TestMissingMerchantHeaderIsUnauthorized(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/payment_intents/77", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestCreatePaymentIntentErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
		code   string
	}{
		{name: "invalid amount", err: intentdomain.ErrInvalidAmount, status: http.StatusBadRequest, typ: "validation_error", code: "invalid_amount"},
		{name: "metadata", err: intentdomain.ErrMetadataTooLarge, status: http.StatusBadRequest, typ: "validation_error", code: "metadata_too_large"},
		{name: "quote", err: intentdomain.ErrQuoteUnavailable, status: http.StatusServiceUnavailable, typ: "service_unavailable"},
		{name: "addresses", err: intentdomain.ErrNoAddressAvailable, status: http.StatusServiceUnavailable, typ: "service_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.intents.err = tc.err

			rec := f.do(t, http.MethodPost, "/v1/payment_intents", `{"fiat_amount":1,"fiat_currency":"USD","crypto_currency":"ETH"}`, true)
			require.Equal(t, tc.status, rec.Code)

			payload := decodeError(t, rec)
			assert.Equal(t, tc.typ, payload.Type)
			if tc.code != "" {
				require.Len(t, payload.Errors, 1)
				assert.Equal(t, tc.code, payload.Errors[0].Code)
			}
		})
	}
}

func TestCreatePaymentIntentRejectsMalformedBody(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payment_intents", `{"fiat_amount":"lots"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/payment_intents", `{"fiat_amount":1,"expires_in":-5}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "expires_in", decodeError(t, rec).Errors[0].Field)
}

func TestCreatePaymentIntentRejectsOverflowingExpiry(t *testing.T) {
	f := newAPIFixture(t)

	// 9223372037 seconds is one past what a time.Duration can hold; 18446744074
	// would wrap to a fraction of a second.
	for _, expiresIn := range []string{"9223372037", "18446744074"} {
		rec := f.do(t, http.MethodPost, "/v1/payment_intents",
			`{"fiat_amount":1,"fiat_currency":"USD","crypto_currency":"ETH","expires_in":`+expiresIn+`}`, true)
		require.Equal(t, http.StatusBadRequest, rec.Code, expiresIn)

		payload := decodeError(t, rec)
		require.Len(t, payload.Errors, 1)
		assert.Equal(t, "expires_in", payload.Errors[0].Field)
		assert.Equal(t, "invalid_ttl", payload.Errors[0].Code)
	}
	assert.Zero(t, f.intents.created.MerchantID, "service is never reached")
}

func TestGetPaymentIntentScopesByMerchant(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/payment_intents/77", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data intentdomain.PaymentIntent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, snowflake.ID(77), resp.Data.ID)
	assert.Equal(t, intentdomain.StatusRequiresPayment, resp.Data.Status)

	req := httptest.NewRequest(http.MethodGet, "/v1/payment_intents/77", nil)
	req.Header.Set(HeaderMerchant, "9999")
	other := httptest.NewRecorder()
	f.engine.ServeHTTP(other, req)
	assert.Equal(t, http.StatusNotFound, other.Code)
}

func TestCancelPaymentIntent(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/payment_intents/77/cancel", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.intents.canceled)

	f.intents.intent.Status = intentdomain.StatusProcessing
	rec = f.do(t, http.MethodPost, "/v1/payment_intents/77/cancel", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListPaymentIntentsPassesStatusFilter(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/payment_intents?status=processing&page_size=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PROCESSING", f.intents.listed.Status)
	assert.Equal(t, int32(5), f.intents.listed.PageSize)

	rec = f.do(t, http.MethodGet, "/v1/payment_intents?status=settled", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPaymentIntentEventsIncludesPayload(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/payment_intents/77/events", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []struct {
			Type    string          `json:"type"`
			Status  string          `json:"status"`
			Payload json.RawMessage `json:"payload"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "payment_intent.canceled", resp.Data[0].Type)
	assert.JSONEq(t, `{"id":"1","type":"payment_intent.canceled"}`, string(resp.Data[0].Payload))
}

func TestWebhookEndpointRoutes(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/v1/webhook_endpoint", `{"url":"https://merchant.example/hooks","secret":"short"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/webhook_endpoint", `{"url":" https://merchant.example/hooks ","secret":"0123456789abcdef"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://merchant.example/hooks", f.endpoints.upserted.URL)
	assert.NotContains(t, rec.Body.String(), "0123456789abcdef")

	rec = f.do(t, http.MethodPost, "/v1/webhook_endpoint/disable", "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, f.endpoints.disabled)
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(intentdomain.ErrInvalidCurrency)
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "invalid_currency", code)

	typ, code = classifyErrorForLog(intentdomain.ErrInvalidStateTransition)
	assert.Equal(t, "conflict", typ)
	assert.Equal(t, "conflict", code)
}

func TestCreatePaymentIntentRateLimited(t *testing.T) {
	f := newAPIFixture(t)
	f.limiter.remaining = 1
	body := `{"fiat_amount":1,"fiat_currency":"USD","crypto_currency":"ETH"}`

	rec := f.do(t, http.MethodPost, "/v1/payment_intents", body, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = f.do(t, http.MethodPost, "/v1/payment_intents", body, true)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, rec).Type)

	// Reads are not limited.
	rec = f.do(t, http.MethodGet, "/v1/payment_intents/77", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}
