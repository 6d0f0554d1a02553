package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
)

// maxExpiresIn is the largest window, in seconds, that fits a time.Duration.
const maxExpiresIn = int64(math.MaxInt64 / int64(time.Second))

type createPaymentIntentRequest struct {
	FiatAmount     int64          `json:"fiat_amount"`
	FiatCurrency   string         `json:"fiat_currency"`
	CryptoCurrency string         `json:"crypto_currency"`
	Metadata       map[string]any `json:"metadata"`
	// ExpiresIn is the payment window in seconds; zero uses the configured default.
	ExpiresIn int64 `json:"expires_in"`
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	var req createPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.ExpiresIn < 0 {
		AbortWithError(c, newValidationError("expires_in", "invalid_ttl", "expires_in must not be negative"))
		return
	}
	if req.ExpiresIn > maxExpiresIn {
		AbortWithError(c, newValidationError("expires_in", "invalid_ttl", "expires_in is too large"))
		return
	}

	resp, err := s.intentSvc.Create(c.Request.Context(), intentdomain.CreateIntentRequest{
		MerchantID:     merchantIDFrom(c),
		FiatAmount:     req.FiatAmount,
		FiatCurrency:   strings.TrimSpace(req.FiatCurrency),
		CryptoCurrency: strings.TrimSpace(req.CryptoCurrency),
		Metadata:       req.Metadata,
		TTL:            time.Duration(req.ExpiresIn) * time.Second,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("intent_id", resp.ID.String())
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetPaymentIntent(c *gin.Context) {
	resp, err := s.intentSvc.Get(c.Request.Context(), intentdomain.GetIntentRequest{
		MerchantID: merchantIDFrom(c),
		ID:         strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelPaymentIntent(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set("intent_id", id)

	resp, err := s.intentSvc.Cancel(c.Request.Context(), intentdomain.CancelIntentRequest{
		MerchantID: merchantIDFrom(c),
		ID:         id,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPaymentIntents(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.intentSvc.List(c.Request.Context(), intentdomain.ListIntentRequest{
		MerchantID: merchantIDFrom(c),
		Status:     strings.ToUpper(strings.TrimSpace(query.Status)),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type eventView struct {
	notificationdomain.Event
	Data json.RawMessage `json:"payload"`
}

// ListPaymentIntentEvents returns the outbox rows of an intent, oldest first,
// with the exact payload bytes that were (or will be) delivered.
func (s *Server) ListPaymentIntentEvents(c *gin.Context) {
	intent, err := s.intentSvc.Get(c.Request.Context(), intentdomain.GetIntentRequest{
		MerchantID: merchantIDFrom(c),
		ID:         strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	events, err := s.eventSvc.ListForIntent(c.Request.Context(), intent.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, event := range events {
		views = append(views, eventView{Event: event, Data: json.RawMessage(event.Payload)})
	}

	c.JSON(http.StatusOK, gin.H{"data": views})
}
