package server

import (
	"math"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/settlement/internal/observability/context"
)

const (
	HeaderMerchant       = "X-Merchant-Id"
	contextMerchantIDKey = "merchant_id"
)

// MerchantContext resolves the calling merchant from the X-Merchant-Id header.
// Authentication happens upstream; the header is trusted as-is.
func MerchantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		merchantID, err := parseOptionalSnowflakeID(c.GetHeader(HeaderMerchant))
		if err != nil || merchantID == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		ctx = obscontext.WithMerchantID(ctx, merchantID.String())
		ctx = obscontext.WithActor(ctx, "merchant", merchantID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextMerchantIDKey, *merchantID)
		c.Next()
	}
}

func merchantIDFrom(c *gin.Context) snowflake.ID {
	value, ok := c.Get(contextMerchantIDKey)
	if !ok {
		return 0
	}
	id, _ := value.(snowflake.ID)
	return id
}

// IntentRateLimit applies the per-merchant creation budget. Limiter errors
// fail open.
func (s *Server) IntentRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		result, _ := s.limiter.AllowMerchant(c.Request.Context(), merchantIDFrom(c).String())
		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			seconds := int(math.Ceil(result.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
