package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
)

type upsertWebhookEndpointRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// UpsertWebhookEndpoint registers or rotates the merchant's delivery target.
// The secret is write-only and never echoed back.
func (s *Server) UpsertWebhookEndpoint(c *gin.Context) {
	var req upsertWebhookEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.endpointSvc.Upsert(c.Request.Context(), webhookdomain.UpsertRequest{
		MerchantID: merchantIDFrom(c),
		URL:        strings.TrimSpace(req.URL),
		Secret:     req.Secret,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DisableWebhookEndpoint(c *gin.Context) {
	if err := s.endpointSvc.SetActive(c.Request.Context(), merchantIDFrom(c), false); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
