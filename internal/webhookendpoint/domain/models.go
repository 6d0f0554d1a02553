package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Endpoint is where a merchant receives signed notification events. Secret
// holds the sealed signing secret and is never serialized.
type Endpoint struct {
	ID         snowflake.ID   `json:"id,string" gorm:"primaryKey"`
	MerchantID snowflake.ID   `json:"merchant_id,string" gorm:"not null;uniqueIndex:ux_webhook_endpoints_merchant"`
	URL        string         `json:"url" gorm:"type:text;not null"`
	Secret     datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	IsActive   bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"not null"`
}

func (Endpoint) TableName() string { return "webhook_endpoints" }

// Target is a resolved endpoint with its secret in the clear.
type Target struct {
	URL    string
	Secret []byte
}
