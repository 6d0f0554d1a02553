package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DepositAddress is a receiving address owned by the gateway. Version guards
// concurrent assignment.
type DepositAddress struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	Chain            string        `gorm:"not null;uniqueIndex:ux_deposit_addresses_chain_address,priority:1" json:"chain"`
	Address          string        `gorm:"not null;uniqueIndex:ux_deposit_addresses_chain_address,priority:2" json:"address"`
	AssignedIntentID *snowflake.ID `json:"assigned_intent_id,omitempty"`
	AssignedAt       *time.Time    `json:"assigned_at,omitempty"`
	Version          int64         `gorm:"not null;default:0" json:"version"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
}

func (DepositAddress) TableName() string {
	return "deposit_addresses"
}
