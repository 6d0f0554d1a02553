package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Disposition records what reconciliation did with an observed transfer.
type Disposition string

const (
	DispositionMatched    Disposition = "matched"
	DispositionMismatched Disposition = "mismatched"
	DispositionUnexpected Disposition = "unexpected"
	DispositionExpired    Disposition = "expired"
)

// LedgerTransfer is the audit row for a transfer to a watched address. Its
// (chain, tx_ref) key makes block replay a no-op.
type LedgerTransfer struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id,string"`
	Chain       string          `gorm:"type:text;not null;uniqueIndex:ux_ledger_transfers_chain_tx_ref,priority:1" json:"chain"`
	TxRef       string          `gorm:"type:text;not null;uniqueIndex:ux_ledger_transfers_chain_tx_ref,priority:2" json:"tx_ref"`
	ToAddress   string          `gorm:"type:text;not null" json:"to_address"`
	Asset       string          `gorm:"type:text;not null" json:"asset"`
	Amount      decimal.Decimal `gorm:"type:text;not null" json:"amount"`
	BlockHeight uint64          `gorm:"not null" json:"block_height"`
	Position    uint64          `gorm:"not null" json:"position"`
	IntentID    *snowflake.ID   `gorm:"index" json:"intent_id,omitempty,string"`
	Disposition Disposition     `gorm:"type:text;not null" json:"disposition"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

func (LedgerTransfer) TableName() string { return "ledger_transfers" }

// Watermark is the highest block of a chain whose transfers are fully processed.
type Watermark struct {
	Chain     string    `gorm:"primaryKey;type:text"`
	Height    uint64    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Watermark) TableName() string { return "reconciliation_watermarks" }
