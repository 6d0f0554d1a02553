package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Transfer is a value movement observed on a ledger.
type Transfer struct {
	// TxRef is unique per chain. Token transfers append the log index.
	TxRef       string
	ToAddress   string
	Asset       string
	Amount      decimal.Decimal
	BlockHeight uint64
	// Position orders transfers inside a block.
	Position uint64
}

// Reader is the polling contract every ledger adapter satisfies. Push-based
// sources are wrapped by buffer.Buffer.
type Reader interface {
	Chain() string
	LatestConfirmedHeight(ctx context.Context) (uint64, error)
	TransfersAt(ctx context.Context, height uint64) ([]Transfer, error)
}

var (
	ErrUnavailable  = errors.New("ledger_unavailable")
	ErrCorruptBlock = errors.New("corrupt_block")
	ErrPruned       = errors.New("height_pruned")
	ErrUnknownChain = errors.New("unknown_chain")
)

// UnavailableError marks a transient reader failure. Callers retry with backoff.
type UnavailableError struct {
	Chain string
	Err   error
}

func Unavailable(chain string, err error) error {
	return &UnavailableError{Chain: chain, Err: err}
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s reader unavailable: %v", e.Chain, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

func (e *UnavailableError) Upstream() bool { return true }

// CorruptBlockError is returned for a block that cannot be parsed. The block
// is never skipped.
type CorruptBlockError struct {
	Chain  string
	Height uint64
	Err    error
}

func CorruptBlock(chain string, height uint64, err error) error {
	return &CorruptBlockError{Chain: chain, Height: height, Err: err}
}

func (e *CorruptBlockError) Error() string {
	return fmt.Sprintf("%s block %d corrupt: %v", e.Chain, e.Height, e.Err)
}

func (e *CorruptBlockError) Unwrap() []error {
	return []error{ErrCorruptBlock, e.Err}
}

// PrunedError is returned for a height the reader no longer holds. The block
// may have carried transfers, so it must never be read as empty.
type PrunedError struct {
	Chain  string
	Height uint64
	Floor  uint64
}

func Pruned(chain string, height, floor uint64) error {
	return &PrunedError{Chain: chain, Height: height, Floor: floor}
}

func (e *PrunedError) Error() string {
	return fmt.Sprintf("%s block %d pruned, oldest retained is %d", e.Chain, e.Height, e.Floor)
}

func (e *PrunedError) Unwrap() error {
	return ErrPruned
}

// NormalizeAddress lowercases hex addresses so checksummed and plain forms
// compare equal. Other encodings are case sensitive and kept as is.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}
