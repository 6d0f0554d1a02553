package domain

import (
	"context"
	"errors"
)

// Engine matches observed ledger transfers to open payment intents.
type Engine interface {
	// Reconcile scans the next window of blocks above the chain's watermark.
	Reconcile(ctx context.Context, chain string) (CycleSummary, error)
	// Confirm settles or vetoes PROCESSING intents that reached confirmation depth.
	Confirm(ctx context.Context, chain string, limit int) (ConfirmSummary, error)
}

type CycleSummary struct {
	Chain      string
	Head       uint64
	From       uint64
	To         uint64
	Blocks     int
	Matched    int
	Mismatched int
	Unexpected int
	Replayed   int
}

type ConfirmSummary struct {
	Chain     string
	Head      uint64
	Succeeded int
	Vetoed    int
	Pending   int
}

var (
	ErrUnknownChain = errors.New("unknown_chain")
)
