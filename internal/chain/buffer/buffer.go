package buffer

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/smallbiznis/settlement/internal/chain/domain"
)

var errAheadOfHead = errors.New("height ahead of buffered head")

// Buffer adapts a push source (subscriptions, webhooks from a node provider)
// to the polling Reader contract. Heights that were never pushed read as
// empty blocks; heights at or below the pruned mark fail with ErrPruned.
// Pushing a height again replaces it, which is how a reorg below the
// confirmation depth is expressed.
type Buffer struct {
	chain  string
	retain uint64

	mu     sync.RWMutex
	head   uint64
	floor  uint64 // lowest height still readable; zero until something is pruned
	blocks map[uint64][]domain.Transfer
	err    error
}

// New keeps the last retain heights; zero keeps everything.
func New(chain string, retain uint64) *Buffer {
	return &Buffer{
		chain:  chain,
		retain: retain,
		blocks: make(map[uint64][]domain.Transfer),
	}
}

func (b *Buffer) Chain() string {
	return b.chain
}

// Push records the transfers of one block and advances the head.
func (b *Buffer) Push(height uint64, transfers []domain.Transfer) {
	block := make([]domain.Transfer, len(transfers))
	copy(block, transfers)
	for i := range block {
		block[i].BlockHeight = height
		block[i].ToAddress = domain.NormalizeAddress(block[i].ToAddress)
	}
	sort.SliceStable(block, func(i, j int) bool {
		return block[i].Position < block[j].Position
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.floor > 0 && height < b.floor {
		return
	}
	b.blocks[height] = block
	if height > b.head {
		b.head = height
	}
	b.prune()
}

func (b *Buffer) prune() {
	if b.retain == 0 || b.head <= b.retain {
		return
	}
	floor := b.head - b.retain
	if floor <= b.floor {
		return
	}
	for h := range b.blocks {
		if h < floor {
			delete(b.blocks, h)
		}
	}
	b.floor = floor
}

// Advance moves the head without transfers, for sources that only push
// blocks of interest.
func (b *Buffer) Advance(height uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if height > b.head {
		b.head = height
	}
	b.prune()
}

// Fail makes every read return err until Fail(nil) is called.
func (b *Buffer) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *Buffer) LatestConfirmedHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.Unavailable(b.chain, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.err != nil {
		return 0, domain.Unavailable(b.chain, b.err)
	}
	return b.head, nil
}

func (b *Buffer) TransfersAt(ctx context.Context, height uint64) ([]domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable(b.chain, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.err != nil {
		return nil, domain.Unavailable(b.chain, b.err)
	}
	if height > b.head {
		return nil, domain.Unavailable(b.chain, errAheadOfHead)
	}
	if height < b.floor {
		return nil, domain.Pruned(b.chain, height, b.floor)
	}

	block := b.blocks[height]
	out := make([]domain.Transfer, len(block))
	copy(out, block)
	return out, nil
}
