package buffer

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/chain/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferServesPushedBlocksInPositionOrder(t *testing.T) {
	buf := New("polkadot", 0)
	buf.Push(10, []domain.Transfer{
		{TxRef: "b", ToAddress: "addr", Asset: "DOT", Amount: decimal.RequireFromString("1"), Position: 2},
		{TxRef: "a", ToAddress: "addr", Asset: "DOT", Amount: decimal.RequireFromString("1"), Position: 1},
	})

	head, err := buf.LatestConfirmedHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), head)

	transfers, err := buf.TransfersAt(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, "a", transfers[0].TxRef)
	assert.Equal(t, uint64(10), transfers[0].BlockHeight)

	empty, err := buf.TransfersAt(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBufferRejectsReadsAheadOfHead(t *testing.T) {
	buf := New("polkadot", 0)
	buf.Advance(3)

	_, err := buf.TransfersAt(context.Background(), 4)
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
}

func TestBufferFailsPrunedHeights(t *testing.T) {
	buf := New("ethereum", 2)
	buf.Push(1, []domain.Transfer{{TxRef: "0xAA", ToAddress: "0xABC"}})
	buf.Push(5, nil)

	_, err := buf.TransfersAt(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPruned))
	assert.False(t, errors.Is(err, domain.ErrUnavailable))

	var pruned *domain.PrunedError
	require.True(t, errors.As(err, &pruned))
	assert.Equal(t, uint64(3), pruned.Floor)

	// heights inside the window that were never pushed are still empty blocks
	transfers, err := buf.TransfersAt(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, transfers)

	buf.Advance(9)
	_, err = buf.TransfersAt(context.Background(), 5)
	assert.True(t, errors.Is(err, domain.ErrPruned))
}

func TestBufferFailAndRecover(t *testing.T) {
	buf := New("ethereum", 0)
	buf.Push(1, nil)

	buf.Fail(errors.New("socket closed"))
	_, err := buf.LatestConfirmedHeight(context.Background())
	assert.True(t, errors.Is(err, domain.ErrUnavailable))

	buf.Fail(nil)
	_, err = buf.LatestConfirmedHeight(context.Background())
	assert.NoError(t, err)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef", domain.NormalizeAddress(" 0xABCdef "))
	assert.Equal(t, "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5", domain.NormalizeAddress("15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"))
}
