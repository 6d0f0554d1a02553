package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/smallbiznis/settlement/internal/chain/domain"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const usdcContract = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

type stubClient struct {
	head    uint64
	headErr error
	logs    []types.Log
}

func (s *stubClient) BlockNumber(context.Context) (uint64, error) {
	return s.head, s.headErr
}

func (s *stubClient) BlockByNumber(context.Context, *big.Int) (*types.Block, error) {
	return nil, errors.New("not used")
}

func (s *stubClient) BlockReceipts(context.Context, rpc.BlockNumberOrHash) ([]*types.Receipt, error) {
	return nil, errors.New("not used")
}

func (s *stubClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return s.logs, nil
}

func tokenOnlyAssets() []config.AssetPolicy {
	return []config.AssetPolicy{{Code: "usdc", Chain: "ethereum", Decimals: 6, Contract: usdcContract}}
}

func transferLog(to common.Address, amount int64, txIndex, index uint) types.Log {
	data := common.LeftPadBytes(big.NewInt(amount).Bytes(), 32)
	return types.Log{
		Address:     common.HexToAddress(usdcContract),
		Topics:      []common.Hash{transferTopic, common.BytesToHash(common.HexToAddress("0x01").Bytes()), common.BytesToHash(to.Bytes())},
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xfeed"),
		TxIndex:     txIndex,
		Index:       index,
	}
}

func TestTransfersAtDecodesTokenLogs(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000AB")
	client := &stubClient{logs: []types.Log{
		transferLog(to, 2_500_000, 3, 7),
		transferLog(to, 1_000_000, 1, 2),
	}}
	reader, err := NewReader("ethereum", client, tokenOnlyAssets(), zap.NewNop())
	require.NoError(t, err)

	transfers, err := reader.TransfersAt(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, transfers, 2)

	first := transfers[0]
	assert.Equal(t, "USDC", first.Asset)
	assert.Equal(t, "1", first.Amount.String())
	assert.Equal(t, "0x00000000000000000000000000000000000000ab", first.ToAddress)
	assert.Equal(t, common.HexToHash("0xfeed").Hex()+":2", first.TxRef)
	assert.Equal(t, "2.5", transfers[1].Amount.String())
	assert.Less(t, first.Position, transfers[1].Position)
}

func TestMalformedLogIsCorruptBlock(t *testing.T) {
	entry := transferLog(common.HexToAddress("0x02"), 1, 0, 0)
	entry.Data = entry.Data[:16]
	reader, err := NewReader("ethereum", &stubClient{logs: []types.Log{entry}}, tokenOnlyAssets(), zap.NewNop())
	require.NoError(t, err)

	_, err = reader.TransfersAt(context.Background(), 100)
	assert.True(t, errors.Is(err, domain.ErrCorruptBlock))
}

func TestHeadErrorIsUnavailable(t *testing.T) {
	reader, err := NewReader("ethereum", &stubClient{headErr: errors.New("dial tcp: refused")}, tokenOnlyAssets(), zap.NewNop())
	require.NoError(t, err)

	_, err = reader.LatestConfirmedHeight(context.Background())
	assert.True(t, errors.Is(err, domain.ErrUnavailable))

	var upstream interface{ Upstream() bool }
	assert.True(t, errors.As(err, &upstream))
}

func TestNativeTransfersSkipReverted(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000cd")
	ok := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Value: big.NewInt(1_500_000_000_000_000_000), Gas: 21000, GasPrice: big.NewInt(1)})
	reverted := types.NewTx(&types.LegacyTx{Nonce: 2, To: &to, Value: big.NewInt(1), Gas: 21000, GasPrice: big.NewInt(1)})
	creation := types.NewTx(&types.LegacyTx{Nonce: 3, Value: big.NewInt(1), Gas: 21000, GasPrice: big.NewInt(1)})

	receipts := []*types.Receipt{
		{TxHash: ok.Hash(), Status: types.ReceiptStatusSuccessful},
		{TxHash: reverted.Hash(), Status: types.ReceiptStatusFailed},
		{TxHash: creation.Hash(), Status: types.ReceiptStatusSuccessful},
	}

	reader, err := NewReader("ethereum", &stubClient{}, []config.AssetPolicy{{Code: "ETH", Chain: "ethereum", Decimals: 18}}, zap.NewNop())
	require.NoError(t, err)

	transfers, err := reader.nativeTransfers(7, types.Transactions{ok, reverted, creation}, receipts)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "1.5", transfers[0].Amount.String())
	assert.Equal(t, ok.Hash().Hex(), transfers[0].TxRef)
	assert.Equal(t, uint64(7), transfers[0].BlockHeight)

	_, err = reader.nativeTransfers(7, types.Transactions{ok}, nil)
	assert.True(t, errors.Is(err, domain.ErrCorruptBlock))
}
