package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/settlement/internal/chain/domain"
	"github.com/smallbiznis/settlement/internal/config"
	"go.uber.org/zap"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client is the subset of ethclient.Client the reader needs.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	BlockReceipts(ctx context.Context, blockNrOrHash rpc.BlockNumberOrHash) ([]*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type token struct {
	code     string
	decimals int32
}

// Reader extracts native coin and ERC-20 transfers from an EVM chain.
type Reader struct {
	chain  string
	client Client
	log    *zap.Logger

	native    *token
	tokens    map[common.Address]token
	contracts []common.Address
}

// Dial connects to rpcURL and builds a reader for the assets configured on chain.
func Dial(ctx context.Context, rpcURL, chain string, assets []config.AssetPolicy, log *zap.Logger) (*Reader, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s rpc: %w", chain, err)
	}
	reader, err := NewReader(chain, client, assets, log)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return reader, client, nil
}

func NewReader(chain string, client Client, assets []config.AssetPolicy, log *zap.Logger) (*Reader, error) {
	r := &Reader{
		chain:  chain,
		client: client,
		log:    log.Named("chain.evm").With(zap.String("chain", chain)),
		tokens: make(map[common.Address]token),
	}
	for _, asset := range assets {
		t := token{code: strings.ToUpper(asset.Code), decimals: asset.Decimals}
		contract := strings.TrimSpace(asset.Contract)
		if contract == "" {
			r.native = &t
			continue
		}
		if !common.IsHexAddress(contract) {
			return nil, fmt.Errorf("asset %s: invalid contract address %q", asset.Code, contract)
		}
		addr := common.HexToAddress(contract)
		r.tokens[addr] = t
		r.contracts = append(r.contracts, addr)
	}
	return r, nil
}

func (r *Reader) Chain() string {
	return r.chain
}

func (r *Reader) LatestConfirmedHeight(ctx context.Context) (uint64, error) {
	height, err := r.client.BlockNumber(ctx)
	if err != nil {
		return 0, domain.Unavailable(r.chain, err)
	}
	return height, nil
}

func (r *Reader) TransfersAt(ctx context.Context, height uint64) ([]domain.Transfer, error) {
	var out []domain.Transfer

	if r.native != nil {
		native, err := r.nativeAt(ctx, height)
		if err != nil {
			return nil, err
		}
		out = append(out, native...)
	}

	if len(r.contracts) > 0 {
		number := new(big.Int).SetUint64(height)
		logs, err := r.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: number,
			ToBlock:   number,
			Addresses: r.contracts,
			Topics:    [][]common.Hash{{transferTopic}},
		})
		if err != nil {
			return nil, domain.Unavailable(r.chain, err)
		}
		for _, entry := range logs {
			if entry.Removed {
				continue
			}
			transfer, err := r.decodeTransferLog(entry)
			if err != nil {
				return nil, domain.CorruptBlock(r.chain, height, err)
			}
			out = append(out, transfer)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (r *Reader) nativeAt(ctx context.Context, height uint64) ([]domain.Transfer, error) {
	block, err := r.client.BlockByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return nil, domain.Unavailable(r.chain, err)
	}
	receipts, err := r.client.BlockReceipts(ctx, rpc.BlockNumberOrHashWithNumber(rpc.BlockNumber(height)))
	if err != nil {
		return nil, domain.Unavailable(r.chain, err)
	}
	return r.nativeTransfers(height, block.Transactions(), receipts)
}

// nativeTransfers keeps successful value transfers. Receipts must line up
// with the block's transactions.
func (r *Reader) nativeTransfers(height uint64, txs types.Transactions, receipts []*types.Receipt) ([]domain.Transfer, error) {
	if len(receipts) != len(txs) {
		return nil, domain.CorruptBlock(r.chain, height,
			fmt.Errorf("have %d receipts for %d transactions", len(receipts), len(txs)))
	}

	var out []domain.Transfer
	for i, tx := range txs {
		if tx.To() == nil || tx.Value() == nil || tx.Value().Sign() <= 0 {
			continue
		}
		receipt := receipts[i]
		if receipt == nil || receipt.TxHash != tx.Hash() {
			return nil, domain.CorruptBlock(r.chain, height, fmt.Errorf("receipt %d does not match tx %s", i, tx.Hash().Hex()))
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			continue
		}
		out = append(out, domain.Transfer{
			TxRef:       tx.Hash().Hex(),
			ToAddress:   domain.NormalizeAddress(tx.To().Hex()),
			Asset:       r.native.code,
			Amount:      decimal.NewFromBigInt(tx.Value(), -r.native.decimals),
			BlockHeight: height,
			Position:    uint64(i) << 20,
		})
	}
	return out, nil
}

var errMalformedLog = errors.New("malformed transfer log")

func (r *Reader) decodeTransferLog(entry types.Log) (domain.Transfer, error) {
	t, ok := r.tokens[entry.Address]
	if !ok {
		return domain.Transfer{}, fmt.Errorf("%w: unexpected contract %s", errMalformedLog, entry.Address.Hex())
	}
	if len(entry.Topics) != 3 || entry.Topics[0] != transferTopic {
		return domain.Transfer{}, fmt.Errorf("%w: tx %s index %d has %d topics", errMalformedLog, entry.TxHash.Hex(), entry.Index, len(entry.Topics))
	}
	if len(entry.Data) != 32 {
		return domain.Transfer{}, fmt.Errorf("%w: tx %s index %d has %d data bytes", errMalformedLog, entry.TxHash.Hex(), entry.Index, len(entry.Data))
	}

	to := common.BytesToAddress(entry.Topics[2].Bytes())
	value := new(big.Int).SetBytes(entry.Data)

	return domain.Transfer{
		TxRef:       fmt.Sprintf("%s:%d", entry.TxHash.Hex(), entry.Index),
		ToAddress:   domain.NormalizeAddress(to.Hex()),
		Asset:       t.code,
		Amount:      decimal.NewFromBigInt(value, -t.decimals),
		BlockHeight: entry.BlockNumber,
		Position:    uint64(entry.TxIndex)<<20 | uint64(entry.Index+1),
	}, nil
}
