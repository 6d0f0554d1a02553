package chain

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/smallbiznis/settlement/internal/chain/buffer"
	"github.com/smallbiznis/settlement/internal/chain/domain"
	"github.com/smallbiznis/settlement/internal/chain/evm"
	"github.com/smallbiznis/settlement/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("chain.reader",
	fx.Provide(ProvideRegistry),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Policy    *config.PolicyHolder
	Log       *zap.Logger
}

// ProvideRegistry dials an EVM reader for every chain with an RPC URL. Chains
// without one get a push buffer that an ingestion adapter feeds.
func ProvideRegistry(p Params) (*Registry, error) {
	log := p.Log.Named("chain.registry")
	policy := p.Policy.Get()

	var (
		readers []domain.Reader
		clients []*ethclient.Client
	)
	for _, chainPolicy := range policy.Chains {
		name := strings.ToLower(chainPolicy.Name)
		rpcURL := strings.TrimSpace(p.Config.ChainRPCURLs[name])
		if rpcURL == "" {
			log.Warn("no rpc url configured, using push buffer", zap.String("chain", name))
			readers = append(readers, buffer.New(name, BufferRetention(chainPolicy)))
			continue
		}

		reader, client, err := evm.Dial(context.Background(), rpcURL, name, policy.AssetsForChain(name), p.Log)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, err
		}
		clients = append(clients, client)
		readers = append(readers, reader)
		log.Info("ledger reader ready", zap.String("chain", name))
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			for _, c := range clients {
				c.Close()
			}
			return nil
		},
	})

	return NewRegistry(readers...), nil
}

// BufferRetention is how many heights a push buffer keeps: several
// confirmation windows plus one full scan window.
func BufferRetention(chainPolicy config.ChainPolicy) uint64 {
	return 4*chainPolicy.ConfirmationDepth + chainPolicy.MaxBlocksPerCycle
}
