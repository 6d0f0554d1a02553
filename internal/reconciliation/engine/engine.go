package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	addressdomain "github.com/smallbiznis/settlement/internal/addresspool/domain"
	"github.com/smallbiznis/settlement/internal/chain"
	chaindomain "github.com/smallbiznis/settlement/internal/chain/domain"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	"github.com/smallbiznis/settlement/internal/intent/transition"
	"github.com/smallbiznis/settlement/internal/observability/metrics"
	"github.com/smallbiznis/settlement/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var bpsDenominator = decimal.NewFromInt(10_000)

var _ domain.Engine = (*Engine)(nil)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.PolicyHolder
	Readers     *chain.Registry
	Repo        domain.Repository
	Intents     intentdomain.Repository
	Addresses   addressdomain.Service
	Transitions *transition.Transitioner
	Metrics     *metrics.Metrics          `optional:"true"`
	Scheduler   *metrics.SchedulerMetrics `optional:"true"`
}

type Engine struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	policy      *config.PolicyHolder
	readers     *chain.Registry
	repo        domain.Repository
	intents     intentdomain.Repository
	addresses   addressdomain.Service
	transitions *transition.Transitioner
	metrics     *metrics.Metrics
	scheduler   *metrics.SchedulerMetrics
}

func New(p Params) *Engine {
	return &Engine{
		db:          p.DB,
		log:         p.Log.Named("reconciliation.engine"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		readers:     p.Readers,
		repo:        p.Repo,
		intents:     p.Intents,
		addresses:   p.Addresses,
		transitions: p.Transitions,
		metrics:     p.Metrics,
		scheduler:   p.Scheduler,
	}
}

// committed is a transition waiting for its block transaction to commit.
type committed struct {
	from   intentdomain.Status
	result transition.Result
}

type observed struct {
	disposition domain.Disposition
	transitions []committed
}

func (e *Engine) Reconcile(ctx context.Context, chainName string) (domain.CycleSummary, error) {
	chainName = strings.ToLower(strings.TrimSpace(chainName))
	summary := domain.CycleSummary{Chain: chainName}

	chainPolicy, ok := e.policy.Get().Chain(chainName)
	if !ok {
		return summary, domain.ErrUnknownChain
	}
	reader, err := e.readers.Reader(chainName)
	if err != nil {
		return summary, err
	}

	head, err := reader.LatestConfirmedHeight(ctx)
	if err != nil {
		return summary, err
	}
	summary.Head = head
	e.scheduler.SetChainHead(chainName, head)

	watermark, found, err := e.repo.Watermark(ctx, e.db, chainName)
	if err != nil {
		return summary, err
	}
	if !found {
		watermark = chainPolicy.StartHeight
	}
	e.scheduler.SetWatermark(chainName, watermark)
	if head <= watermark {
		return summary, nil
	}

	to := head
	if limit := chainPolicy.MaxBlocksPerCycle; limit > 0 && watermark+limit < to {
		to = watermark + limit
	}
	summary.From = watermark + 1
	summary.To = to

	watched, err := e.addresses.Watched(ctx, chainName)
	if err != nil {
		return summary, err
	}
	accepted := map[string]struct{}{}
	for _, asset := range e.policy.Get().AssetsForChain(chainName) {
		accepted[strings.ToUpper(asset.Code)] = struct{}{}
	}

	for height := watermark + 1; height <= to; height++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		transfers, err := reader.TransfersAt(ctx, height)
		if err != nil {
			if errors.Is(err, chaindomain.ErrCorruptBlock) || errors.Is(err, chaindomain.ErrPruned) {
				e.scheduler.SetStuckBlock(chainName, height)
				e.log.Error("unreadable block halts reconciliation",
					zap.String("chain", chainName),
					zap.Uint64("height", height),
					zap.Error(err),
				)
			}
			return summary, err
		}

		if err := e.processBlock(ctx, chainName, chainPolicy, height, transfers, watched, accepted, &summary); err != nil {
			return summary, fmt.Errorf("%s block %d: %w", chainName, height, err)
		}
		summary.Blocks++
		e.scheduler.SetWatermark(chainName, height)
		e.scheduler.SetStuckBlock(chainName, 0)
	}

	if summary.Blocks > 0 {
		e.log.Debug("reconciliation cycle",
			zap.String("chain", chainName),
			zap.Uint64("from", summary.From),
			zap.Uint64("to", summary.To),
			zap.Uint64("head", head),
			zap.Int("matched", summary.Matched),
			zap.Int("mismatched", summary.Mismatched),
			zap.Int("unexpected", summary.Unexpected),
			zap.Int("replayed", summary.Replayed),
		)
	}
	return summary, nil
}

// processBlock applies every relevant transfer of one block and advances the
// watermark in a single transaction, so a crash mid-block replays the block.
func (e *Engine) processBlock(
	ctx context.Context,
	chainName string,
	chainPolicy config.ChainPolicy,
	height uint64,
	transfers []chaindomain.Transfer,
	watched map[string]struct{},
	accepted map[string]struct{},
	summary *domain.CycleSummary,
) error {
	ordered := make([]chaindomain.Transfer, len(transfers))
	copy(ordered, transfers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	now := e.clock.Now()
	var (
		pending      []committed
		dispositions []domain.Disposition
		replayed     int
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pending, dispositions, replayed = nil, nil, 0
		for _, transfer := range ordered {
			transfer.ToAddress = chaindomain.NormalizeAddress(transfer.ToAddress)
			if _, ok := watched[transfer.ToAddress]; !ok {
				continue
			}
			if _, ok := accepted[strings.ToUpper(transfer.Asset)]; !ok {
				continue
			}

			existing, err := e.repo.FindTransfer(ctx, tx, chainName, transfer.TxRef)
			if err != nil {
				return err
			}
			if existing != nil {
				replayed++
				continue
			}

			result, err := e.observe(ctx, tx, chainName, chainPolicy, transfer, now)
			if err != nil {
				return err
			}
			pending = append(pending, result.transitions...)
			dispositions = append(dispositions, result.disposition)
		}
		return e.repo.AdvanceWatermark(ctx, tx, chainName, height, now)
	})
	if err != nil {
		return err
	}

	summary.Replayed += replayed
	for _, disposition := range dispositions {
		switch disposition {
		case domain.DispositionMatched:
			summary.Matched++
		case domain.DispositionMismatched:
			summary.Mismatched++
		default:
			summary.Unexpected++
		}
		e.metrics.RecordTransferObserved(ctx, chainName, string(disposition))
	}
	for _, c := range pending {
		e.transitions.Committed(ctx, c.from, c.result)
	}
	return nil
}

func (e *Engine) observe(
	ctx context.Context,
	tx *gorm.DB,
	chainName string,
	chainPolicy config.ChainPolicy,
	transfer chaindomain.Transfer,
	now time.Time,
) (observed, error) {
	record := &domain.LedgerTransfer{
		ID:          e.genID.Generate(),
		Chain:       chainName,
		TxRef:       transfer.TxRef,
		ToAddress:   transfer.ToAddress,
		Asset:       strings.ToUpper(transfer.Asset),
		Amount:      transfer.Amount,
		BlockHeight: transfer.BlockHeight,
		Position:    transfer.Position,
		CreatedAt:   now,
	}

	intent, err := e.intents.FindOpenByAddress(ctx, tx, chainName, transfer.ToAddress, now)
	if err != nil {
		return observed{}, err
	}
	if intent != nil && !strings.EqualFold(intent.CryptoCurrency, transfer.Asset) {
		intent = nil
	}

	var out observed
	if intent == nil {
		out.disposition, err = e.unmatched(ctx, tx, record)
		if err != nil {
			return observed{}, err
		}
	} else {
		to := intentdomain.StatusProcessing
		var reason *string
		out.disposition = domain.DispositionMatched
		if !withinTolerance(intent.CryptoAmount, transfer.Amount, chainPolicy) {
			to = intentdomain.StatusFailed
			failure := intentdomain.FailureAmountMismatch
			reason = &failure
			out.disposition = domain.DispositionMismatched
		}

		txRef := transfer.TxRef
		amount := transfer.Amount
		height := transfer.BlockHeight
		result, err := e.transitions.Apply(ctx, tx, intentdomain.TransitionParams{
			ID:                  intent.ID,
			From:                intentdomain.StatusRequiresPayment,
			To:                  to,
			Now:                 now,
			OpenAt:              &now,
			TxRef:               &txRef,
			ObservedAmount:      &amount,
			ObservedBlockHeight: &height,
			FailureReason:       reason,
		})
		switch {
		case errors.Is(err, intentdomain.ErrInvalidStateTransition):
			// canceled or expired between the lookup and the write
			out.disposition, err = e.unmatched(ctx, tx, record)
			if err != nil {
				return observed{}, err
			}
		case err != nil:
			return observed{}, err
		default:
			id := intent.ID
			record.IntentID = &id
			out.transitions = append(out.transitions, committed{from: intentdomain.StatusRequiresPayment, result: result})
			if to == intentdomain.StatusFailed {
				e.log.Warn("transfer amount outside tolerance",
					zap.String("chain", chainName),
					zap.String("intent_id", intent.ID.String()),
					zap.String("tx_ref", transfer.TxRef),
					zap.String("expected", intent.CryptoAmount.String()),
					zap.String("observed", transfer.Amount.String()),
				)
			}
		}
	}

	record.Disposition = out.disposition
	if err := e.repo.InsertTransfer(ctx, tx, record); err != nil {
		return observed{}, err
	}
	return out, nil
}

// unmatched classifies a transfer that no open intent claims. The latest
// intent for the address, if any, is kept on the record for audit.
func (e *Engine) unmatched(ctx context.Context, tx *gorm.DB, record *domain.LedgerTransfer) (domain.Disposition, error) {
	latest, err := e.intents.FindLatestByAddress(ctx, tx, record.Chain, record.ToAddress)
	if err != nil {
		return "", err
	}

	disposition := domain.DispositionUnexpected
	fields := []zap.Field{
		zap.String("chain", record.Chain),
		zap.String("tx_ref", record.TxRef),
		zap.String("to_address", record.ToAddress),
		zap.String("amount", record.Amount.String()),
		zap.Uint64("height", record.BlockHeight),
	}
	if latest != nil {
		id := latest.ID
		record.IntentID = &id
		fields = append(fields, zap.String("intent_id", latest.ID.String()), zap.String("intent_status", string(latest.Status)))
		if latest.Status == intentdomain.StatusExpired ||
			(latest.Status == intentdomain.StatusRequiresPayment && !latest.ExpiresAt.After(record.CreatedAt)) {
			disposition = domain.DispositionExpired
		}
	}

	if disposition == domain.DispositionExpired {
		e.log.Warn("transfer after intent expiry rejected", fields...)
	} else {
		e.log.Warn("unexpected additional transfer", fields...)
	}
	return disposition, nil
}

// Confirm moves PROCESSING intents whose transfer is buried under the chain's
// confirmation depth to SUCCEEDED, after checking the transfer is still at
// its recorded height. A transfer that disappeared vetoes the intent.
func (e *Engine) Confirm(ctx context.Context, chainName string, limit int) (domain.ConfirmSummary, error) {
	chainName = strings.ToLower(strings.TrimSpace(chainName))
	summary := domain.ConfirmSummary{Chain: chainName}
	if limit <= 0 {
		limit = 100
	}

	chainPolicy, ok := e.policy.Get().Chain(chainName)
	if !ok {
		return summary, domain.ErrUnknownChain
	}
	reader, err := e.readers.Reader(chainName)
	if err != nil {
		return summary, err
	}

	intents, err := e.intents.ListProcessing(ctx, e.db, chainName, limit)
	if err != nil {
		return summary, err
	}
	if len(intents) == 0 {
		return summary, nil
	}

	head, err := reader.LatestConfirmedHeight(ctx)
	if err != nil {
		return summary, err
	}
	summary.Head = head

	blocks := map[uint64][]chaindomain.Transfer{}
	var errs []error
	for _, intent := range intents {
		if intent.ObservedBlockHeight == nil || intent.TxRef == nil {
			errs = append(errs, fmt.Errorf("intent %s: processing without observed transfer", intent.ID))
			continue
		}
		height := *intent.ObservedBlockHeight
		if !confirmed(head, height, chainPolicy.ConfirmationDepth) {
			summary.Pending++
			continue
		}

		transfers, ok := blocks[height]
		pruned := false
		if !ok {
			transfers, err = reader.TransfersAt(ctx, height)
			switch {
			case errors.Is(err, chaindomain.ErrPruned):
				// Already past the confirmation depth; the transfer was recorded
				// when observed and a pruned block cannot be re-checked.
				pruned = true
			case err != nil:
				if errors.Is(err, chaindomain.ErrUnavailable) {
					return summary, err
				}
				e.log.Error("confirmation read failed",
					zap.String("chain", chainName),
					zap.String("intent_id", intent.ID.String()),
					zap.Uint64("height", height),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
				continue
			}
			if !pruned {
				blocks[height] = transfers
			}
		}

		req := intentdomain.TransitionParams{
			ID:   intent.ID,
			From: intentdomain.StatusProcessing,
			To:   intentdomain.StatusSucceeded,
			Now:  e.clock.Now(),
		}
		present := pruned || stillPresent(transfers, *intent)
		if pruned {
			e.log.Warn("confirming from recorded transfer, block no longer held by reader",
				zap.String("chain", chainName),
				zap.String("intent_id", intent.ID.String()),
				zap.Uint64("height", height),
			)
		}
		if !present {
			reason := intentdomain.FailureTransferNotFound
			req.To = intentdomain.StatusFailed
			req.FailureReason = &reason
		}

		_, err := e.transitions.Run(ctx, req)
		if errors.Is(err, intentdomain.ErrInvalidStateTransition) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
			continue
		}
		if present {
			summary.Succeeded++
		} else {
			summary.Vetoed++
			e.log.Warn("confirmed transfer no longer on ledger",
				zap.String("chain", chainName),
				zap.String("intent_id", intent.ID.String()),
				zap.String("tx_ref", *intent.TxRef),
				zap.Uint64("height", height),
			)
		}
	}
	return summary, errors.Join(errs...)
}

// confirmed reports head - height + 1 >= depth without underflow.
func confirmed(head, height, depth uint64) bool {
	if depth == 0 {
		depth = 1
	}
	return head >= height && head-height+1 >= depth
}

func stillPresent(transfers []chaindomain.Transfer, intent intentdomain.PaymentIntent) bool {
	for _, transfer := range transfers {
		if transfer.TxRef != *intent.TxRef {
			continue
		}
		if chaindomain.NormalizeAddress(transfer.ToAddress) != intent.DestinationAddress {
			return false
		}
		if intent.ObservedAmount.Valid && !transfer.Amount.Equal(intent.ObservedAmount.Decimal) {
			return false
		}
		return true
	}
	return false
}

// withinTolerance accepts observed amounts within ToleranceBps of expected.
// Overpayment beyond the band passes only when the chain accepts it.
func withinTolerance(expected, observed decimal.Decimal, chainPolicy config.ChainPolicy) bool {
	band := expected.Mul(decimal.NewFromInt(chainPolicy.ToleranceBps)).Div(bpsDenominator)
	diff := observed.Sub(expected)
	if diff.IsNegative() {
		return diff.Neg().LessThanOrEqual(band)
	}
	if chainPolicy.AcceptOverpayment {
		return true
	}
	return diff.LessThanOrEqual(band)
}
