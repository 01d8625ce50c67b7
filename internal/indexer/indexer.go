// Package indexer is the Indexer Processor (§4.5): it turns raw
// Deposit/Withdraw logs from any configured chain into deduped
// BridgeEvent rows and correlates them into a Transfer per bridge
// crossing, tolerating either leg arriving first.
package indexer

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lockmint/bridge/internal/apperrors"
	"github.com/lockmint/bridge/internal/contract"
	"github.com/lockmint/bridge/internal/logging"
	"github.com/lockmint/bridge/internal/metrics"
	"github.com/lockmint/bridge/internal/model"
	"github.com/lockmint/bridge/internal/store"
	"github.com/lockmint/bridge/internal/validator"
)

// BlockTimeSource resolves a block number to its on-chain timestamp,
// needed because a Log carries a block number but not a time.
type BlockTimeSource interface {
	BlockTime(ctx context.Context, blockNumber uint64) (int64, error)
}

// Transactor runs fn atomically, propagating the transaction to any
// repository call made with the ctx it passes in. Satisfied by
// *store.Base.
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Processor implements §4.5's per-event ingestion for one chain.
type Processor struct {
	chainID   int64
	bridge    *contract.Bridge
	blockTime BlockTimeSource
	base      Transactor
	events    store.EventRepository
	transfers store.TransferRepository
}

// New builds a Processor for one chain's Deposit/Withdraw logs.
func New(chainID int64, bridge *contract.Bridge, blockTime BlockTimeSource, base Transactor, events store.EventRepository, transfers store.TransferRepository) *Processor {
	return &Processor{chainID: chainID, bridge: bridge, blockTime: blockTime, base: base, events: events, transfers: transfers}
}

// Handle is a watcher.Handler dispatching on topic0, letting one Watcher
// scan both the Deposit and Withdraw topics for a chain against a single
// cursor.
func (p *Processor) Handle(ctx context.Context, l types.Log) error {
	if len(l.Topics) == 0 {
		return apperrors.New(apperrors.KindInvalidEvent, "log has no topics")
	}
	switch l.Topics[0] {
	case p.bridge.DepositEventTopic():
		return p.HandleDeposit(ctx, l)
	case p.bridge.WithdrawEventTopic():
		return p.HandleWithdraw(ctx, l)
	default:
		return apperrors.New(apperrors.KindInvalidEvent, "log topic0 matches neither Deposit nor Withdraw")
	}
}

// HandleDeposit is a watcher.Handler for the Deposit topic.
func (p *Processor) HandleDeposit(ctx context.Context, l types.Log) error {
	log := logging.WithContext(ctx).With(zap.String("tx_hash", l.TxHash.Hex()), zap.Uint("log_index", uint(l.Index)))

	if exists, err := p.events.ExistsByTxHashAndLogIndex(ctx, l.TxHash.Hex(), l.Index); err != nil {
		return err
	} else if exists {
		return nil
	}

	dep, err := p.bridge.ParseDeposit(l)
	if err != nil {
		log.Warn("could not parse deposit log", zap.Error(err))
		return apperrors.Wrap(apperrors.KindInvalidEvent, err, "malformed deposit log")
	}

	targetChainID := dep.TargetChainID.Int64()
	result := validator.ValidateDepositParams(validator.TransferParams{
		Token: dep.Token.Hex(), Sender: dep.Sender.Hex(), Recipient: dep.Recipient.Hex(),
		Amount: dep.Amount.String(), Nonce: dep.Nonce, SourceChainID: p.chainID, TargetChainID: targetChainID,
	})
	if !result.OK {
		log.Warn("rejecting invalid deposit", zap.Strings("errors", result.Errors))
		return apperrors.New(apperrors.KindInvalidEvent, "deposit failed validation")
	}

	blockTime, err := p.blockTime.BlockTime(ctx, l.BlockNumber)
	if err != nil {
		return err
	}

	return p.base.Transaction(ctx, func(ctx context.Context) error {
		if err := p.events.Create(ctx, &model.BridgeEvent{
			ID: uuid.New().String(), TxHash: l.TxHash.Hex(), LogIndex: int(l.Index),
			EventType: model.BridgeEventTypeDeposit, ChainID: p.chainID, BlockNumber: int64(l.BlockNumber),
			BlockHash: l.BlockHash.Hex(), Timestamp: blockTime,
			Token: dep.Token.Hex(), Sender: dep.Sender.Hex(), Recipient: dep.Recipient.Hex(),
			Amount: decimal.NewFromBigInt(dep.Amount, 0), Nonce: dep.Nonce.Int64(),
			TargetChainID: targetChainID,
		}); err != nil {
			return err
		}
		metrics.RecordEventObserved(chainIDLabel(p.chainID), "deposit")

		if err := p.transfers.Create(ctx, &model.Transfer{
			ID: uuid.New().String(), DepositTxHash: l.TxHash.Hex(),
			SourceChainID: p.chainID, TargetChainID: targetChainID,
			Token: dep.Token.Hex(), Sender: dep.Sender.Hex(), Recipient: dep.Recipient.Hex(),
			Amount: decimal.NewFromBigInt(dep.Amount, 0), Nonce: dep.Nonce.Int64(),
			DepositBlock: int64(l.BlockNumber), DepositTime: blockTime,
			Status: model.TransferStatusPending,
		}); err != nil {
			return err
		}
		metrics.RecordTransferStatus("pending")

		// Reverse match: a Withdraw for this same crossing may have already
		// arrived and been recorded with no Transfer row to attach to yet
		// (§4.5's cross-chain out-of-order delivery case).
		withdrawEvent, err := p.events.FindWithdrawEvent(ctx, targetChainID, p.chainID, dep.Nonce.Int64())
		if err != nil {
			if err == store.ErrEventNotFound {
				return nil
			}
			return err
		}
		transfer, err := p.transfers.GetByDepositTxHash(ctx, l.TxHash.Hex())
		if err != nil {
			return err
		}
		if err := p.transfers.AttachWithdraw(ctx, transfer.ID, withdrawEvent.TxHash, withdrawEvent.BlockNumber, withdrawEvent.Timestamp); err != nil {
			return err
		}
		metrics.RecordTransferStatus("completed")
		metrics.RecordCorrelationLatency(chainIDLabel(p.chainID), chainIDLabel(targetChainID), float64(withdrawEvent.Timestamp-blockTime))
		return nil
	})
}

// HandleWithdraw is a watcher.Handler for the Withdraw topic.
func (p *Processor) HandleWithdraw(ctx context.Context, l types.Log) error {
	log := logging.WithContext(ctx).With(zap.String("tx_hash", l.TxHash.Hex()), zap.Uint("log_index", uint(l.Index)))

	if exists, err := p.events.ExistsByTxHashAndLogIndex(ctx, l.TxHash.Hex(), l.Index); err != nil {
		return err
	} else if exists {
		return nil
	}

	wd, err := p.bridge.ParseWithdraw(l)
	if err != nil {
		log.Warn("could not parse withdraw log", zap.Error(err))
		return apperrors.Wrap(apperrors.KindInvalidEvent, err, "malformed withdraw log")
	}

	result := validator.ValidateWithdrawParams(validator.TransferParams{
		Token: wd.Token.Hex(), Recipient: wd.Recipient.Hex(), Amount: wd.Amount.String(), Nonce: wd.Nonce,
	})
	if !result.OK {
		log.Warn("rejecting invalid withdraw", zap.Strings("errors", result.Errors))
		return apperrors.New(apperrors.KindInvalidEvent, "withdraw failed validation")
	}

	blockTime, err := p.blockTime.BlockTime(ctx, l.BlockNumber)
	if err != nil {
		return err
	}
	sourceChainID := wd.SourceChainID.Int64()

	return p.base.Transaction(ctx, func(ctx context.Context) error {
		if err := p.events.Create(ctx, &model.BridgeEvent{
			ID: uuid.New().String(), TxHash: l.TxHash.Hex(), LogIndex: int(l.Index),
			EventType: model.BridgeEventTypeWithdraw, ChainID: p.chainID, BlockNumber: int64(l.BlockNumber),
			BlockHash: l.BlockHash.Hex(), Timestamp: blockTime,
			Token: wd.Token.Hex(), Recipient: wd.Recipient.Hex(),
			Amount: decimal.NewFromBigInt(wd.Amount, 0), Nonce: wd.Nonce.Int64(),
			SourceChainID: sourceChainID,
		}); err != nil {
			return err
		}
		metrics.RecordEventObserved(chainIDLabel(p.chainID), "withdraw")

		deposit, err := p.transfers.FindByCorrelation(ctx, sourceChainID, p.chainID, wd.Nonce.Int64())
		if err != nil {
			if err == store.ErrTransferNotFound {
				log.Warn("withdraw arrived before its matching deposit, leaving uncorrelated",
					zap.Int64("source_chain_id", sourceChainID), zap.Int64("nonce", wd.Nonce.Int64()))
				metrics.RecordUncorrelatedWithdraw(chainIDLabel(p.chainID))
				return nil
			}
			return err
		}
		if err := p.transfers.AttachWithdraw(ctx, deposit.ID, l.TxHash.Hex(), int64(l.BlockNumber), blockTime); err != nil {
			return err
		}
		metrics.RecordTransferStatus("completed")
		metrics.RecordCorrelationLatency(chainIDLabel(sourceChainID), chainIDLabel(p.chainID), float64(blockTime-deposit.DepositTime))
		return nil
	})
}

func chainIDLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
