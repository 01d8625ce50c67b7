// Package reconciler implements the §7 recovery-on-restart pass: rows
// stuck in relaying are not auto-completed on startup. Instead, a
// scheduled sweep re-checks isProcessed(messageHash) on each row's target
// chain and flips it to completed only when the chain confirms it. A row
// that isn't processed yet is left untouched for the next sweep or
// operator inspection — this pass never marks anything failed.
package reconciler

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/lockmint/bridge/internal/contract"
	"github.com/lockmint/bridge/internal/logging"
	"github.com/lockmint/bridge/internal/metrics"
	"github.com/lockmint/bridge/internal/model"
	"github.com/lockmint/bridge/internal/signer"
	"github.com/lockmint/bridge/internal/store"
)

// Checker is the subset of contract.Bridge the reconciler needs, scoped
// per target chain.
type Checker interface {
	IsProcessed(ctx context.Context, messageHash [32]byte) (bool, error)
}

// Reconciler sweeps relaying BridgeTransaction rows across every
// configured target chain.
type Reconciler struct {
	txs      store.TransactionRepository
	checkers map[int64]Checker
	interval time.Duration
}

// New builds a Reconciler. checkers maps a targetChainId to the Bridge
// binding used to check isProcessed on that chain.
func New(txs store.TransactionRepository, checkers map[int64]Checker, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{txs: txs, checkers: checkers, interval: interval}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.sweep(ctx); err != nil {
			logging.WithContext(ctx).Warn("reconciliation sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// sweep re-checks every relaying row once.
func (r *Reconciler) sweep(ctx context.Context) error {
	rows, err := r.txs.ListRelaying(ctx)
	if err != nil {
		return err
	}
	metrics.UpdateStuckRelaying(len(rows))
	log := logging.WithContext(ctx)
	for _, tx := range rows {
		if err := r.reconcileOne(ctx, tx); err != nil {
			log.Warn("failed to reconcile relaying transaction", zap.String("source_tx_hash", tx.SourceTxHash), zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, tx *model.BridgeTransaction) error {
	checker, ok := r.checkers[tx.TargetChainID]
	if !ok {
		return nil // no configured chain client for this row's target, skip
	}

	amount := tx.Amount.BigInt()
	msg := signer.Message{
		Token:         common.HexToAddress(tx.Token),
		Recipient:     common.HexToAddress(tx.Recipient),
		Amount:        amount,
		Nonce:         big.NewInt(tx.Nonce),
		SourceChainID: big.NewInt(tx.SourceChainID),
		TargetChainID: big.NewInt(tx.TargetChainID),
	}
	messageHash := signer.InnerHash(msg)

	processed, err := checker.IsProcessed(ctx, [32]byte(messageHash))
	if err != nil {
		return err
	}
	if !processed {
		return nil // still not confirmed on the target chain, leave for next sweep
	}
	if err := r.txs.Complete(ctx, tx.ID, "reconciled:"+tx.ID); err != nil {
		return err
	}
	metrics.RecordReconciled(chainIDLabel(tx.TargetChainID))
	return nil
}

func chainIDLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}

var _ Checker = (*contract.Bridge)(nil)
