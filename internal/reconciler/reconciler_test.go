package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockmint/bridge/internal/model"
	"github.com/lockmint/bridge/internal/store"
)

type memTxRepo struct {
	byID map[string]*model.BridgeTransaction
}

func newMemTxRepo(rows ...*model.BridgeTransaction) *memTxRepo {
	r := &memTxRepo{byID: make(map[string]*model.BridgeTransaction)}
	for _, row := range rows {
		r.byID[row.ID] = row
	}
	return r
}

func (r *memTxRepo) Create(ctx context.Context, tx *model.BridgeTransaction) error { return nil }
func (r *memTxRepo) GetBySourceTxHash(ctx context.Context, sourceTxHash string) (*model.BridgeTransaction, error) {
	return nil, store.ErrTransactionNotFound
}
func (r *memTxRepo) GetByID(ctx context.Context, id string) (*model.BridgeTransaction, error) {
	tx, ok := r.byID[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}
func (r *memTxRepo) Exists(ctx context.Context, sourceTxHash string) (bool, error) { return false, nil }
func (r *memTxRepo) TransitionToRelaying(ctx context.Context, id string) error     { return nil }
func (r *memTxRepo) Complete(ctx context.Context, id string, targetTxHash string) error {
	tx, ok := r.byID[id]
	if !ok {
		return store.ErrTransactionNotFound
	}
	tx.Status = model.BridgeTransactionStatusCompleted
	tx.TargetTxHash = &targetTxHash
	return nil
}
func (r *memTxRepo) Fail(ctx context.Context, id string, reason string) error {
	tx, ok := r.byID[id]
	if !ok {
		return store.ErrTransactionNotFound
	}
	tx.Status = model.BridgeTransactionStatusFailed
	tx.Error = reason
	return nil
}
func (r *memTxRepo) ListByStatus(ctx context.Context, status model.BridgeTransactionStatus, p store.Pagination) ([]*model.BridgeTransaction, error) {
	var out []*model.BridgeTransaction
	for _, tx := range r.byID {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	return out, nil
}
func (r *memTxRepo) ListRelaying(ctx context.Context) ([]*model.BridgeTransaction, error) {
	return r.ListByStatus(ctx, model.BridgeTransactionStatusRelaying, store.Pagination{})
}

type fakeChecker struct {
	processed bool
	err       error
}

func (f *fakeChecker) IsProcessed(ctx context.Context, messageHash [32]byte) (bool, error) {
	return f.processed, f.err
}

func relayingRow(id string) *model.BridgeTransaction {
	return &model.BridgeTransaction{
		ID:            id,
		SourceTxHash:  "0xsrc-" + id,
		SourceChainID: 1,
		TargetChainID: 137,
		Token:         "0x0000000000000000000000000000000000000001",
		Sender:        "0x0000000000000000000000000000000000000002",
		Recipient:     "0x0000000000000000000000000000000000000003",
		Amount:        decimal.NewFromInt(1000),
		Nonce:         7,
		Status:        model.BridgeTransactionStatusRelaying,
	}
}

func TestReconciler_CompletesWhenTargetChainConfirmsProcessed(t *testing.T) {
	row := relayingRow("tx-1")
	txs := newMemTxRepo(row)
	checkers := map[int64]Checker{137: &fakeChecker{processed: true}}
	r := New(txs, checkers, time.Minute)

	require.NoError(t, r.sweep(context.Background()))

	assert.Equal(t, model.BridgeTransactionStatusCompleted, row.Status)
	require.NotNil(t, row.TargetTxHash)
	assert.Equal(t, "reconciled:tx-1", *row.TargetTxHash)
}

func TestReconciler_LeavesRowRelayingWhenNotYetProcessed(t *testing.T) {
	row := relayingRow("tx-2")
	txs := newMemTxRepo(row)
	checkers := map[int64]Checker{137: &fakeChecker{processed: false}}
	r := New(txs, checkers, time.Minute)

	require.NoError(t, r.sweep(context.Background()))

	assert.Equal(t, model.BridgeTransactionStatusRelaying, row.Status)
	assert.Empty(t, row.Error, "an unprocessed row must never be marked failed by reconciliation")
}

func TestReconciler_SkipsRowWithNoConfiguredTargetChecker(t *testing.T) {
	row := relayingRow("tx-3")
	row.TargetChainID = 999
	txs := newMemTxRepo(row)
	r := New(txs, map[int64]Checker{}, time.Minute)

	require.NoError(t, r.sweep(context.Background()))

	assert.Equal(t, model.BridgeTransactionStatusRelaying, row.Status)
}

func TestReconciler_LeavesRowUntouchedOnCheckerError(t *testing.T) {
	row := relayingRow("tx-4")
	txs := newMemTxRepo(row)
	checkers := map[int64]Checker{137: &fakeChecker{err: assert.AnError}}
	r := New(txs, checkers, time.Minute)

	require.NoError(t, r.sweep(context.Background()), "sweep logs per-row errors rather than failing the whole pass")

	assert.Equal(t, model.BridgeTransactionStatusRelaying, row.Status)
}

func TestReconciler_DefaultIntervalAppliedWhenNonPositive(t *testing.T) {
	r := New(newMemTxRepo(), map[int64]Checker{}, 0)
	assert.Equal(t, time.Minute, r.interval)
}
