package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lockmint/bridge/internal/model"
)

var (
	ErrTransactionNotFound = errors.New("bridge transaction not found")
	ErrAlreadyExists       = errors.New("bridge transaction already exists")
)

// TransactionRepository persists the Relayer's BridgeTransaction state
// machine (§3, §8 property 5: status only progresses pending → relaying
// → {completed, failed}).
type TransactionRepository interface {
	Create(ctx context.Context, tx *model.BridgeTransaction) error
	GetBySourceTxHash(ctx context.Context, sourceTxHash string) (*model.BridgeTransaction, error)
	GetByID(ctx context.Context, id string) (*model.BridgeTransaction, error)
	Exists(ctx context.Context, sourceTxHash string) (bool, error)
	TransitionToRelaying(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, targetTxHash string) error
	Fail(ctx context.Context, id string, reason string) error
	ListByStatus(ctx context.Context, status model.BridgeTransactionStatus, p Pagination) ([]*model.BridgeTransaction, error)
	ListRelaying(ctx context.Context) ([]*model.BridgeTransaction, error)
}

type transactionRepository struct {
	*Base
}

// NewTransactionRepository builds a TransactionRepository over db.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{Base: NewBase(db)}
}

// Create inserts a new BridgeTransaction in pending status. A duplicate
// sourceTxHash is reported as ErrAlreadyExists rather than a bare store
// error, so the Relayer Processor can treat it as an idempotent no-op
// (§8 property 1: at most one successful withdraw per sourceTxHash).
func (r *transactionRepository) Create(ctx context.Context, tx *model.BridgeTransaction) error {
	err := r.DB(ctx).Create(tx).Error
	if isDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return classify(err)
}

func (r *transactionRepository) GetBySourceTxHash(ctx context.Context, sourceTxHash string) (*model.BridgeTransaction, error) {
	var tx model.BridgeTransaction
	err := r.DB(ctx).Where("source_tx_hash = ?", sourceTxHash).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &tx, nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*model.BridgeTransaction, error) {
	var tx model.BridgeTransaction
	err := r.DB(ctx).Where("id = ?", id).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &tx, nil
}

func (r *transactionRepository) Exists(ctx context.Context, sourceTxHash string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.BridgeTransaction{}).Where("source_tx_hash = ?", sourceTxHash).Count(&count).Error
	if err != nil {
		return false, classify(err)
	}
	return count > 0, nil
}

// TransitionToRelaying is the only allowed pending→relaying move; it is
// a conditional update so a concurrent caller can't double-transition
// the same row (§8 property 5).
func (r *transactionRepository) TransitionToRelaying(ctx context.Context, id string) error {
	result := r.DB(ctx).Model(&model.BridgeTransaction{}).
		Where("id = ? AND status = ?", id, model.BridgeTransactionStatusPending).
		Update("status", model.BridgeTransactionStatusRelaying)
	if result.Error != nil {
		return classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Complete marks a relaying transaction completed with its target tx
// hash. Idempotent: re-completing an already-completed row with the same
// hash is a no-op (§7 AlreadyProcessed policy).
func (r *transactionRepository) Complete(ctx context.Context, id string, targetTxHash string) error {
	result := r.DB(ctx).Model(&model.BridgeTransaction{}).
		Where("id = ? AND status IN ?", id, []model.BridgeTransactionStatus{
			model.BridgeTransactionStatusRelaying, model.BridgeTransactionStatusPending,
		}).
		Updates(map[string]interface{}{
			"status":         model.BridgeTransactionStatusCompleted,
			"target_tx_hash": targetTxHash,
		})
	return classify(result.Error)
}

// Fail marks a transaction failed with an error string, never reversing
// a terminal status once set (§8 property 5).
func (r *transactionRepository) Fail(ctx context.Context, id string, reason string) error {
	result := r.DB(ctx).Model(&model.BridgeTransaction{}).
		Where("id = ? AND status NOT IN ?", id, []model.BridgeTransactionStatus{
			model.BridgeTransactionStatusCompleted, model.BridgeTransactionStatusFailed,
		}).
		Updates(map[string]interface{}{
			"status": model.BridgeTransactionStatusFailed,
			"error":  reason,
		})
	return classify(result.Error)
}

func (r *transactionRepository) ListByStatus(ctx context.Context, status model.BridgeTransactionStatus, p Pagination) ([]*model.BridgeTransaction, error) {
	p = p.normalize()
	var txs []*model.BridgeTransaction
	err := r.DB(ctx).Where("status = ?", status).
		Order("created_at DESC").
		Offset(p.Offset).Limit(p.Limit).
		Find(&txs).Error
	return txs, classify(err)
}

// ListRelaying returns every row stuck in relaying — the reconciliation
// pass's input set (§7 recovery on restart).
func (r *transactionRepository) ListRelaying(ctx context.Context) ([]*model.BridgeTransaction, error) {
	var txs []*model.BridgeTransaction
	err := r.DB(ctx).Where("status = ?", model.BridgeTransactionStatusRelaying).Find(&txs).Error
	return txs, classify(err)
}
