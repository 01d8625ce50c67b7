package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lockmint/bridge/internal/model"
)

var ErrTransferNotFound = errors.New("transfer not found")

// TransferRepository persists correlated Transfer rows (§3, §8 property
// 4: at most one Transfer per depositTxHash) and supports the
// reverse-match-on-deposit-arrival rule §5 requires for out-of-order
// cross-chain delivery.
type TransferRepository interface {
	Create(ctx context.Context, transfer *model.Transfer) error
	GetByDepositTxHash(ctx context.Context, depositTxHash string) (*model.Transfer, error)
	FindByCorrelation(ctx context.Context, sourceChainID, targetChainID, nonce int64) (*model.Transfer, error)
	AttachWithdraw(ctx context.Context, id string, withdrawTxHash string, withdrawBlock int64, withdrawTime int64) error
	ListByStatus(ctx context.Context, status model.TransferStatus, p Pagination) ([]*model.Transfer, error)
	ListPending(ctx context.Context, p Pagination) ([]*model.Transfer, error)
	ListAll(ctx context.Context, p Pagination) ([]*model.Transfer, error)
	ListByAddress(ctx context.Context, address string, p Pagination) ([]*model.Transfer, error)
}

type transferRepository struct {
	*Base
}

// NewTransferRepository builds a TransferRepository over db.
func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{Base: NewBase(db)}
}

// Create inserts transfer, treating a depositTxHash duplicate as a
// silent no-op (§8 property 4).
func (r *transferRepository) Create(ctx context.Context, transfer *model.Transfer) error {
	err := r.DB(ctx).Create(transfer).Error
	if isDuplicateKeyError(err) {
		return nil
	}
	return classify(err)
}

func (r *transferRepository) GetByDepositTxHash(ctx context.Context, depositTxHash string) (*model.Transfer, error) {
	var t model.Transfer
	err := r.DB(ctx).Where("deposit_tx_hash = ?", depositTxHash).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// FindByCorrelation looks up a Transfer by its natural correlation key
// (sourceChainId, targetChainId, nonce) — used when a Withdraw arrives,
// to find the Deposit-side row to attach it to. A Deposit that arrives
// after its Withdraw is matched through EventRepository.FindWithdrawEvent
// instead.
func (r *transferRepository) FindByCorrelation(ctx context.Context, sourceChainID, targetChainID, nonce int64) (*model.Transfer, error) {
	var t model.Transfer
	err := r.DB(ctx).Where("source_chain_id = ? AND target_chain_id = ? AND nonce = ?", sourceChainID, targetChainID, nonce).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &t, nil
}

// AttachWithdraw records the matching withdraw side of a transfer and
// flips it completed — the reverse-match-on-deposit-arrival rule's write
// path (§5, §8 scenario 3).
func (r *transferRepository) AttachWithdraw(ctx context.Context, id string, withdrawTxHash string, withdrawBlock int64, withdrawTime int64) error {
	result := r.DB(ctx).Model(&model.Transfer{}).
		Where("id = ? AND status != ?", id, model.TransferStatusCompleted).
		Updates(map[string]interface{}{
			"withdraw_tx_hash": withdrawTxHash,
			"withdraw_block":   withdrawBlock,
			"withdraw_time":    withdrawTime,
			"status":           model.TransferStatusCompleted,
		})
	return classify(result.Error)
}

func (r *transferRepository) ListByStatus(ctx context.Context, status model.TransferStatus, p Pagination) ([]*model.Transfer, error) {
	p = p.normalize()
	var transfers []*model.Transfer
	err := r.DB(ctx).Where("status = ?", status).
		Order("created_at DESC").
		Offset(p.Offset).Limit(p.Limit).
		Find(&transfers).Error
	return transfers, classify(err)
}

func (r *transferRepository) ListPending(ctx context.Context, p Pagination) ([]*model.Transfer, error) {
	return r.ListByStatus(ctx, model.TransferStatusPending, p)
}

// ListAll lists transfers across every status, newest first — the
// unfiltered form of the §6.4 "transfers, with optional status filter"
// query.
func (r *transferRepository) ListAll(ctx context.Context, p Pagination) ([]*model.Transfer, error) {
	p = p.normalize()
	var transfers []*model.Transfer
	err := r.DB(ctx).
		Order("created_at DESC").
		Offset(p.Offset).Limit(p.Limit).
		Find(&transfers).Error
	return transfers, classify(err)
}

func (r *transferRepository) ListByAddress(ctx context.Context, address string, p Pagination) ([]*model.Transfer, error) {
	p = p.normalize()
	var transfers []*model.Transfer
	lower := toLower(address)
	err := r.DB(ctx).Where("LOWER(sender) = ? OR LOWER(recipient) = ?", lower, lower).
		Order("created_at DESC").
		Offset(p.Offset).Limit(p.Limit).
		Find(&transfers).Error
	return transfers, classify(err)
}
