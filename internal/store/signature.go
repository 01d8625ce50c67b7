package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lockmint/bridge/internal/model"
)

var ErrSignatureNotFound = errors.New("validator signature not found")

// SignatureRepository persists per-transaction validator signatures for
// out-of-band pickup by a claiming UI (§6.4, §9's SignatureModeStore).
type SignatureRepository interface {
	Create(ctx context.Context, sig *model.ValidatorSignature) error
	ListBySourceTxHash(ctx context.Context, sourceTxHash string) ([]*model.ValidatorSignature, error)
}

type signatureRepository struct {
	*Base
}

// NewSignatureRepository builds a SignatureRepository over db.
func NewSignatureRepository(db *gorm.DB) SignatureRepository {
	return &signatureRepository{Base: NewBase(db)}
}

// Create inserts sig, treating a (sourceTxHash, validator) duplicate as a
// silent no-op — the same validator re-signing the same transaction is
// idempotent, not an error.
func (r *signatureRepository) Create(ctx context.Context, sig *model.ValidatorSignature) error {
	err := r.DB(ctx).Create(sig).Error
	if isDuplicateKeyError(err) {
		return nil
	}
	return classify(err)
}

func (r *signatureRepository) ListBySourceTxHash(ctx context.Context, sourceTxHash string) ([]*model.ValidatorSignature, error) {
	var sigs []*model.ValidatorSignature
	err := r.DB(ctx).Where("source_tx_hash = ?", sourceTxHash).Find(&sigs).Error
	return sigs, classify(err)
}
