package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lockmint/bridge/internal/model"
)

var ErrCursorNotFound = errors.New("chain cursor not found")

// CursorRepository persists per-chain block cursors (§3 ChainCursor,
// §8 property 2: lastBlockNumber never decreases except on operator
// rewind).
type CursorRepository interface {
	GetByChainID(ctx context.Context, chainID int64) (*model.ChainCursor, error)
	Upsert(ctx context.Context, cursor *model.ChainCursor) error
	Advance(ctx context.Context, chainID int64, blockNumber int64, blockHash string, eventsAdded int64) error
	Rewind(ctx context.Context, chainID int64, blockNumber int64) error
}

type cursorRepository struct {
	*Base
}

// NewCursorRepository builds a CursorRepository over db.
func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{Base: NewBase(db)}
}

func (r *cursorRepository) GetByChainID(ctx context.Context, chainID int64) (*model.ChainCursor, error) {
	var cursor model.ChainCursor
	err := r.DB(ctx).Where("chain_id = ?", chainID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &cursor, nil
}

func (r *cursorRepository) Upsert(ctx context.Context, cursor *model.ChainCursor) error {
	cursor.LastSyncedAt = time.Now().Unix()
	err := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"chain_name", "last_block_number", "last_block_hash", "last_synced_at", "total_events"}),
	}).Create(cursor).Error
	return classify(err)
}

// Advance moves the cursor forward monotonically. It refuses to move the
// cursor backward — a caller that needs to move it back must call Rewind
// explicitly, per §5's "operator rewind" carve-out.
func (r *cursorRepository) Advance(ctx context.Context, chainID int64, blockNumber int64, blockHash string, eventsAdded int64) error {
	result := r.DB(ctx).Model(&model.ChainCursor{}).
		Where("chain_id = ? AND last_block_number <= ?", chainID, blockNumber).
		Updates(map[string]interface{}{
			"last_block_number": blockNumber,
			"last_block_hash":   blockHash,
			"last_synced_at":    time.Now().Unix(),
			"total_events":      gorm.Expr("total_events + ?", eventsAdded),
		})
	return classify(result.Error)
}

// Rewind is the one sanctioned way to move a cursor backward — an
// explicit operator action, never automatic (§5).
func (r *cursorRepository) Rewind(ctx context.Context, chainID int64, blockNumber int64) error {
	result := r.DB(ctx).Model(&model.ChainCursor{}).
		Where("chain_id = ?", chainID).
		Updates(map[string]interface{}{
			"last_block_number": blockNumber,
			"last_synced_at":    time.Now().Unix(),
		})
	return classify(result.Error)
}
