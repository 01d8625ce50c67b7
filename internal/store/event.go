package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lockmint/bridge/internal/model"
)

var ErrEventNotFound = errors.New("bridge event not found")

// EventRepository persists raw BridgeEvent rows the Indexer observes on
// every chain (§3, §8 property 3: (txHash, logIndex) ingested twice
// yields exactly one row).
type EventRepository interface {
	Create(ctx context.Context, event *model.BridgeEvent) error
	GetByTxHashAndLogIndex(ctx context.Context, txHash string, logIndex uint) (*model.BridgeEvent, error)
	ExistsByTxHashAndLogIndex(ctx context.Context, txHash string, logIndex uint) (bool, error)
	ListByChain(ctx context.Context, chainID int64, p Pagination) ([]*model.BridgeEvent, error)
	ListByAddress(ctx context.Context, address string, p Pagination) ([]*model.BridgeEvent, error)
	ListRecent(ctx context.Context, p Pagination) ([]*model.BridgeEvent, error)
	FindWithdrawEvent(ctx context.Context, chainID, sourceChainID, nonce int64) (*model.BridgeEvent, error)
}

type eventRepository struct {
	*Base
}

// NewEventRepository builds an EventRepository over db.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{Base: NewBase(db)}
}

// Create inserts event, treating a (txHash, logIndex) duplicate as a
// silent no-op rather than an error — the caller (the Chain Watcher
// re-scanning a window after a restart) is expected to see this.
func (r *eventRepository) Create(ctx context.Context, event *model.BridgeEvent) error {
	err := r.DB(ctx).Create(event).Error
	if isDuplicateKeyError(err) {
		return nil
	}
	return classify(err)
}

func (r *eventRepository) GetByTxHashAndLogIndex(ctx context.Context, txHash string, logIndex uint) (*model.BridgeEvent, error) {
	var event model.BridgeEvent
	err := r.DB(ctx).Where("tx_hash = ? AND log_index = ?", txHash, logIndex).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &event, nil
}

func (r *eventRepository) ExistsByTxHashAndLogIndex(ctx context.Context, txHash string, logIndex uint) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.BridgeEvent{}).
		Where("tx_hash = ? AND log_index = ?", txHash, logIndex).
		Count(&count).Error
	return count > 0, classify(err)
}

func (r *eventRepository) ListByChain(ctx context.Context, chainID int64, p Pagination) ([]*model.BridgeEvent, error) {
	p = p.normalize()
	var events []*model.BridgeEvent
	err := r.DB(ctx).Where("chain_id = ?", chainID).
		Order("block_number DESC").
		Offset(p.Offset).Limit(p.Limit).
		Find(&events).Error
	return events, classify(err)
}

// ListByAddress matches sender OR recipient, both lowercased per §6.4.
func (r *eventRepository) ListByAddress(ctx context.Context, address string, p Pagination) ([]*model.BridgeEvent, error) {
	p = p.normalize()
	var events []*model.BridgeEvent
	lower := toLower(address)
	err := r.DB(ctx).Where("LOWER(sender) = ? OR LOWER(recipient) = ?", lower, lower).
		Order("block_number DESC").
		Offset(p.Offset).Limit(p.Limit).
		Find(&events).Error
	return events, classify(err)
}

func (r *eventRepository) ListRecent(ctx context.Context, p Pagination) ([]*model.BridgeEvent, error) {
	p = p.normalize()
	var events []*model.BridgeEvent
	err := r.DB(ctx).Order("block_number DESC").
		Offset(p.Offset).Limit(p.Limit).
		Find(&events).Error
	return events, classify(err)
}

// FindWithdrawEvent looks up a previously-ingested Withdraw event by its
// correlation key — the Deposit handler's read side of the
// reverse-match-on-deposit-arrival rule (§4.5): a Withdraw that landed
// before its matching Deposit is still recorded here even though no
// Transfer row could reference it yet.
func (r *eventRepository) FindWithdrawEvent(ctx context.Context, chainID, sourceChainID, nonce int64) (*model.BridgeEvent, error) {
	var event model.BridgeEvent
	err := r.DB(ctx).Where("event_type = ? AND chain_id = ? AND source_chain_id = ? AND nonce = ?",
		model.BridgeEventTypeWithdraw, chainID, sourceChainID, nonce).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &event, nil
}

func toLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
