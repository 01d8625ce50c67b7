package model

import "github.com/shopspring/decimal"

// BridgeEventType distinguishes the two on-chain events the Indexer consumes.
type BridgeEventType int8

const (
	BridgeEventTypeDeposit BridgeEventType = iota
	BridgeEventTypeWithdraw
)

func (t BridgeEventType) String() string {
	if t == BridgeEventTypeWithdraw {
		return "Withdraw"
	}
	return "Deposit"
}

// BridgeEvent is a raw, deduped, decoded on-chain log row. Identity is
// (txHash, logIndex). sender is set only for Deposit, sourceChainId only for
// Withdraw, targetChainId only for Deposit — mirroring which fields the two
// event shapes in §6.1 actually carry.
type BridgeEvent struct {
	ID            string          `gorm:"column:id;primaryKey"`
	TxHash        string          `gorm:"column:tx_hash;uniqueIndex:idx_bridge_event_tx_log"`
	LogIndex      int             `gorm:"column:log_index;uniqueIndex:idx_bridge_event_tx_log"`
	EventType     BridgeEventType `gorm:"column:event_type"`
	ChainID       int64           `gorm:"column:chain_id;index:idx_bridge_event_chain_block"`
	BlockNumber   int64           `gorm:"column:block_number;index:idx_bridge_event_chain_block"`
	BlockHash     string          `gorm:"column:block_hash"`
	Timestamp     int64           `gorm:"column:timestamp"`
	Token         string          `gorm:"column:token"`
	Sender        string          `gorm:"column:sender"`
	Recipient     string          `gorm:"column:recipient"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(78,0)"`
	Nonce         int64           `gorm:"column:nonce"`
	SourceChainID int64           `gorm:"column:source_chain_id"`
	TargetChainID int64           `gorm:"column:target_chain_id"`
	CreatedAt     int64           `gorm:"column:created_at"`
}

func (BridgeEvent) TableName() string {
	return "bridge_events"
}
