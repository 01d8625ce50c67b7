package model

import "github.com/shopspring/decimal"

// BridgeTransactionStatus is the Relayer's per-deposit state machine (§4.4).
type BridgeTransactionStatus int8

const (
	BridgeTransactionStatusPending BridgeTransactionStatus = iota
	BridgeTransactionStatusRelaying
	BridgeTransactionStatusCompleted
	BridgeTransactionStatusFailed
)

func (s BridgeTransactionStatus) String() string {
	switch s {
	case BridgeTransactionStatusPending:
		return "pending"
	case BridgeTransactionStatusRelaying:
		return "relaying"
	case BridgeTransactionStatusCompleted:
		return "completed"
	case BridgeTransactionStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is one of the two terminal states.
func (s BridgeTransactionStatus) IsTerminal() bool {
	return s == BridgeTransactionStatusCompleted || s == BridgeTransactionStatusFailed
}

// BridgeTransaction tracks one source-chain Deposit through relaying,
// keyed by sourceTxHash. Status only ever moves forward:
// pending -> relaying -> {completed, failed}.
type BridgeTransaction struct {
	ID            string          `gorm:"column:id;primaryKey"`
	SourceTxHash  string          `gorm:"column:source_tx_hash;uniqueIndex"`
	// TargetTxHash is nil until relaying finishes, so a NULL column (not
	// an empty string) is the pending/relaying default: Postgres treats
	// every NULL as distinct under a unique index, but two empty strings
	// would collide. The relayer's already-processed path and the
	// reconciler both suffix their no-tx-submitted sentinels with the row ID so the constraint still
	// holds when a deposit was already processed or reconciled without
	// ever broadcasting a transaction.
	TargetTxHash  *string         `gorm:"column:target_tx_hash;uniqueIndex"`
	SourceChainID int64           `gorm:"column:source_chain_id;index:idx_bridge_tx_source_nonce"`
	TargetChainID int64           `gorm:"column:target_chain_id"`
	Token         string          `gorm:"column:token"`
	Sender        string          `gorm:"column:sender"`
	Recipient     string          `gorm:"column:recipient"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(78,0)"`
	Nonce         int64           `gorm:"column:nonce;index:idx_bridge_tx_source_nonce"`
	BlockNumber   int64           `gorm:"column:block_number"`
	Status        BridgeTransactionStatus `gorm:"column:status;index"`
	Error         string          `gorm:"column:error"`
	CreatedAt     int64           `gorm:"column:created_at"`
	UpdatedAt     int64           `gorm:"column:updated_at"`
}

func (BridgeTransaction) TableName() string {
	return "bridge_transactions"
}
