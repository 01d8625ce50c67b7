package model

import "github.com/shopspring/decimal"

// TransferStatus is the Indexer's cross-chain correlation state.
type TransferStatus int8

const (
	TransferStatusPending TransferStatus = iota
	TransferStatusCompleted
	TransferStatusFailed
)

func (s TransferStatus) String() string {
	switch s {
	case TransferStatusCompleted:
		return "completed"
	case TransferStatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Transfer correlates a Deposit on one chain with its Withdraw on another,
// keyed uniquely by depositTxHash. (nonce, sourceChainId, targetChainId)
// uniquely identifies the pair the Indexer is matching.
type Transfer struct {
	ID            string          `gorm:"column:id;primaryKey"`
	DepositTxHash string          `gorm:"column:deposit_tx_hash;uniqueIndex"`
	WithdrawTxHash string         `gorm:"column:withdraw_tx_hash"`
	SourceChainID int64           `gorm:"column:source_chain_id;index:idx_transfer_correlation"`
	TargetChainID int64           `gorm:"column:target_chain_id;index:idx_transfer_correlation"`
	Token         string          `gorm:"column:token"`
	Sender        string          `gorm:"column:sender"`
	Recipient     string          `gorm:"column:recipient"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(78,0)"`
	Nonce         int64           `gorm:"column:nonce;index:idx_transfer_correlation"`
	DepositBlock  int64           `gorm:"column:deposit_block"`
	WithdrawBlock int64           `gorm:"column:withdraw_block"`
	DepositTime   int64           `gorm:"column:deposit_time"`
	WithdrawTime  int64           `gorm:"column:withdraw_time"`
	Status        TransferStatus  `gorm:"column:status;index"`
	CreatedAt     int64           `gorm:"column:created_at"`
	UpdatedAt     int64           `gorm:"column:updated_at"`
}

func (Transfer) TableName() string {
	return "bridge_transfers"
}
