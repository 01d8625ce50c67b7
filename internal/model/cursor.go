package model

// ChainCursor is the per-chain watermark of the last fully processed block.
//
// lastBlockNumber only moves forward under normal operation; it decreases
// only via an explicit operator rewind (never from application code).
type ChainCursor struct {
	ChainID         int64  `gorm:"column:chain_id;primaryKey"`
	ChainName       string `gorm:"column:chain_name"`
	LastBlockNumber int64  `gorm:"column:last_block_number"`
	LastBlockHash   string `gorm:"column:last_block_hash"`
	LastSyncedAt    int64  `gorm:"column:last_synced_at"`
	TotalEvents     int64  `gorm:"column:total_events"`
	CreatedAt       int64  `gorm:"column:created_at"`
	UpdatedAt       int64  `gorm:"column:updated_at"`
}

func (ChainCursor) TableName() string {
	return "bridge_chain_cursors"
}
