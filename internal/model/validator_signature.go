package model

// ValidatorSignature records one validator's signature over a withdrawal
// digest for a given source transaction, for the "store signatures" mode
// described in §9 (multiple independent Relayer instances, or a
// claim-later UI, instead of one Relayer submitting directly).
type ValidatorSignature struct {
	ID           string `gorm:"column:id;primaryKey"`
	SourceTxHash string `gorm:"column:source_tx_hash;uniqueIndex:idx_validator_sig"`
	Validator    string `gorm:"column:validator;uniqueIndex:idx_validator_sig"`
	Signature    string `gorm:"column:signature"`
	CreatedAt    int64  `gorm:"column:created_at"`
}

func (ValidatorSignature) TableName() string {
	return "bridge_validator_signatures"
}
