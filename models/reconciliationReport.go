package models

import "time"

const CheckTypeMintReconciliation = "MINT_RECONCILIATION"

// ReconciliationReport is one persisted mint reconciliation run (audit history).
type ReconciliationReport struct {
	ID              int       `gorm:"primary_key" json:"id"`
	CheckType       string    `gorm:"size:50;index;not null" json:"check_type"`
	SongId          *int64    `gorm:"index" json:"song_id"`
	OnchainTotal    string    `gorm:"size:78;not null" json:"onchain_total"`
	AttributedTotal string    `gorm:"size:78;not null" json:"attributed_total"`
	LedgerTotal     string    `gorm:"size:78;not null" json:"ledger_total"`
	MintedMatch     bool      `gorm:"not null" json:"minted_match"`
	AttributedMatch bool      `gorm:"not null" json:"attributed_match"`
	Details         string    `gorm:"type:text" json:"details"` // full report JSON
	CorrelationId   string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
