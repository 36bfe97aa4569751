package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShopTransaction struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	TenantId        string          `gorm:"uniqueIndex:idx_txn_remote,priority:1;size:64;not null" json:"tenant_id"`
	RemoteId        string          `gorm:"uniqueIndex:idx_txn_remote,priority:2;size:128;not null" json:"remote_id"`
	OrderRemoteId   string          `gorm:"index;size:128;not null" json:"order_remote_id"`
	Kind            string          `gorm:"size:50" json:"kind"`
	Gateway         string          `gorm:"size:100" json:"gateway"`
	Status          string          `gorm:"size:50" json:"status"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Currency        string          `gorm:"size:10" json:"currency"`
	ProcessedAt     *time.Time      `json:"processed_at"`
	RemoteUpdatedAt *time.Time      `json:"remote_updated_at"`
	RawPayload      []byte          `gorm:"type:json" json:"-"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
