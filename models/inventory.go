package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShopInventoryItem struct {
	ID               uint             `gorm:"primary_key" json:"id"`
	TenantId         string           `gorm:"uniqueIndex:idx_inv_item_remote,priority:1;size:64;not null" json:"tenant_id"`
	RemoteId         string           `gorm:"uniqueIndex:idx_inv_item_remote,priority:2;size:128;not null" json:"remote_id"`
	Sku              string           `gorm:"index;size:100" json:"sku"`
	// Cost is nullable on purpose: zero is a real cost, NULL means unknown.
	Cost             *decimal.Decimal `gorm:"type:decimal(20,4)" json:"cost"`
	Tracked          bool             `gorm:"default:false" json:"tracked"`
	RequiresShipping bool             `gorm:"default:false" json:"requires_shipping"`
	RemoteUpdatedAt  *time.Time       `json:"remote_updated_at"`
	RawPayload       []byte           `gorm:"type:json" json:"-"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// ShopInventoryLevel has no remote id of its own; the remote identifies a
// level by (inventory_item_id, location_id). RemoteId stores the composite
// "itemId:locationId" so the level fits the common entity operations.
type ShopInventoryLevel struct {
	ID                    uint       `gorm:"primary_key" json:"id"`
	TenantId              string     `gorm:"uniqueIndex:idx_inv_level_remote,priority:1;size:64;not null" json:"tenant_id"`
	RemoteId              string     `gorm:"uniqueIndex:idx_inv_level_remote,priority:2;size:128;not null" json:"remote_id"`
	InventoryItemRemoteId string     `gorm:"index;size:128;not null" json:"inventory_item_remote_id"`
	LocationRemoteId      string     `gorm:"index;size:128;not null" json:"location_remote_id"`
	Available             int        `gorm:"not null;default:0" json:"available"`
	RemoteUpdatedAt       *time.Time `json:"remote_updated_at"`
	RawPayload            []byte     `gorm:"type:json" json:"-"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
