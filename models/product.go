package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShopProduct struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	TenantId        string     `gorm:"uniqueIndex:idx_product_remote,priority:1;size:64;not null" json:"tenant_id"`
	RemoteId        string     `gorm:"uniqueIndex:idx_product_remote,priority:2;size:128;not null" json:"remote_id"`
	Title           string     `gorm:"size:255;not null" json:"title"`
	Handle          string     `gorm:"size:255" json:"handle"`
	Vendor          string     `gorm:"size:255;not null" json:"vendor"`
	ProductType     string     `gorm:"size:255;not null" json:"product_type"`
	Status          string     `gorm:"size:50" json:"status"`
	Tags            string     `gorm:"type:text" json:"tags"`
	PublishedAt     *time.Time `json:"published_at"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at"`
	RawPayload      []byte     `gorm:"type:json" json:"-"`
	Variants        []ShopProductVariant `gorm:"foreignkey:ProductID" json:"variants"`
	Images          []ShopProductImage   `gorm:"foreignkey:ProductID" json:"images"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type ShopProductVariant struct {
	ID                    uint             `gorm:"primary_key" json:"id"`
	TenantId              string           `gorm:"index;size:64;not null" json:"tenant_id"`
	ProductID             uint             `gorm:"uniqueIndex:idx_variant_remote,priority:1;not null" json:"product_id"`
	RemoteId              string           `gorm:"uniqueIndex:idx_variant_remote,priority:2;size:128;not null" json:"remote_id"`
	Title                 string           `gorm:"size:255" json:"title"`
	Sku                   string           `gorm:"index;size:100" json:"sku"`
	Barcode               string           `gorm:"size:100" json:"barcode"`
	Position              int              `json:"position"`
	Price                 decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"price"`
	CompareAtPrice        *decimal.Decimal `gorm:"type:decimal(20,4)" json:"compare_at_price"`
	InventoryItemRemoteId string           `gorm:"index;size:128" json:"inventory_item_remote_id"`
	CreatedAt             time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type ShopProductImage struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"index;size:64;not null" json:"tenant_id"`
	ProductID uint      `gorm:"uniqueIndex:idx_image_remote,priority:1;not null" json:"product_id"`
	RemoteId  string    `gorm:"uniqueIndex:idx_image_remote,priority:2;size:128;not null" json:"remote_id"`
	Src       string    `gorm:"type:text" json:"src"`
	Alt       string    `gorm:"size:512" json:"alt"`
	Position  int       `json:"position"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
