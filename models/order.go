package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShopOrder struct {
	ID                uint            `gorm:"primary_key" json:"id"`
	TenantId          string          `gorm:"uniqueIndex:idx_order_remote,priority:1;size:64;not null" json:"tenant_id"`
	RemoteId          string          `gorm:"uniqueIndex:idx_order_remote,priority:2;size:128;not null" json:"remote_id"`
	Name              string          `gorm:"size:100" json:"name"`
	OrderNumber       int64           `json:"order_number"`
	Email             string          `gorm:"size:255" json:"email"`
	Currency          string          `gorm:"size:10" json:"currency"`
	FinancialStatus   string          `gorm:"size:50" json:"financial_status"`
	FulfillmentStatus string          `gorm:"size:50" json:"fulfillment_status"`
	SubtotalPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal_price"`
	TotalTax          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_tax"`
	TotalDiscounts    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_discounts"`
	TotalPrice        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`
	CustomerRemoteId  string          `gorm:"index;size:128" json:"customer_remote_id"`
	ProcessedAt       *time.Time      `json:"processed_at"`
	CancelledAt       *time.Time      `json:"cancelled_at"`
	RemoteUpdatedAt   *time.Time      `json:"remote_updated_at"`
	RawPayload        []byte          `gorm:"type:json" json:"-"`
	LineItems         []ShopOrderLineItem `gorm:"foreignkey:OrderID" json:"line_items"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ShopOrderLineItem is owned by its order: the full set is replaced on
// every refinement of the parent payload.
type ShopOrderLineItem struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	TenantId        string          `gorm:"index;size:64;not null" json:"tenant_id"`
	OrderID         uint            `gorm:"uniqueIndex:idx_line_item_remote,priority:1;not null" json:"order_id"`
	RemoteId        string          `gorm:"uniqueIndex:idx_line_item_remote,priority:2;size:128;not null" json:"remote_id"`
	ProductRemoteId string          `gorm:"size:128" json:"product_remote_id"`
	VariantRemoteId string          `gorm:"size:128" json:"variant_remote_id"`
	Title           string          `gorm:"size:255" json:"title"`
	Sku             string          `gorm:"size:100" json:"sku"`
	Quantity        int             `gorm:"not null;default:0" json:"quantity"`
	Price           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	TotalDiscount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_discount"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
