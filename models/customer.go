package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShopCustomer struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	TenantId        string          `gorm:"uniqueIndex:idx_customer_remote,priority:1;size:64;not null" json:"tenant_id"`
	RemoteId        string          `gorm:"uniqueIndex:idx_customer_remote,priority:2;size:128;not null" json:"remote_id"`
	Email           string          `gorm:"index;size:255" json:"email"`
	FirstName       string          `gorm:"size:255" json:"first_name"`
	LastName        string          `gorm:"size:255" json:"last_name"`
	Phone           string          `gorm:"size:50" json:"phone"`
	State           string          `gorm:"size:50" json:"state"`
	Note            string          `gorm:"type:text" json:"note"`
	OrdersCount     int             `json:"orders_count"`
	TotalSpent      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_spent"`
	RemoteUpdatedAt *time.Time      `json:"remote_updated_at"`
	RawPayload      []byte          `gorm:"type:json" json:"-"`
	Addresses       []ShopCustomerAddress `gorm:"foreignkey:CustomerID" json:"addresses"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type ShopCustomerAddress struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	TenantId   string    `gorm:"index;size:64;not null" json:"tenant_id"`
	CustomerID uint      `gorm:"uniqueIndex:idx_address_remote,priority:1;not null" json:"customer_id"`
	RemoteId   string    `gorm:"uniqueIndex:idx_address_remote,priority:2;size:128;not null" json:"remote_id"`
	Address1   string    `gorm:"size:255" json:"address1"`
	Address2   string    `gorm:"size:255" json:"address2"`
	City       string    `gorm:"size:255" json:"city"`
	Province   string    `gorm:"size:255" json:"province"`
	Country    string    `gorm:"size:255" json:"country"`
	CountryCode string   `gorm:"size:10" json:"country_code"`
	Zip        string    `gorm:"size:50" json:"zip"`
	IsDefault  bool      `gorm:"default:false" json:"is_default"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
