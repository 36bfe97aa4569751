package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type IntegrationConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	TenantId          string     `gorm:"uniqueIndex:idx_conn_tenant_provider,priority:1;size:64;not null" json:"tenant_id"`
	Provider          string     `gorm:"uniqueIndex:idx_conn_tenant_provider,priority:2;size:50;not null" json:"provider"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	ShopDomain        string     `gorm:"index;size:255;not null" json:"shop_domain"`
	AccessTokenRef    string     `gorm:"type:text" json:"access_token_ref"`
	WebhookSecretRef  string     `gorm:"type:text" json:"webhook_secret_ref"`
	ApiVersion        string     `gorm:"size:20" json:"api_version"`
	ProgressJSON      []byte     `gorm:"type:json" json:"progress"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type IntegrationSyncRun struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	TenantId        string     `gorm:"index;size:64;not null" json:"tenant_id"`
	ConnectionId    uint       `gorm:"index;not null" json:"connection_id"`
	Provider        string     `gorm:"index;size:50;not null" json:"provider"`
	Kind            string     `gorm:"size:20;not null" json:"kind"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy     string     `gorm:"size:20" json:"triggered_by"`
	ObjectTypesJSON []byte     `gorm:"type:json" json:"object_types"`
	StatsJSON       []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced   int        `json:"records_synced"`
	ErrorCount      int        `json:"error_count"`
	ParentRunId     *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	DurationMs      int64      `json:"duration_ms"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type IntegrationSyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	TenantId    string    `gorm:"index;size:64;not null" json:"tenant_id"`
	ObjectType  string    `gorm:"size:50" json:"object_type"`
	RemoteId    string    `gorm:"size:128" json:"remote_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetConnectionByTenant(ctx context.Context, db *gorm.DB, tenantId string) (*IntegrationConnection, error) {
	var conn IntegrationConnection
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantId, IntegrationProviderShopify).
		Take(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func GetConnectionByShopDomain(ctx context.Context, db *gorm.DB, shopDomain string) (*IntegrationConnection, error) {
	var conn IntegrationConnection
	err := db.WithContext(ctx).
		Where("shop_domain = ? AND provider = ?", shopDomain, IntegrationProviderShopify).
		Take(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// DeleteIntegrationData removes the connection and everything derived from it:
// sync runs, raw snapshots and the tenant's domain projection. Used on disconnect.
func DeleteIntegrationData(ctx context.Context, db *gorm.DB, conn *IntegrationConnection) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenantId := conn.TenantId
		if err := tx.Where("sync_run_id IN (?)",
			tx.Model(&IntegrationSyncRun{}).Select("id").Where("connection_id = ?", conn.ID),
		).Delete(&IntegrationSyncError{}).Error; err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", conn.ID).Delete(&IntegrationSyncRun{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", tenantId).Delete(&IntegrationRawRecord{}).Error; err != nil {
			return err
		}
		for _, model := range []interface{}{
			&ShopOrderLineItem{}, &ShopOrder{},
			&ShopProductVariant{}, &ShopProductImage{}, &ShopProduct{},
			&ShopCustomerAddress{}, &ShopCustomer{},
			&ShopInventoryLevel{}, &ShopInventoryItem{},
			&ShopTransaction{},
		} {
			if err := tx.Where("tenant_id = ?", tenantId).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&IntegrationConnection{}, conn.ID).Error
	})
}
