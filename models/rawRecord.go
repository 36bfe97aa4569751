package models

import "time"

// IntegrationRawRecord is one observed snapshot of a remote object.
// Dedup key is the canonical content hash, NOT the remote id: the same
// remote id legitimately recurs with different content, and replayed
// webhooks recur with identical content.
//
// Rows are never deleted; they are the audit trail of everything the
// remote side ever showed us. Status moves pending -> processed|failed
// under the refinement pipeline only, and a maintenance operation may
// move processed/failed rows back to pending.
type IntegrationRawRecord struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	TenantId         string     `gorm:"uniqueIndex:idx_raw_dedup,priority:1;index:idx_raw_lookup,priority:1;size:64;not null" json:"tenant_id"`
	ObjectType       string     `gorm:"uniqueIndex:idx_raw_dedup,priority:2;index:idx_raw_lookup,priority:2;size:50;not null" json:"object_type"`
	CanonicalHash    string     `gorm:"uniqueIndex:idx_raw_dedup,priority:3;size:64;not null" json:"canonical_hash"`
	RemoteObjectId   string     `gorm:"index:idx_raw_lookup,priority:3;size:128;not null" json:"remote_object_id"`
	RemoteUpdatedAt  *time.Time `json:"remote_updated_at"`
	PayloadJSON      []byte     `gorm:"type:json" json:"payload"`
	Source           string     `gorm:"size:20;not null" json:"source"`
	Topic            string     `gorm:"size:100" json:"topic"`
	ProcessingStatus string     `gorm:"index;size:20;not null" json:"processing_status"`
	Attempts         int        `gorm:"not null;default:0" json:"attempts"`
	FailureReason    *string    `gorm:"type:text" json:"failure_reason"`
	FetchedAt        time.Time  `gorm:"index;not null" json:"fetched_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
