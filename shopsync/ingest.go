package shopsync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordSnapshot files one observed remote object state into the raw ingest
// store. Duplicate submission is the expected steady state (replayed
// webhooks, overlapping backfill pages): when a row with the same canonical
// hash already exists, the existing row is returned unchanged and created
// is false. There is no other uniqueness check.
func RecordSnapshot(ctx context.Context, db *gorm.DB, tenantId, objectType, remoteId string,
	remoteUpdatedAt *time.Time, payload []byte, source, topic string) (*models.IntegrationRawRecord, bool, error) {

	hash, err := CanonicalHash(payload)
	if err != nil {
		return nil, false, err
	}

	var existing models.IntegrationRawRecord
	err = db.WithContext(ctx).
		Where("tenant_id = ? AND object_type = ? AND canonical_hash = ?", tenantId, objectType, hash).
		Take(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	rec := models.IntegrationRawRecord{
		TenantId:         tenantId,
		ObjectType:       objectType,
		CanonicalHash:    hash,
		RemoteObjectId:   remoteId,
		RemoteUpdatedAt:  remoteUpdatedAt,
		PayloadJSON:      payload,
		Source:           source,
		Topic:            topic,
		ProcessingStatus: models.RawStatusPending,
		FetchedAt:        time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&rec).Error; err != nil {
		// A concurrent writer may have inserted the same hash between our
		// lookup and the insert; treat the unique violation as the duplicate
		// it is and return the winner's row.
		var winner models.IntegrationRawRecord
		lookupErr := db.WithContext(ctx).
			Where("tenant_id = ? AND object_type = ? AND canonical_hash = ?", tenantId, objectType, hash).
			Take(&winner).Error
		if lookupErr == nil {
			return &winner, false, nil
		}
		return nil, false, err
	}
	return &rec, true, nil
}

// ClaimPending selects up to limit pending raw records for refinement,
// oldest receipt first. It must run inside a transaction: FOR UPDATE
// SKIP LOCKED keeps two concurrent workers from claiming the same row
// while neither blocks the other.
func ClaimPending(tx *gorm.DB, tenantId, objectType string, limit int) ([]models.IntegrationRawRecord, error) {
	var recs []models.IntegrationRawRecord
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("tenant_id = ? AND object_type = ? AND processing_status = ?", tenantId, objectType, models.RawStatusPending).
		Order("fetched_at asc, id asc").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func MarkProcessed(tx *gorm.DB, rec *models.IntegrationRawRecord) error {
	return tx.Model(rec).Updates(map[string]interface{}{
		"processing_status": models.RawStatusProcessed,
		"failure_reason":    nil,
	}).Error
}

func MarkFailed(tx *gorm.DB, rec *models.IntegrationRawRecord, reason string) error {
	return tx.Model(rec).Updates(map[string]interface{}{
		"processing_status": models.RawStatusFailed,
		"failure_reason":    reason,
	}).Error
}

func bumpAttempts(tx *gorm.DB, rec *models.IntegrationRawRecord) error {
	rec.Attempts++
	return tx.Model(rec).Update("attempts", rec.Attempts).Error
}

// ResetToPending is the maintenance entry point used by reconciliation and
// manual healing tools. It moves processed/failed rows back to pending so
// the refinement pipeline picks them up again. Either ids or an
// objectType+status filter must be given; resetting everything at once is
// never what an operator wants.
func ResetToPending(ctx context.Context, db *gorm.DB, tenantId string, objectType string, status string, ids []uint) (int64, error) {
	if len(ids) == 0 && objectType == "" {
		return 0, errors.New("objectType or ids required")
	}

	q := db.WithContext(ctx).
		Model(&models.IntegrationRawRecord{}).
		Where("tenant_id = ?", tenantId)
	if objectType != "" {
		q = q.Where("object_type = ?", objectType)
	}
	if status != "" {
		q = q.Where("processing_status = ?", status)
	} else {
		q = q.Where("processing_status IN ?", []string{models.RawStatusProcessed, models.RawStatusFailed})
	}
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}

	res := q.Updates(map[string]interface{}{
		"processing_status": models.RawStatusPending,
		"attempts":          0,
		"failure_reason":    nil,
	})
	return res.RowsAffected, res.Error
}
