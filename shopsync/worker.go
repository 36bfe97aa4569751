package shopsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"gorm.io/gorm"
)

// processSyncRun executes one queued run end to end. Redelivered messages
// are harmless: a run already past queued is skipped, and every write on
// the ingest path is idempotent anyway.
func processSyncRun(ctx context.Context, payload SyncRunMessage) error {
	if payload.RunId == 0 || payload.TenantId == "" {
		return errors.New("invalid payload")
	}

	ctx = utils.SetTenantIdInContext(ctx, payload.TenantId)
	db := config.GetDB().WithContext(ctx)

	var run models.IntegrationSyncRun
	if err := db.Where("id = ? AND tenant_id = ?", payload.RunId, payload.TenantId).Take(&run).Error; err != nil {
		return err
	}
	if run.Status != models.SyncRunStatusQueued {
		return nil
	}

	var conn models.IntegrationConnection
	if err := db.Where("id = ? AND tenant_id = ?", run.ConnectionId, payload.TenantId).Take(&conn).Error; err != nil {
		return err
	}
	if conn.Status == models.IntegrationStatusPending {
		return errors.New("shopify connection is not ready")
	}

	selection := DecodeSelection(run.ObjectTypesJSON)

	now := time.Now()
	startedAt := &now
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}
	_ = db.Model(&conn).Updates(map[string]interface{}{
		"status":       models.IntegrationStatusSyncing,
		"last_sync_at": now,
	}).Error

	client, err := newClientForConnection(&conn)
	if err != nil {
		finishRun(db, &run, &conn, startedAt, nil, 0, 1, models.SyncRunStatusFailed)
		return err
	}

	stats := map[string]interface{}{}
	recordsSynced := 0
	errorCount := 0

	for _, objectType := range selection.ObjectTypes() {
		switch run.Kind {
		case models.SyncRunKindReconcile:
			result, err := ReconcileObjectType(ctx, db, &conn, client, objectType)
			stats[objectType] = result
			recordsSynced += result.Healed + result.Pruned
			errorCount += result.Failed
			if err != nil {
				errorCount++
				_ = createSyncError(ctx, db, run.ID, payload.TenantId, objectType, "", "reconcile_failed", err.Error(), nil, IsRetryable(err))
			}
		default:
			count, refineStats, err := backfillObjectType(ctx, db, &conn, client, objectType)
			stats[objectType] = map[string]interface{}{
				"fetched": count,
				"refine":  refineStats,
			}
			recordsSynced += refineStats.Refined
			errorCount += refineStats.Failed
			if err != nil {
				errorCount++
				_ = createSyncError(ctx, db, run.ID, payload.TenantId, objectType, "", "backfill_failed", err.Error(), nil, IsRetryable(err))
			}
		}
	}

	status := models.SyncRunStatusSuccess
	if errorCount > 0 {
		status = models.SyncRunStatusPartial
		if recordsSynced == 0 {
			status = models.SyncRunStatusFailed
		}
	}
	finishRun(db, &run, &conn, startedAt, stats, recordsSynced, errorCount, status)
	return nil
}

// backfillObjectType walks the remote collection since the last successful
// sync, files every object as a raw snapshot, then runs refinement passes
// until the pending queue drains or stops moving.
func backfillObjectType(ctx context.Context, db *gorm.DB, conn *models.IntegrationConnection, client *shopifyClient, objectType string) (int, RefineStats, error) {
	var totals RefineStats
	tenantId := conn.TenantId

	setProgress(ctx, db, conn, "backfill", "fetching "+objectType+"s", 0)

	var fetched int
	var fetchErr error
	if objectType == models.ObjectTypeTransaction {
		fetched, fetchErr = backfillTransactions(ctx, db, conn, client)
	} else {
		fetched, fetchErr = client.FetchObjects(ctx, objectType, conn.LastSuccessSyncAt, func(objects []json.RawMessage) error {
			for _, raw := range objects {
				remoteId, remoteUpdatedAt := extractIdentity(raw, objectType)
				if remoteId == "" {
					continue
				}
				if _, _, err := RecordSnapshot(ctx, db, tenantId, objectType, remoteId,
					remoteUpdatedAt, raw, models.RawSourceBackfill, ""); err != nil {
					return err
				}
			}
			return nil
		})
	}

	// Refine whatever landed even when the fetch died partway; snapshots
	// already filed should not wait for the next run.
	maxPasses := refineMaxAttempts()
	for pass := 0; pass < maxPasses; pass++ {
		st, err := ProcessPending(ctx, db, tenantId, objectType, 500)
		if err != nil {
			return fetched, totals, err
		}
		totals.Refined += st.Refined
		totals.Skipped += st.Skipped
		totals.Failed += st.Failed
		if st.Total() == 0 {
			break
		}
		pending, err := PendingCount(ctx, db, tenantId, objectType)
		if err != nil || pending == 0 {
			break
		}
	}

	setProgress(ctx, db, conn, "backfill",
		fmt.Sprintf("%s done: %d fetched, %d refined", objectType, fetched, totals.Refined), totals.Refined)
	return fetched, totals, fetchErr
}

// backfillTransactions pulls transactions order by order; the remote only
// exposes them nested under their parent. Scope is bounded to orders
// touched since the watermark.
func backfillTransactions(ctx context.Context, db *gorm.DB, conn *models.IntegrationConnection, client *shopifyClient) (int, error) {
	q := db.WithContext(ctx).Model(&models.ShopOrder{}).
		Where("tenant_id = ?", conn.TenantId)
	if conn.LastSuccessSyncAt != nil {
		q = q.Where("remote_updated_at IS NULL OR remote_updated_at >= ?", conn.LastSuccessSyncAt)
	}
	var orderIds []string
	if err := q.Pluck("remote_id", &orderIds).Error; err != nil {
		return 0, err
	}

	total := 0
	for _, orderId := range orderIds {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		transactions, err := client.FetchOrderTransactions(ctx, orderId)
		if err != nil {
			return total, err
		}
		for _, raw := range transactions {
			remoteId, remoteUpdatedAt := extractIdentity(raw, models.ObjectTypeTransaction)
			if remoteId == "" {
				continue
			}
			if _, _, err := RecordSnapshot(ctx, db, conn.TenantId, models.ObjectTypeTransaction, remoteId,
				remoteUpdatedAt, raw, models.RawSourceBackfill, ""); err != nil {
				return total, err
			}
			total++
		}
	}
	return total, nil
}

func finishRun(db *gorm.DB, run *models.IntegrationSyncRun, conn *models.IntegrationConnection,
	startedAt *time.Time, stats map[string]interface{}, recordsSynced, errorCount int, status string) {

	finishedAt := time.Now()
	statsJSON, _ := json.Marshal(stats)
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":         status,
		"stats_json":     statsJSON,
		"records_synced": recordsSynced,
		"error_count":    errorCount,
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(*startedAt).Milliseconds(),
	}).Error; err != nil {
		config.LogError(config.GetLogger(), "shopsync", "finishRun", "update run", run.ID, err)
	}

	connUpdate := map[string]interface{}{
		"status":       models.IntegrationStatusActive,
		"last_sync_at": finishedAt,
	}
	if status == models.SyncRunStatusFailed {
		connUpdate["status"] = models.IntegrationStatusError
	} else {
		connUpdate["last_success_sync_at"] = finishedAt
	}
	if err := db.Model(conn).Updates(connUpdate).Error; err != nil {
		config.LogError(config.GetLogger(), "shopsync", "finishRun", "update connection", conn.ID, err)
	}
}

func createSyncError(ctx context.Context, db *gorm.DB, runId uint, tenantId, objectType, remoteId, code, message string, payload []byte, retryable bool) error {
	return db.WithContext(ctx).Create(&models.IntegrationSyncError{
		SyncRunId:   runId,
		TenantId:    tenantId,
		ObjectType:  objectType,
		RemoteId:    remoteId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}).Error
}
