package shopsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultReconcileBudgetSeconds = 600
	reconcileBatchSize            = 50
)

// ReconcileResult counts what one object-type audit did.
type ReconcileResult struct {
	Healed    int  `json:"healed"`
	Pruned    int  `json:"pruned"`
	Unchanged int  `json:"unchanged"`
	Failed    int  `json:"failed"`
	TimedOut  bool `json:"timed_out"`
}

// ReconcileObjectType audits one object type of one tenant against the
// remote: re-fetches objects that are missing or stale locally and prunes
// local rows the remote no longer has. Heal and prune work in independent
// batches, so partial progress survives the wall-clock budget and
// concurrent webhook or backfill traffic only adds snapshots the heal path
// would have added anyway.
func ReconcileObjectType(ctx context.Context, db *gorm.DB, conn *models.IntegrationConnection, client *shopifyClient, objectType string) (ReconcileResult, error) {
	var result ReconcileResult
	logger := config.GetLogger()

	ctx, cancel := context.WithTimeout(ctx, reconcileBudget())
	defer cancel()

	// Transactions have no listable remote collection; they are healed
	// through their parent orders. Only orphan pruning applies here.
	if objectType == models.ObjectTypeTransaction {
		pruned, err := pruneOrphanTransactions(ctx, db, conn.TenantId)
		result.Pruned = pruned
		return result, err
	}

	setProgress(ctx, db, conn, models.ReconcileStepFetchingRemote, "listing remote "+objectType+"s", 0)
	remote, complete, err := client.FetchIDTimestampMap(ctx, objectType)
	if err != nil {
		return result, fmt.Errorf("fetch remote id map for %s: %w", objectType, err)
	}

	setProgress(ctx, db, conn, models.ReconcileStepFetchingLocal, "listing local "+objectType+"s", 0)
	local, err := localIDTimestampMap(ctx, db, conn.TenantId, objectType)
	if err != nil {
		return result, err
	}

	setProgress(ctx, db, conn, models.ReconcileStepDiffing, "diffing", 0)
	var heal []string
	for id, remoteTs := range remote {
		localTs, exists := local[id]
		if !exists {
			heal = append(heal, id)
			continue
		}
		if isStrictlyNewer(remoteTs, localTs) {
			heal = append(heal, id)
			continue
		}
		result.Unchanged++
	}
	var prune []string
	switch {
	case !config.ReconcilePruneEnabled():
		logger.WithFields(logrus.Fields{
			"tenant_id":   conn.TenantId,
			"object_type": objectType,
		}).Warn("prune disabled by SYNC_RECONCILE_PRUNE, heal only")
	case !complete:
		logger.WithFields(logrus.Fields{
			"tenant_id":   conn.TenantId,
			"object_type": objectType,
		}).Warn("remote id map incomplete, skipping prune phase")
	default:
		for id := range local {
			if _, exists := remote[id]; !exists {
				prune = append(prune, id)
			}
		}
	}

	setProgress(ctx, db, conn, models.ReconcileStepHealing,
		fmt.Sprintf("healing %d %ss", len(heal), objectType), 0)
	for start := 0; start < len(heal); start += reconcileBatchSize {
		if ctx.Err() != nil {
			result.TimedOut = true
			logger.WithFields(logrus.Fields{
				"tenant_id":   conn.TenantId,
				"object_type": objectType,
				"healed":      result.Healed,
			}).Warn("reconciliation budget exhausted during heal")
			return result, nil
		}
		end := start + reconcileBatchSize
		if end > len(heal) {
			end = len(heal)
		}
		for _, id := range heal[start:end] {
			if err := healObject(ctx, db, conn, client, objectType, id); err != nil {
				if errors.Is(err, utils.ErrorRecordNotFound) {
					// Deleted remotely between the diff and the re-fetch;
					// the next audit's prune phase takes care of it.
					continue
				}
				result.Failed++
				config.LogError(logger, "shopsync", "ReconcileObjectType", "heal", map[string]interface{}{
					"tenant_id":   conn.TenantId,
					"object_type": objectType,
					"remote_id":   id,
				}, err)
				continue
			}
			result.Healed++
		}
		if _, err := ProcessPending(ctx, db, conn.TenantId, objectType, reconcileBatchSize); err != nil {
			config.LogError(logger, "shopsync", "ReconcileObjectType", "refine healed batch", objectType, err)
		}
		setProgress(ctx, db, conn, models.ReconcileStepHealing,
			fmt.Sprintf("healed %d/%d %ss", result.Healed, len(heal), objectType), result.Healed)
	}

	setProgress(ctx, db, conn, models.ReconcileStepPruning,
		fmt.Sprintf("pruning %d %ss", len(prune), objectType), result.Healed)
	for start := 0; start < len(prune); start += reconcileBatchSize {
		if ctx.Err() != nil {
			result.TimedOut = true
			logger.WithFields(logrus.Fields{
				"tenant_id":   conn.TenantId,
				"object_type": objectType,
				"pruned":      result.Pruned,
			}).Warn("reconciliation budget exhausted during prune")
			return result, nil
		}
		end := start + reconcileBatchSize
		if end > len(prune) {
			end = len(prune)
		}
		n, err := pruneBatch(ctx, db, conn.TenantId, objectType, prune[start:end])
		if err != nil {
			result.Failed += end - start
			config.LogError(logger, "shopsync", "ReconcileObjectType", "prune batch", objectType, err)
			continue
		}
		result.Pruned += n
	}

	setProgress(ctx, db, conn, models.ReconcileStepDone,
		fmt.Sprintf("%s done: %d healed, %d pruned", objectType, result.Healed, result.Pruned), result.Healed+result.Pruned)
	return result, nil
}

func healObject(ctx context.Context, db *gorm.DB, conn *models.IntegrationConnection, client *shopifyClient, objectType, remoteId string) error {
	var raw []byte
	var err error
	if objectType == models.ObjectTypeInventoryLevel {
		itemId, locationId, splitErr := splitLevelRemoteId(remoteId)
		if splitErr != nil {
			return splitErr
		}
		raw, err = client.FetchInventoryLevel(ctx, itemId, locationId)
	} else {
		raw, err = client.FetchObjectByID(ctx, objectType, remoteId)
	}
	if err != nil {
		return err
	}

	id, remoteUpdatedAt := extractIdentity(raw, objectType)
	if id == "" {
		id = remoteId
	}
	_, _, err = RecordSnapshot(ctx, db, conn.TenantId, objectType, id, remoteUpdatedAt,
		raw, models.RawSourceReconciliation, "")
	return err
}

func splitLevelRemoteId(remoteId string) (string, string, error) {
	parts := strings.SplitN(remoteId, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed inventory level id %q", remoteId)
	}
	return parts[0], parts[1], nil
}

// localIDTimestampMap is the local half of the diff: remote_id ->
// remote_updated_at straight from the domain table.
func localIDTimestampMap(ctx context.Context, db *gorm.DB, tenantId, objectType string) (map[string]*time.Time, error) {
	model, err := domainModelFor(objectType)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		RemoteId        string
		RemoteUpdatedAt *time.Time
	}
	err = db.WithContext(ctx).Model(model).
		Select("remote_id", "remote_updated_at").
		Where("tenant_id = ?", tenantId).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]*time.Time, len(rows))
	for _, row := range rows {
		result[row.RemoteId] = row.RemoteUpdatedAt
	}
	return result, nil
}

func domainModelFor(objectType string) (interface{}, error) {
	switch objectType {
	case models.ObjectTypeOrder:
		return &models.ShopOrder{}, nil
	case models.ObjectTypeProduct:
		return &models.ShopProduct{}, nil
	case models.ObjectTypeCustomer:
		return &models.ShopCustomer{}, nil
	case models.ObjectTypeInventoryItem:
		return &models.ShopInventoryItem{}, nil
	case models.ObjectTypeInventoryLevel:
		return &models.ShopInventoryLevel{}, nil
	case models.ObjectTypeTransaction:
		return &models.ShopTransaction{}, nil
	}
	return nil, fmt.Errorf("unknown object type %q", objectType)
}

// pruneBatch deletes one batch of zombie entities and their owned children
// in a single transaction per batch.
func pruneBatch(ctx context.Context, db *gorm.DB, tenantId, objectType string, remoteIds []string) (int, error) {
	if len(remoteIds) == 0 {
		return 0, nil
	}
	var pruned int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch objectType {
		case models.ObjectTypeOrder:
			sub := tx.Model(&models.ShopOrder{}).Select("id").
				Where("tenant_id = ? AND remote_id IN ?", tenantId, remoteIds)
			if err := tx.Where("order_id IN (?)", sub).Delete(&models.ShopOrderLineItem{}).Error; err != nil {
				return err
			}
			if err := tx.Where("tenant_id = ? AND order_remote_id IN ?", tenantId, remoteIds).
				Delete(&models.ShopTransaction{}).Error; err != nil {
				return err
			}
		case models.ObjectTypeProduct:
			sub := tx.Model(&models.ShopProduct{}).Select("id").
				Where("tenant_id = ? AND remote_id IN ?", tenantId, remoteIds)
			if err := tx.Where("product_id IN (?)", sub).Delete(&models.ShopProductVariant{}).Error; err != nil {
				return err
			}
			sub = tx.Model(&models.ShopProduct{}).Select("id").
				Where("tenant_id = ? AND remote_id IN ?", tenantId, remoteIds)
			if err := tx.Where("product_id IN (?)", sub).Delete(&models.ShopProductImage{}).Error; err != nil {
				return err
			}
		case models.ObjectTypeCustomer:
			sub := tx.Model(&models.ShopCustomer{}).Select("id").
				Where("tenant_id = ? AND remote_id IN ?", tenantId, remoteIds)
			if err := tx.Where("customer_id IN (?)", sub).Delete(&models.ShopCustomerAddress{}).Error; err != nil {
				return err
			}
		case models.ObjectTypeInventoryItem:
			if err := tx.Where("tenant_id = ? AND inventory_item_remote_id IN ?", tenantId, remoteIds).
				Delete(&models.ShopInventoryLevel{}).Error; err != nil {
				return err
			}
		}
		model, err := domainModelFor(objectType)
		if err != nil {
			return err
		}
		res := tx.Where("tenant_id = ? AND remote_id IN ?", tenantId, remoteIds).Delete(model)
		if res.Error != nil {
			return res.Error
		}
		pruned = int(res.RowsAffected)
		return nil
	})
	return pruned, err
}

// pruneOrphanTransactions drops transactions whose parent order is gone
// locally, which happens after an order prune.
func pruneOrphanTransactions(ctx context.Context, db *gorm.DB, tenantId string) (int, error) {
	sub := db.Model(&models.ShopOrder{}).Select("remote_id").Where("tenant_id = ?", tenantId)
	res := db.WithContext(ctx).
		Where("tenant_id = ? AND order_remote_id NOT IN (?)", tenantId, sub).
		Delete(&models.ShopTransaction{})
	return int(res.RowsAffected), res.Error
}

// setProgress writes the operator-visible progress blob on the connection.
// Progress is advisory; failures here never fail the run.
func setProgress(ctx context.Context, db *gorm.DB, conn *models.IntegrationConnection, step, message string, processed int) {
	p := DecodeProgress(conn.ProgressJSON)
	p.CurrentStep = step
	p.Message = message
	p.ProcessedCount = processed
	conn.ProgressJSON = EncodeProgress(p)
	if err := db.WithContext(ctx).Model(&models.IntegrationConnection{}).
		Where("id = ?", conn.ID).
		Update("progress_json", conn.ProgressJSON).Error; err != nil {
		config.GetLogger().Warnf("progress update failed: %v", err)
	}
}

func reconcileBudget() time.Duration {
	if v := os.Getenv("SYNC_RECONCILE_BUDGET_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultReconcileBudgetSeconds * time.Second
}
