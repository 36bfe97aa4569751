package shopsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultRefineMaxAttempts = 5

// RefineStats counts the outcomes of one refinement pass.
// Skipped covers stale no-ops (snapshot not newer than the stored row)
// and records still waiting on a parent entity.
type RefineStats struct {
	Refined int `json:"refined"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s RefineStats) Total() int { return s.Refined + s.Skipped + s.Failed }

// ProcessPending claims up to limit pending raw records of one object type
// and refines them into the domain tables. A failure on one record marks
// that record failed and moves on; the batch itself only errors on
// claim/commit problems.
//
// A redis lock serializes refinement per (tenant, object type) so replayed
// snapshots of the same remote object are applied in claim order. Row-level
// SKIP LOCKED claiming keeps concurrent workers correct even when the lock
// is unavailable.
func ProcessPending(ctx context.Context, db *gorm.DB, tenantId, objectType string, limit int) (RefineStats, error) {
	var stats RefineStats
	if !models.IsKnownObjectType(objectType) {
		return stats, fmt.Errorf("unknown object type %q", objectType)
	}
	if limit <= 0 {
		limit = 100
	}

	if locker := config.GetRedisLock(); locker != nil {
		lockKey := "shopsync:refine:" + tenantId + ":" + objectType
		lock, err := locker.Obtain(ctx, lockKey, 2*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			return stats, nil
		}
		if err != nil {
			config.GetLogger().WithFields(logrus.Fields{
				"tenant_id":   tenantId,
				"object_type": objectType,
			}).Warnf("refine lock unavailable, proceeding on row locks only: %v", err)
		} else {
			defer lock.Release(context.Background())
		}
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recs, err := ClaimPending(tx, tenantId, objectType, limit)
		if err != nil {
			return err
		}
		r := &refiner{
			tx:          tx,
			tenantId:    tenantId,
			maxAttempts: refineMaxAttempts(),
			logger:      config.GetLogger(),
		}
		for i := range recs {
			r.refineRecord(&recs[i], &stats)
		}
		return nil
	})
	return stats, err
}

// PendingCount reports how many raw records of one type still await
// refinement. Workers use it to decide whether another pass is needed.
func PendingCount(ctx context.Context, db *gorm.DB, tenantId, objectType string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&models.IntegrationRawRecord{}).
		Where("tenant_id = ? AND object_type = ? AND processing_status = ?", tenantId, objectType, models.RawStatusPending).
		Count(&n).Error
	return n, err
}

type refiner struct {
	tx          *gorm.DB
	tenantId    string
	maxAttempts int
	logger      *logrus.Logger
}

func (r *refiner) refineRecord(rec *models.IntegrationRawRecord, stats *RefineStats) {
	applied, res, err := r.apply(rec)
	if err != nil {
		config.LogError(r.logger, "shopsync", "refineRecord", "apply snapshot", map[string]interface{}{
			"raw_id":      rec.ID,
			"object_type": rec.ObjectType,
			"remote_id":   rec.RemoteObjectId,
		}, err)
		r.fail(rec, err.Error(), stats)
		return
	}

	switch res.outcome {
	case outcomeInvalid:
		r.fail(rec, res.reason, stats)
		return
	case outcomeNeedsParent:
		if err := bumpAttempts(r.tx, rec); err != nil {
			r.fail(rec, err.Error(), stats)
			return
		}
		if rec.Attempts >= r.maxAttempts {
			reason := fmt.Sprintf("parent %s %s not found after %d attempts", res.parentType, res.parentRemoteId, rec.Attempts)
			r.fail(rec, reason, stats)
			return
		}
		// Left pending; a later pass retries once the parent has landed.
		stats.Skipped++
		return
	}

	if err := MarkProcessed(r.tx, rec); err != nil {
		r.fail(rec, err.Error(), stats)
		return
	}
	if applied {
		stats.Refined++
	} else {
		stats.Skipped++
	}
}

func (r *refiner) fail(rec *models.IntegrationRawRecord, reason string, stats *RefineStats) {
	if err := MarkFailed(r.tx, rec, reason); err != nil {
		config.LogError(r.logger, "shopsync", "refineRecord", "mark failed", rec.ID, err)
	}
	stats.Failed++
}

// apply parses the snapshot and, when it is strictly fresher than the
// stored entity, writes it through. applied is false for stale no-ops.
func (r *refiner) apply(rec *models.IntegrationRawRecord) (applied bool, res parseResult, err error) {
	switch rec.ObjectType {
	case models.ObjectTypeOrder:
		order, items, res := parseOrder(r.tenantId, rec.PayloadJSON)
		if res.outcome == outcomeInvalid {
			return false, res, nil
		}
		applied, err := r.upsertOrder(order, items)
		return applied, res, err

	case models.ObjectTypeProduct:
		product, variants, images, res := parseProduct(r.tenantId, rec.PayloadJSON)
		if res.outcome == outcomeInvalid {
			return false, res, nil
		}
		applied, err := r.upsertProduct(product, variants, images)
		return applied, res, err

	case models.ObjectTypeCustomer:
		customer, addresses, res := parseCustomer(r.tenantId, rec.PayloadJSON)
		if res.outcome == outcomeInvalid {
			return false, res, nil
		}
		applied, err := r.upsertCustomer(customer, addresses)
		return applied, res, err

	case models.ObjectTypeInventoryItem:
		item, res := parseInventoryItem(r.tenantId, rec.PayloadJSON)
		if res.outcome == outcomeInvalid {
			return false, res, nil
		}
		applied, err := r.upsertInventoryItem(item)
		return applied, res, err

	case models.ObjectTypeInventoryLevel:
		level, res := parseInventoryLevel(r.tenantId, rec.PayloadJSON)
		if res.outcome == outcomeInvalid {
			return false, res, nil
		}
		ok, err := r.parentExists(res.parentType, res.parentRemoteId)
		if err != nil {
			return false, res, err
		}
		if !ok {
			res.outcome = outcomeNeedsParent
			return false, res, nil
		}
		applied, err := r.upsertInventoryLevel(level)
		return applied, res, err

	case models.ObjectTypeTransaction:
		txn, res := parseTransaction(r.tenantId, rec.PayloadJSON)
		if res.outcome == outcomeInvalid {
			return false, res, nil
		}
		ok, err := r.parentExists(res.parentType, res.parentRemoteId)
		if err != nil {
			return false, res, err
		}
		if !ok {
			res.outcome = outcomeNeedsParent
			return false, res, nil
		}
		applied, err := r.upsertTransaction(txn)
		return applied, res, err
	}
	return false, invalidResult("unknown object type %q", rec.ObjectType), nil
}

func (r *refiner) parentExists(parentType, parentRemoteId string) (bool, error) {
	var model interface{}
	switch parentType {
	case models.ObjectTypeInventoryItem:
		model = &models.ShopInventoryItem{}
	case models.ObjectTypeOrder:
		model = &models.ShopOrder{}
	default:
		return false, fmt.Errorf("unknown parent type %q", parentType)
	}
	var n int64
	err := r.tx.Model(model).
		Where("tenant_id = ? AND remote_id = ?", r.tenantId, parentRemoteId).
		Count(&n).Error
	return n > 0, err
}

func (r *refiner) upsertOrder(order *models.ShopOrder, items []models.ShopOrderLineItem) (bool, error) {
	var existing models.ShopOrder
	found, err := r.lookup(&existing, order.RemoteId)
	if err != nil {
		return false, err
	}
	if found {
		if !isStrictlyNewer(order.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
			return false, nil
		}
		order.ID = existing.ID
		order.CreatedAt = existing.CreatedAt
	}
	if err := r.tx.Omit(clause.Associations).Clauses(clause.OnConflict{UpdateAll: true}).Create(order).Error; err != nil {
		return false, err
	}
	if order.ID == 0 {
		if _, err := r.lookup(order, order.RemoteId); err != nil {
			return false, err
		}
	}
	return true, r.replaceOrderLineItems(order.ID, items)
}

func (r *refiner) upsertProduct(product *models.ShopProduct, variants []models.ShopProductVariant, images []models.ShopProductImage) (bool, error) {
	var existing models.ShopProduct
	found, err := r.lookup(&existing, product.RemoteId)
	if err != nil {
		return false, err
	}
	if found {
		if !isStrictlyNewer(product.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
			return false, nil
		}
		product.ID = existing.ID
		product.CreatedAt = existing.CreatedAt
	}
	if err := r.tx.Omit(clause.Associations).Clauses(clause.OnConflict{UpdateAll: true}).Create(product).Error; err != nil {
		return false, err
	}
	if product.ID == 0 {
		if _, err := r.lookup(product, product.RemoteId); err != nil {
			return false, err
		}
	}
	if err := r.replaceProductVariants(product.ID, variants); err != nil {
		return false, err
	}
	return true, r.replaceProductImages(product.ID, images)
}

func (r *refiner) upsertCustomer(customer *models.ShopCustomer, addresses []models.ShopCustomerAddress) (bool, error) {
	var existing models.ShopCustomer
	found, err := r.lookup(&existing, customer.RemoteId)
	if err != nil {
		return false, err
	}
	if found {
		if !isStrictlyNewer(customer.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
			return false, nil
		}
		customer.ID = existing.ID
		customer.CreatedAt = existing.CreatedAt
	}
	if err := r.tx.Omit(clause.Associations).Clauses(clause.OnConflict{UpdateAll: true}).Create(customer).Error; err != nil {
		return false, err
	}
	if customer.ID == 0 {
		if _, err := r.lookup(customer, customer.RemoteId); err != nil {
			return false, err
		}
	}
	return true, r.replaceCustomerAddresses(customer.ID, addresses)
}

func (r *refiner) upsertInventoryItem(item *models.ShopInventoryItem) (bool, error) {
	var existing models.ShopInventoryItem
	found, err := r.lookup(&existing, item.RemoteId)
	if err != nil {
		return false, err
	}
	if found {
		if !isStrictlyNewer(item.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
			return false, nil
		}
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
	}
	return true, r.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(item).Error
}

func (r *refiner) upsertInventoryLevel(level *models.ShopInventoryLevel) (bool, error) {
	var existing models.ShopInventoryLevel
	found, err := r.lookup(&existing, level.RemoteId)
	if err != nil {
		return false, err
	}
	if found {
		if !isStrictlyNewer(level.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
			return false, nil
		}
		level.ID = existing.ID
		level.CreatedAt = existing.CreatedAt
	}
	return true, r.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(level).Error
}

func (r *refiner) upsertTransaction(txn *models.ShopTransaction) (bool, error) {
	var existing models.ShopTransaction
	found, err := r.lookup(&existing, txn.RemoteId)
	if err != nil {
		return false, err
	}
	if found {
		if !isStrictlyNewer(txn.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
			return false, nil
		}
		txn.ID = existing.ID
		txn.CreatedAt = existing.CreatedAt
	}
	return true, r.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(txn).Error
}

// lookup fetches the stored entity by (tenant, remote id) into dest, which
// must be a pointer to one of the Shop* models.
func (r *refiner) lookup(dest interface{}, remoteId string) (bool, error) {
	err := r.tx.Where("tenant_id = ? AND remote_id = ?", r.tenantId, remoteId).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Child sets are replaced wholesale: children absent from the snapshot are
// deleted, present ones upserted, all inside the batch transaction.

func (r *refiner) replaceOrderLineItems(orderId uint, items []models.ShopOrderLineItem) error {
	keep := make([]string, 0, len(items))
	for i := range items {
		items[i].OrderID = orderId
		keep = append(keep, items[i].RemoteId)
	}
	q := r.tx.Where("order_id = ?", orderId)
	if len(keep) > 0 {
		q = q.Where("remote_id NOT IN ?", keep)
	}
	if err := q.Delete(&models.ShopOrderLineItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return r.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&items).Error
}

func (r *refiner) replaceProductVariants(productId uint, variants []models.ShopProductVariant) error {
	keep := make([]string, 0, len(variants))
	for i := range variants {
		variants[i].ProductID = productId
		keep = append(keep, variants[i].RemoteId)
	}
	q := r.tx.Where("product_id = ?", productId)
	if len(keep) > 0 {
		q = q.Where("remote_id NOT IN ?", keep)
	}
	if err := q.Delete(&models.ShopProductVariant{}).Error; err != nil {
		return err
	}
	if len(variants) == 0 {
		return nil
	}
	return r.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&variants).Error
}

func (r *refiner) replaceProductImages(productId uint, images []models.ShopProductImage) error {
	keep := make([]string, 0, len(images))
	for i := range images {
		images[i].ProductID = productId
		keep = append(keep, images[i].RemoteId)
	}
	q := r.tx.Where("product_id = ?", productId)
	if len(keep) > 0 {
		q = q.Where("remote_id NOT IN ?", keep)
	}
	if err := q.Delete(&models.ShopProductImage{}).Error; err != nil {
		return err
	}
	if len(images) == 0 {
		return nil
	}
	return r.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&images).Error
}

func (r *refiner) replaceCustomerAddresses(customerId uint, addresses []models.ShopCustomerAddress) error {
	keep := make([]string, 0, len(addresses))
	for i := range addresses {
		addresses[i].CustomerID = customerId
		keep = append(keep, addresses[i].RemoteId)
	}
	q := r.tx.Where("customer_id = ?", customerId)
	if len(keep) > 0 {
		q = q.Where("remote_id NOT IN ?", keep)
	}
	if err := q.Delete(&models.ShopCustomerAddress{}).Error; err != nil {
		return err
	}
	if len(addresses) == 0 {
		return nil
	}
	return r.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&addresses).Error
}

// isStrictlyNewer compares remote timestamps at second granularity in UTC.
// The remote API truncates to seconds, so sub-second noise must not make an
// equal timestamp look newer. An entity without a stored timestamp always
// accepts the update; a snapshot without one never overwrites a dated row.
func isStrictlyNewer(candidate, existing *time.Time) bool {
	if existing == nil {
		return true
	}
	if candidate == nil {
		return false
	}
	return candidate.UTC().Truncate(time.Second).After(existing.UTC().Truncate(time.Second))
}

func refineMaxAttempts() int {
	if v := os.Getenv("SYNC_REFINE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultRefineMaxAttempts
}
