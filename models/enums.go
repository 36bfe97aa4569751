package models

const (
	IntegrationProviderShopify = "shopify"
)

// IntegrationConnection.Status
const (
	IntegrationStatusPending = "pending"
	IntegrationStatusSyncing = "syncing"
	IntegrationStatusActive  = "active"
	IntegrationStatusError   = "error"
)

// IntegrationRawRecord.Source
const (
	RawSourceWebhook        = "webhook"
	RawSourceBackfill       = "backfill"
	RawSourceReconciliation = "reconciliation"
)

// IntegrationRawRecord.ProcessingStatus
const (
	RawStatusPending   = "pending"
	RawStatusProcessed = "processed"
	RawStatusFailed    = "failed"
)

// Synced object types. ObjectTypesInDependencyOrder is the refinement
// order: parents before the types that reference them.
const (
	ObjectTypeCustomer       = "customer"
	ObjectTypeProduct        = "product"
	ObjectTypeInventoryItem  = "inventory_item"
	ObjectTypeInventoryLevel = "inventory_level"
	ObjectTypeOrder          = "order"
	ObjectTypeTransaction    = "transaction"
)

func ObjectTypesInDependencyOrder() []string {
	return []string{
		ObjectTypeCustomer,
		ObjectTypeProduct,
		ObjectTypeInventoryItem,
		ObjectTypeInventoryLevel,
		ObjectTypeOrder,
		ObjectTypeTransaction,
	}
}

func IsKnownObjectType(objectType string) bool {
	for _, t := range ObjectTypesInDependencyOrder() {
		if t == objectType {
			return true
		}
	}
	return false
}

// IntegrationSyncRun.Status
const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

// IntegrationSyncRun.Kind
const (
	SyncRunKindBackfill  = "backfill"
	SyncRunKindReconcile = "reconcile"
)

// IntegrationSyncRun.TriggeredBy
const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

// Reconciliation run steps, surfaced through the connection progress blob.
const (
	ReconcileStepFetchingRemote = "fetching_remote"
	ReconcileStepFetchingLocal  = "fetching_local"
	ReconcileStepDiffing        = "diffing"
	ReconcileStepHealing        = "healing"
	ReconcileStepPruning        = "pruning"
	ReconcileStepDone           = "done"
)
