package shopsync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var validate = validator.New()

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		conn, err := models.GetConnectionByTenant(ctx, db, tenantId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusOK, StatusResponse{
					Connection: ConnectionResponse{Status: "disconnected"},
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, StatusResponse{
			Connection: ConnectionResponse{
				Status:     conn.Status,
				ShopDomain: conn.ShopDomain,
				ApiVersion: conn.ApiVersion,
			},
			LastSyncAt:        formatTime(conn.LastSyncAt),
			LastSuccessSyncAt: formatTime(conn.LastSuccessSyncAt),
			Progress:          DecodeProgress(conn.ProgressJSON),
		})
	}
}

func ConnectHandler(cache *ConnectionCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		conn, err := models.GetConnectionByTenant(ctx, db, tenantId)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		shopDomain := strings.ToLower(strings.TrimSpace(req.ShopDomain))
		now := time.Now()
		if conn == nil || errors.Is(err, gorm.ErrRecordNotFound) {
			conn = &models.IntegrationConnection{
				TenantId:         tenantId,
				Provider:         models.IntegrationProviderShopify,
				Status:           models.IntegrationStatusPending,
				ShopDomain:       shopDomain,
				AccessTokenRef:   req.AccessToken,
				WebhookSecretRef: req.WebhookSecret,
				ApiVersion:       strings.TrimSpace(req.ApiVersion),
			}
			if err := db.Create(conn).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			if err := db.Model(conn).Updates(map[string]interface{}{
				"status":             models.IntegrationStatusPending,
				"shop_domain":        shopDomain,
				"access_token_ref":   req.AccessToken,
				"webhook_secret_ref": req.WebhookSecret,
				"api_version":        strings.TrimSpace(req.ApiVersion),
				"updated_at":         now,
			}).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		if cache != nil {
			cache.Remove(shopDomain)
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// DisconnectHandler tears the tenant's integration down completely: the
// connection, its runs, the raw store and the domain projection all go.
func DisconnectHandler(cache *ConnectionCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		conn, err := models.GetConnectionByTenant(ctx, db, tenantId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusOK, gin.H{"success": true})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := models.DeleteIntegrationData(ctx, db, conn); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if cache != nil {
			cache.Remove(conn.ShopDomain)
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		kind := strings.TrimSpace(req.Kind)
		if kind == "" {
			kind = models.SyncRunKindBackfill
		}
		if kind != models.SyncRunKindBackfill && kind != models.SyncRunKindReconcile {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be backfill or reconcile"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		conn, err := models.GetConnectionByTenant(ctx, db, tenantId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusConflict, gin.H{"error": "shopify is not connected"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		selection := req.ObjectTypes
		if selection.IsEmpty() {
			selection = DefaultSelection()
		}

		run := models.IntegrationSyncRun{
			TenantId:        tenantId,
			ConnectionId:    conn.ID,
			Provider:        models.IntegrationProviderShopify,
			Kind:            kind,
			Status:          models.SyncRunStatusQueued,
			TriggeredBy:     models.SyncTriggeredManual,
			ObjectTypesJSON: EncodeSelection(selection),
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c.Request.Context(), run.ID, tenantId, conn.ID, kind)

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		var runs []models.IntegrationSyncRun
		if err := db.Where("tenant_id = ? AND provider = ?", tenantId, models.IntegrationProviderShopify).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		var run models.IntegrationSyncRun
		if err := db.Where("id = ? AND tenant_id = ?", id, tenantId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var errs []models.IntegrationSyncError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id desc").Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Errors:          mapErrors(errs),
		})
	}
}

func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		var run models.IntegrationSyncRun
		if err := db.Where("id = ? AND tenant_id = ?", id, tenantId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		newRun := models.IntegrationSyncRun{
			TenantId:        tenantId,
			ConnectionId:    run.ConnectionId,
			Provider:        run.Provider,
			Kind:            run.Kind,
			Status:          models.SyncRunStatusQueued,
			TriggeredBy:     models.SyncTriggeredRetry,
			ObjectTypesJSON: run.ObjectTypesJSON,
			ParentRunId:     &run.ID,
		}
		if err := db.Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = PublishSyncRun(c.Request.Context(), newRun.ID, tenantId, run.ConnectionId, run.Kind)

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

// ResetRawRecordsHandler moves processed/failed snapshots back to pending,
// the operator escape hatch after a parser fix or a bad deploy.
func ResetRawRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ResetRawRecordsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.ObjectType != "" && !models.IsKnownObjectType(req.ObjectType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown object type"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), tenantId)
		affected, err := ResetToPending(ctx, config.GetDB(), tenantId, req.ObjectType, req.Status, req.Ids)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": affected})
	}
}

// resolveTenantID reads the tenant from the session context. Admins may act
// on another tenant with ?tenant_id=.
func resolveTenantID(c *gin.Context) (string, error) {
	tenantId, ok := utils.GetTenantIdFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(tenantId) == "" {
		return "", errors.New("unauthorized")
	}

	if override := strings.TrimSpace(c.Query("tenant_id")); override != "" && override != tenantId {
		isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context())
		if !isAdmin {
			return "", errors.New("unauthorized")
		}
		return override, nil
	}
	return tenantId, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.IntegrationSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Kind:          run.Kind,
		Status:        run.Status,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
	}
}

func mapErrors(errorsList []models.IntegrationSyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:         errItem.ID,
			ObjectType: errItem.ObjectType,
			RemoteId:   errItem.RemoteId,
			Message:    errItem.Message,
			Retryable:  errItem.Retryable,
		})
	}
	return out
}
