package shopsync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Webhook topics map to the object type whose projection they feed.
// Delete topics still land in the raw store; refinement treats the payload
// as the remote's last word on the object.
var webhookTopicObjectTypes = map[string]string{
	"orders/create":           models.ObjectTypeOrder,
	"orders/updated":          models.ObjectTypeOrder,
	"orders/paid":             models.ObjectTypeOrder,
	"orders/cancelled":        models.ObjectTypeOrder,
	"orders/fulfilled":        models.ObjectTypeOrder,
	"products/create":         models.ObjectTypeProduct,
	"products/update":         models.ObjectTypeProduct,
	"customers/create":        models.ObjectTypeCustomer,
	"customers/update":        models.ObjectTypeCustomer,
	"inventory_items/create":  models.ObjectTypeInventoryItem,
	"inventory_items/update":  models.ObjectTypeInventoryItem,
	"inventory_levels/update": models.ObjectTypeInventoryLevel,
}

// VerifyWebhookSignature checks the base64 HMAC-SHA256 of the raw body
// against the shared secret. Constant-time compare; returns false for a
// missing header or secret rather than erroring.
func VerifyWebhookSignature(body []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// WebhookHandler is the push ingress. Signature verification runs against
// the raw bytes before anything else touches them; only then is the payload
// canonicalized and filed. The handler never refines inline, webhook
// latency stays decoupled from DB write amplification.
func WebhookHandler(cache *ConnectionCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 2<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		topic := c.GetHeader("X-Shopify-Topic")
		shopDomain := strings.TrimSpace(c.GetHeader("X-Shopify-Shop-Domain"))
		signature := c.GetHeader("X-Shopify-Hmac-Sha256")
		if shopDomain == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		conn, ok := lookupConnection(c, cache, shopDomain)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if !VerifyWebhookSignature(body, signature, conn.WebhookSecretRef) {
			config.GetLogger().WithFields(logrus.Fields{
				"shop_domain": shopDomain,
				"topic":       topic,
			}).Warn("webhook signature rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		objectType, known := webhookTopicObjectTypes[topic]
		if !known {
			// Acknowledge unknown topics so the remote stops retrying them.
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		remoteId, remoteUpdatedAt := extractIdentity(body, objectType)
		if remoteId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload has no id"})
			return
		}

		ctx := utils.SetTenantIdInContext(c.Request.Context(), conn.TenantId)
		_, created, err := RecordSnapshot(ctx, config.GetDB(), conn.TenantId, objectType, remoteId,
			remoteUpdatedAt, body, models.RawSourceWebhook, topic)
		if err != nil {
			config.LogError(config.GetLogger(), "shopsync", "WebhookHandler", "record snapshot", map[string]interface{}{
				"shop_domain": shopDomain,
				"topic":       topic,
				"remote_id":   remoteId,
			}, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "created": created})
	}
}

func lookupConnection(c *gin.Context, cache *ConnectionCache, shopDomain string) (models.IntegrationConnection, bool) {
	if cache != nil {
		if conn, ok := cache.Get(shopDomain); ok {
			return conn, true
		}
	}
	conn, err := models.GetConnectionByShopDomain(c.Request.Context(), config.GetDB(), shopDomain)
	if err != nil {
		return models.IntegrationConnection{}, false
	}
	if cache != nil {
		cache.Add(shopDomain, *conn)
	}
	return *conn, true
}

// extractIdentity pulls just the remote id and updated_at out of the body.
// Full parsing is the refinement pipeline's job; the ingress only needs
// enough to index the snapshot.
func extractIdentity(body []byte, objectType string) (string, *time.Time) {
	if objectType == models.ObjectTypeInventoryLevel {
		var stub struct {
			InventoryItemID json.Number `json:"inventory_item_id"`
			LocationID      json.Number `json:"location_id"`
			UpdatedAt       string      `json:"updated_at"`
		}
		if err := json.Unmarshal(body, &stub); err != nil {
			return "", nil
		}
		itemId := strings.TrimSpace(stub.InventoryItemID.String())
		locationId := strings.TrimSpace(stub.LocationID.String())
		if itemId == "" || locationId == "" {
			return "", nil
		}
		return InventoryLevelRemoteId(itemId, locationId), parseRemoteTime(stub.UpdatedAt)
	}

	var stub struct {
		ID        json.Number `json:"id"`
		UpdatedAt string      `json:"updated_at"`
	}
	if err := json.Unmarshal(body, &stub); err != nil {
		return "", nil
	}
	return strings.TrimSpace(stub.ID.String()), parseRemoteTime(stub.UpdatedAt)
}
