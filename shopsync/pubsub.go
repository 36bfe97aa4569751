package shopsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

// PublishSyncRun enqueues a run for the push worker. The message carries
// ids only; the worker re-reads the run row for everything else.
func PublishSyncRun(ctx context.Context, runId uint, tenantId string, connectionId uint, kind string) error {
	topicName := strings.TrimSpace(os.Getenv("SHOPIFY_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "shopify-sync"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("SHOPIFY_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	payload := SyncRunMessage{
		RunId:        runId,
		TenantId:     tenantId,
		ConnectionId: connectionId,
		Kind:         kind,
	}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler consumes push deliveries. It always answers 204:
// a malformed message would never become valid on redelivery, and run
// processing records its own failures on the run row.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_SHOPIFY_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncRunMessage
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 || payload.TenantId == "" {
			c.Status(204)
			return
		}

		_ = processSyncRun(c.Request.Context(), payload)
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
