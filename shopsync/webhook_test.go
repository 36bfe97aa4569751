package shopsync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
)

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"id":123,"updated_at":"2026-08-01T10:00:00Z"}`)
	secret := "shpss_test_secret"

	if !VerifyWebhookSignature(body, signBody(body, secret), secret) {
		t.Fatal("valid signature rejected")
	}
	if VerifyWebhookSignature(body, signBody(body, "wrong"), secret) {
		t.Fatal("signature from wrong secret accepted")
	}
	if VerifyWebhookSignature(body, "", secret) {
		t.Fatal("missing signature accepted")
	}
	if VerifyWebhookSignature(body, signBody(body, secret), "") {
		t.Fatal("missing secret accepted")
	}

	tampered := append([]byte{}, body...)
	tampered[10] = 'X'
	if VerifyWebhookSignature(tampered, signBody(body, secret), secret) {
		t.Fatal("tampered body accepted")
	}
}

func TestWebhookTopicsMapToKnownObjectTypes(t *testing.T) {
	for topic, objectType := range webhookTopicObjectTypes {
		if !models.IsKnownObjectType(objectType) {
			t.Fatalf("topic %s maps to unknown object type %s", topic, objectType)
		}
	}
	if webhookTopicObjectTypes["orders/updated"] != models.ObjectTypeOrder {
		t.Fatal("orders/updated should map to order")
	}
}

func TestExtractIdentity(t *testing.T) {
	id, ts := extractIdentity([]byte(`{"id":450789469,"updated_at":"2026-08-01T10:00:00-04:00"}`), models.ObjectTypeOrder)
	if id != "450789469" {
		t.Fatalf("id = %q", id)
	}
	if ts == nil || ts.UTC().Hour() != 14 {
		t.Fatalf("updated_at not normalized to UTC: %v", ts)
	}

	id, _ = extractIdentity([]byte(`{"inventory_item_id":808950810,"location_id":905684977,"available":6}`), models.ObjectTypeInventoryLevel)
	if id != "808950810:905684977" {
		t.Fatalf("composite level id = %q", id)
	}

	id, _ = extractIdentity([]byte(`{"no_id":true}`), models.ObjectTypeProduct)
	if id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}
}
