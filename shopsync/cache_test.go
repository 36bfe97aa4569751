package shopsync

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
)

func TestConnectionCacheRoundTrip(t *testing.T) {
	cache := NewConnectionCache(4, time.Minute)

	if _, ok := cache.Get("missing.myshopify.com"); ok {
		t.Fatal("empty cache returned a hit")
	}

	conn := models.IntegrationConnection{TenantId: "t1", ShopDomain: "t1.myshopify.com"}
	cache.Add(conn.ShopDomain, conn)

	got, ok := cache.Get("t1.myshopify.com")
	if !ok || got.TenantId != "t1" {
		t.Fatalf("cache miss after add: ok=%v got=%+v", ok, got)
	}

	cache.Remove("t1.myshopify.com")
	if _, ok := cache.Get("t1.myshopify.com"); ok {
		t.Fatal("hit after remove")
	}
}

func TestConnectionCacheExpires(t *testing.T) {
	cache := NewConnectionCache(4, 20*time.Millisecond)
	cache.Add("x.myshopify.com", models.IntegrationConnection{TenantId: "x"})

	time.Sleep(60 * time.Millisecond)
	if _, ok := cache.Get("x.myshopify.com"); ok {
		t.Fatal("entry survived past TTL")
	}
}
