package shopsync

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
)

func TestParseProductFallsBackToUnknown(t *testing.T) {
	product, _, _, res := parseProduct("t1", []byte(`{"id":632910392,"title":"IPod Nano","vendor":"","product_type":"  "}`))
	if res.outcome != outcomeOK {
		t.Fatalf("outcome = %v (%s)", res.outcome, res.reason)
	}
	if product.Vendor != "Unknown" || product.ProductType != "Unknown" {
		t.Fatalf("missing text fields not defaulted: vendor=%q type=%q", product.Vendor, product.ProductType)
	}
}

func TestParseProductChildren(t *testing.T) {
	payload := []byte(`{
		"id": 632910392,
		"title": "IPod Nano",
		"updated_at": "2026-08-10T12:00:00Z",
		"variants": [
			{"id": 808950810, "title": "Pink", "price": "199.00", "compare_at_price": "249.00", "inventory_item_id": 7},
			{"id": 49148385, "title": "Red", "price": "199.00", "compare_at_price": null}
		],
		"images": [{"id": 850703190, "src": "http://example/ipod.png", "position": 1}]
	}`)
	product, variants, images, res := parseProduct("t1", payload)
	if res.outcome != outcomeOK {
		t.Fatalf("outcome = %v (%s)", res.outcome, res.reason)
	}
	if product.RemoteId != "632910392" {
		t.Fatalf("remote id = %q", product.RemoteId)
	}
	if len(variants) != 2 || len(images) != 1 {
		t.Fatalf("children: %d variants, %d images", len(variants), len(images))
	}
	if variants[0].CompareAtPrice == nil || variants[0].CompareAtPrice.String() != "249" {
		t.Fatalf("compare_at_price = %v", variants[0].CompareAtPrice)
	}
	if variants[1].CompareAtPrice != nil {
		t.Fatal("null compare_at_price must stay nil")
	}
	if variants[0].InventoryItemRemoteId != "7" {
		t.Fatalf("inventory item link = %q", variants[0].InventoryItemRemoteId)
	}
}

func TestParseInventoryItemCostNeverDefaultsToZero(t *testing.T) {
	item, res := parseInventoryItem("t1", []byte(`{"id":808950810,"sku":"IPOD-N","tracked":true}`))
	if res.outcome != outcomeOK {
		t.Fatalf("outcome = %v", res.outcome)
	}
	if item.Cost != nil {
		t.Fatalf("absent cost must stay NULL, got %v", item.Cost)
	}

	item, _ = parseInventoryItem("t1", []byte(`{"id":808950810,"cost":"0.00"}`))
	if item.Cost == nil || !item.Cost.IsZero() {
		t.Fatalf("explicit zero cost lost: %v", item.Cost)
	}
}

func TestParseCustomerNormalizesPhone(t *testing.T) {
	payload := []byte(`{
		"id": 207119551,
		"email": "bob@example.com",
		"phone": "(212) 555-0100",
		"default_address": {"id": 1, "country_code": "US", "default": true},
		"addresses": [{"id": 1, "city": "New York", "country_code": "us", "default": true}]
	}`)
	customer, addresses, res := parseCustomer("t1", payload)
	if res.outcome != outcomeOK {
		t.Fatalf("outcome = %v (%s)", res.outcome, res.reason)
	}
	if customer.Phone != "+12125550100" {
		t.Fatalf("phone not E.164: %q", customer.Phone)
	}
	if len(addresses) != 1 || addresses[0].CountryCode != "US" || !addresses[0].IsDefault {
		t.Fatalf("addresses: %+v", addresses)
	}
}

func TestParseCustomerKeepsUnparseablePhone(t *testing.T) {
	customer, _, res := parseCustomer("t1", []byte(`{"id":1,"phone":"ext. 42"}`))
	if res.outcome != outcomeOK {
		t.Fatalf("outcome = %v", res.outcome)
	}
	if customer.Phone != "ext. 42" {
		t.Fatalf("raw phone dropped: %q", customer.Phone)
	}
}

func TestParseOrderTimestampsInUTC(t *testing.T) {
	payload := []byte(`{
		"id": 450789469,
		"name": "#1001",
		"total_price": "409.94",
		"customer": {"id": 207119551},
		"updated_at": "2026-08-10T09:00:00-04:00",
		"line_items": [{"id": 1, "title": "IPod Nano", "quantity": 2, "price": "199.00"}]
	}`)
	order, items, res := parseOrder("t1", payload)
	if res.outcome != outcomeOK {
		t.Fatalf("outcome = %v (%s)", res.outcome, res.reason)
	}
	want := time.Date(2026, 8, 10, 13, 0, 0, 0, time.UTC)
	if order.RemoteUpdatedAt == nil || !order.RemoteUpdatedAt.Equal(want) {
		t.Fatalf("updated_at = %v, want %v", order.RemoteUpdatedAt, want)
	}
	if order.CustomerRemoteId != "207119551" {
		t.Fatalf("customer link = %q", order.CustomerRemoteId)
	}
	if len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("line items: %+v", items)
	}
	if order.TotalPrice.String() != "409.94" {
		t.Fatalf("total price = %s", order.TotalPrice)
	}
}

func TestParseTransactionDeclaresParentOrder(t *testing.T) {
	txn, res := parseTransaction("t1", []byte(`{"id":389404469,"order_id":450789469,"kind":"sale","amount":"409.94"}`))
	if res.outcome != outcomeOK {
		t.Fatalf("outcome = %v", res.outcome)
	}
	if res.parentType != models.ObjectTypeOrder || res.parentRemoteId != "450789469" {
		t.Fatalf("parent declaration: %s %s", res.parentType, res.parentRemoteId)
	}
	if txn.OrderRemoteId != "450789469" {
		t.Fatalf("order link = %q", txn.OrderRemoteId)
	}
}

func TestParseInventoryLevelCompositeIdentity(t *testing.T) {
	level, res := parseInventoryLevel("t1", []byte(`{"inventory_item_id":808950810,"location_id":905684977,"available":6}`))
	if res.outcome != outcomeOK {
		t.Fatalf("outcome = %v", res.outcome)
	}
	if level.RemoteId != "808950810:905684977" {
		t.Fatalf("composite id = %q", level.RemoteId)
	}
	if res.parentType != models.ObjectTypeInventoryItem {
		t.Fatalf("parent type = %q", res.parentType)
	}

	_, res = parseInventoryLevel("t1", []byte(`{"available":6}`))
	if res.outcome != outcomeInvalid {
		t.Fatal("level without identity must be invalid")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, _, res := parseOrder("t1", []byte(`not json`)); res.outcome != outcomeInvalid {
		t.Fatal("garbage order accepted")
	}
	if _, _, _, res := parseProduct("t1", []byte(`{"title":"no id"}`)); res.outcome != outcomeInvalid {
		t.Fatal("product without id accepted")
	}
	if _, res := parseTransaction("t1", []byte(`{"id":1}`)); res.outcome != outcomeInvalid {
		t.Fatal("transaction without order_id accepted")
	}
}

func TestIsStrictlyNewerSecondGranularity(t *testing.T) {
	base := time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)
	later := base.Add(time.Second)
	subSecond := base.Add(300 * time.Millisecond)

	if !isStrictlyNewer(&later, &base) {
		t.Fatal("later second not newer")
	}
	if isStrictlyNewer(&base, &base) {
		t.Fatal("equal timestamp treated as newer")
	}
	if isStrictlyNewer(&subSecond, &base) {
		t.Fatal("sub-second delta must not count as newer")
	}
	if !isStrictlyNewer(&base, nil) {
		t.Fatal("row without timestamp must accept update")
	}
	if isStrictlyNewer(nil, &base) {
		t.Fatal("undated snapshot must not overwrite dated row")
	}
}
