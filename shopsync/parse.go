package shopsync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

// fallbackText replaces absent required text fields (vendor, product type).
const fallbackText = "Unknown"

type parseOutcome int

const (
	outcomeOK parseOutcome = iota
	outcomeInvalid
	outcomeNeedsParent
)

// parseResult tags the outcome of one payload parse. The dependency on a
// parent entity is declared here and checked against the store by the
// refinement pipeline; parse functions themselves never touch the DB.
type parseResult struct {
	outcome        parseOutcome
	reason         string
	parentType     string
	parentRemoteId string
}

func okResult() parseResult { return parseResult{outcome: outcomeOK} }

func invalidResult(format string, args ...interface{}) parseResult {
	return parseResult{outcome: outcomeInvalid, reason: fmt.Sprintf(format, args...)}
}

func needsParent(parentType, parentRemoteId string) parseResult {
	return parseResult{outcome: outcomeNeedsParent, parentType: parentType, parentRemoteId: parentRemoteId}
}

type orderPayload struct {
	ID                json.Number        `json:"id"`
	Name              string             `json:"name"`
	OrderNumber       int64              `json:"order_number"`
	Email             string             `json:"email"`
	Currency          string             `json:"currency"`
	FinancialStatus   string             `json:"financial_status"`
	FulfillmentStatus string             `json:"fulfillment_status"`
	SubtotalPrice     string             `json:"subtotal_price"`
	TotalTax          string             `json:"total_tax"`
	TotalDiscounts    string             `json:"total_discounts"`
	TotalPrice        string             `json:"total_price"`
	Customer          *struct {
		ID json.Number `json:"id"`
	} `json:"customer"`
	ProcessedAt string            `json:"processed_at"`
	CancelledAt string            `json:"cancelled_at"`
	UpdatedAt   string            `json:"updated_at"`
	LineItems   []lineItemPayload `json:"line_items"`
}

type lineItemPayload struct {
	ID            json.Number `json:"id"`
	ProductID     json.Number `json:"product_id"`
	VariantID     json.Number `json:"variant_id"`
	Title         string      `json:"title"`
	Sku           string      `json:"sku"`
	Quantity      int         `json:"quantity"`
	Price         string      `json:"price"`
	TotalDiscount string      `json:"total_discount"`
}

type productPayload struct {
	ID          json.Number      `json:"id"`
	Title       string           `json:"title"`
	Handle      string           `json:"handle"`
	Vendor      string           `json:"vendor"`
	ProductType string           `json:"product_type"`
	Status      string           `json:"status"`
	Tags        string           `json:"tags"`
	PublishedAt string           `json:"published_at"`
	UpdatedAt   string           `json:"updated_at"`
	Variants    []variantPayload `json:"variants"`
	Images      []imagePayload   `json:"images"`
}

type variantPayload struct {
	ID              json.Number `json:"id"`
	Title           string      `json:"title"`
	Sku             string      `json:"sku"`
	Barcode         string      `json:"barcode"`
	Position        int         `json:"position"`
	Price           string      `json:"price"`
	CompareAtPrice  *string     `json:"compare_at_price"`
	InventoryItemID json.Number `json:"inventory_item_id"`
}

type imagePayload struct {
	ID       json.Number `json:"id"`
	Src      string      `json:"src"`
	Alt      string      `json:"alt"`
	Position int         `json:"position"`
}

type customerPayload struct {
	ID             json.Number      `json:"id"`
	Email          string           `json:"email"`
	FirstName      string           `json:"first_name"`
	LastName       string           `json:"last_name"`
	Phone          string           `json:"phone"`
	State          string           `json:"state"`
	Note           string           `json:"note"`
	OrdersCount    int              `json:"orders_count"`
	TotalSpent     string           `json:"total_spent"`
	UpdatedAt      string           `json:"updated_at"`
	Addresses      []addressPayload `json:"addresses"`
	DefaultAddress *addressPayload  `json:"default_address"`
}

type addressPayload struct {
	ID          json.Number `json:"id"`
	Address1    string      `json:"address1"`
	Address2    string      `json:"address2"`
	City        string      `json:"city"`
	Province    string      `json:"province"`
	Country     string      `json:"country"`
	CountryCode string      `json:"country_code"`
	Zip         string      `json:"zip"`
	Default     bool        `json:"default"`
}

type inventoryItemPayload struct {
	ID               json.Number `json:"id"`
	Sku              string      `json:"sku"`
	// Cost is a pointer so an absent cost stays distinguishable from a
	// real zero cost: absent maps to NULL, never to 0.
	Cost             *string `json:"cost"`
	Tracked          bool    `json:"tracked"`
	RequiresShipping bool    `json:"requires_shipping"`
	UpdatedAt        string  `json:"updated_at"`
}

type inventoryLevelPayload struct {
	InventoryItemID json.Number `json:"inventory_item_id"`
	LocationID      json.Number `json:"location_id"`
	Available       int         `json:"available"`
	UpdatedAt       string      `json:"updated_at"`
}

type transactionPayload struct {
	ID          json.Number `json:"id"`
	OrderID     json.Number `json:"order_id"`
	Kind        string      `json:"kind"`
	Gateway     string      `json:"gateway"`
	Status      string      `json:"status"`
	Amount      string      `json:"amount"`
	Currency    string      `json:"currency"`
	ProcessedAt string      `json:"processed_at"`
	UpdatedAt   string      `json:"updated_at"`
}

func parseOrder(tenantId string, payload []byte) (*models.ShopOrder, []models.ShopOrderLineItem, parseResult) {
	var p orderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, nil, invalidResult("invalid order payload: %v", err)
	}
	remoteId := strings.TrimSpace(p.ID.String())
	if remoteId == "" {
		return nil, nil, invalidResult("order id missing")
	}

	order := &models.ShopOrder{
		TenantId:          tenantId,
		RemoteId:          remoteId,
		Name:              strings.TrimSpace(p.Name),
		OrderNumber:       p.OrderNumber,
		Email:             strings.TrimSpace(p.Email),
		Currency:          strings.TrimSpace(p.Currency),
		FinancialStatus:   strings.TrimSpace(p.FinancialStatus),
		FulfillmentStatus: strings.TrimSpace(p.FulfillmentStatus),
		SubtotalPrice:     decimalFromString(p.SubtotalPrice),
		TotalTax:          decimalFromString(p.TotalTax),
		TotalDiscounts:    decimalFromString(p.TotalDiscounts),
		TotalPrice:        decimalFromString(p.TotalPrice),
		ProcessedAt:       parseRemoteTime(p.ProcessedAt),
		CancelledAt:       parseRemoteTime(p.CancelledAt),
		RemoteUpdatedAt:   parseRemoteTime(p.UpdatedAt),
		RawPayload:        payload,
	}
	if p.Customer != nil {
		order.CustomerRemoteId = strings.TrimSpace(p.Customer.ID.String())
	}

	var items []models.ShopOrderLineItem
	for _, li := range p.LineItems {
		itemRemoteId := strings.TrimSpace(li.ID.String())
		if itemRemoteId == "" {
			continue
		}
		items = append(items, models.ShopOrderLineItem{
			TenantId:        tenantId,
			RemoteId:        itemRemoteId,
			ProductRemoteId: strings.TrimSpace(li.ProductID.String()),
			VariantRemoteId: strings.TrimSpace(li.VariantID.String()),
			Title:           strings.TrimSpace(li.Title),
			Sku:             strings.TrimSpace(li.Sku),
			Quantity:        li.Quantity,
			Price:           decimalFromString(li.Price),
			TotalDiscount:   decimalFromString(li.TotalDiscount),
		})
	}
	return order, items, okResult()
}

func parseProduct(tenantId string, payload []byte) (*models.ShopProduct, []models.ShopProductVariant, []models.ShopProductImage, parseResult) {
	var p productPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, nil, nil, invalidResult("invalid product payload: %v", err)
	}
	remoteId := strings.TrimSpace(p.ID.String())
	if remoteId == "" {
		return nil, nil, nil, invalidResult("product id missing")
	}

	product := &models.ShopProduct{
		TenantId:        tenantId,
		RemoteId:        remoteId,
		Title:           strings.TrimSpace(p.Title),
		Handle:          strings.TrimSpace(p.Handle),
		Vendor:          textOrFallback(p.Vendor),
		ProductType:     textOrFallback(p.ProductType),
		Status:          strings.TrimSpace(p.Status),
		Tags:            strings.TrimSpace(p.Tags),
		PublishedAt:     parseRemoteTime(p.PublishedAt),
		RemoteUpdatedAt: parseRemoteTime(p.UpdatedAt),
		RawPayload:      payload,
	}
	if product.Title == "" {
		product.Title = "Shopify Product " + remoteId
	}

	var variants []models.ShopProductVariant
	for _, v := range p.Variants {
		variantRemoteId := strings.TrimSpace(v.ID.String())
		if variantRemoteId == "" {
			continue
		}
		variants = append(variants, models.ShopProductVariant{
			TenantId:              tenantId,
			RemoteId:              variantRemoteId,
			Title:                 strings.TrimSpace(v.Title),
			Sku:                   strings.TrimSpace(v.Sku),
			Barcode:               strings.TrimSpace(v.Barcode),
			Position:              v.Position,
			Price:                 decimalFromString(v.Price),
			CompareAtPrice:        decimalPtrFromString(v.CompareAtPrice),
			InventoryItemRemoteId: strings.TrimSpace(v.InventoryItemID.String()),
		})
	}

	var images []models.ShopProductImage
	for _, img := range p.Images {
		imageRemoteId := strings.TrimSpace(img.ID.String())
		if imageRemoteId == "" {
			continue
		}
		images = append(images, models.ShopProductImage{
			TenantId: tenantId,
			RemoteId: imageRemoteId,
			Src:      strings.TrimSpace(img.Src),
			Alt:      strings.TrimSpace(img.Alt),
			Position: img.Position,
		})
	}
	return product, variants, images, okResult()
}

func parseCustomer(tenantId string, payload []byte) (*models.ShopCustomer, []models.ShopCustomerAddress, parseResult) {
	var p customerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, nil, invalidResult("invalid customer payload: %v", err)
	}
	remoteId := strings.TrimSpace(p.ID.String())
	if remoteId == "" {
		return nil, nil, invalidResult("customer id missing")
	}

	countryCode := ""
	if p.DefaultAddress != nil {
		countryCode = p.DefaultAddress.CountryCode
	}

	customer := &models.ShopCustomer{
		TenantId:        tenantId,
		RemoteId:        remoteId,
		Email:           strings.TrimSpace(p.Email),
		FirstName:       strings.TrimSpace(p.FirstName),
		LastName:        strings.TrimSpace(p.LastName),
		Phone:           normalizePhone(p.Phone, countryCode),
		State:           strings.TrimSpace(p.State),
		Note:            strings.TrimSpace(p.Note),
		OrdersCount:     p.OrdersCount,
		TotalSpent:      decimalFromString(p.TotalSpent),
		RemoteUpdatedAt: parseRemoteTime(p.UpdatedAt),
		RawPayload:      payload,
	}

	var addresses []models.ShopCustomerAddress
	for _, a := range p.Addresses {
		addressRemoteId := strings.TrimSpace(a.ID.String())
		if addressRemoteId == "" {
			continue
		}
		addresses = append(addresses, models.ShopCustomerAddress{
			TenantId:    tenantId,
			RemoteId:    addressRemoteId,
			Address1:    strings.TrimSpace(a.Address1),
			Address2:    strings.TrimSpace(a.Address2),
			City:        strings.TrimSpace(a.City),
			Province:    strings.TrimSpace(a.Province),
			Country:     strings.TrimSpace(a.Country),
			CountryCode: strings.ToUpper(strings.TrimSpace(a.CountryCode)),
			Zip:         strings.TrimSpace(a.Zip),
			IsDefault:   a.Default,
		})
	}
	return customer, addresses, okResult()
}

func parseInventoryItem(tenantId string, payload []byte) (*models.ShopInventoryItem, parseResult) {
	var p inventoryItemPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, invalidResult("invalid inventory item payload: %v", err)
	}
	remoteId := strings.TrimSpace(p.ID.String())
	if remoteId == "" {
		return nil, invalidResult("inventory item id missing")
	}

	return &models.ShopInventoryItem{
		TenantId:         tenantId,
		RemoteId:         remoteId,
		Sku:              strings.TrimSpace(p.Sku),
		Cost:             decimalPtrFromString(p.Cost),
		Tracked:          p.Tracked,
		RequiresShipping: p.RequiresShipping,
		RemoteUpdatedAt:  parseRemoteTime(p.UpdatedAt),
		RawPayload:       payload,
	}, okResult()
}

func parseInventoryLevel(tenantId string, payload []byte) (*models.ShopInventoryLevel, parseResult) {
	var p inventoryLevelPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, invalidResult("invalid inventory level payload: %v", err)
	}
	itemId := strings.TrimSpace(p.InventoryItemID.String())
	locationId := strings.TrimSpace(p.LocationID.String())
	if itemId == "" || locationId == "" {
		return nil, invalidResult("inventory level requires inventory_item_id and location_id")
	}

	level := &models.ShopInventoryLevel{
		TenantId:              tenantId,
		RemoteId:              InventoryLevelRemoteId(itemId, locationId),
		InventoryItemRemoteId: itemId,
		LocationRemoteId:      locationId,
		Available:             p.Available,
		RemoteUpdatedAt:       parseRemoteTime(p.UpdatedAt),
		RawPayload:            payload,
	}
	res := needsParent(models.ObjectTypeInventoryItem, itemId)
	res.outcome = outcomeOK
	return level, res
}

func parseTransaction(tenantId string, payload []byte) (*models.ShopTransaction, parseResult) {
	var p transactionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, invalidResult("invalid transaction payload: %v", err)
	}
	remoteId := strings.TrimSpace(p.ID.String())
	if remoteId == "" {
		return nil, invalidResult("transaction id missing")
	}
	orderId := strings.TrimSpace(p.OrderID.String())
	if orderId == "" {
		return nil, invalidResult("transaction order_id missing")
	}

	txn := &models.ShopTransaction{
		TenantId:        tenantId,
		RemoteId:        remoteId,
		OrderRemoteId:   orderId,
		Kind:            strings.TrimSpace(p.Kind),
		Gateway:         strings.TrimSpace(p.Gateway),
		Status:          strings.TrimSpace(p.Status),
		Amount:          decimalFromString(p.Amount),
		Currency:        strings.TrimSpace(p.Currency),
		ProcessedAt:     parseRemoteTime(p.ProcessedAt),
		RemoteUpdatedAt: parseRemoteTime(p.UpdatedAt),
		RawPayload:      payload,
	}
	res := needsParent(models.ObjectTypeOrder, orderId)
	res.outcome = outcomeOK
	return txn, res
}

// InventoryLevelRemoteId builds the synthetic id for a level, which the
// remote identifies by (inventory item, location) rather than its own id.
func InventoryLevelRemoteId(itemId, locationId string) string {
	return itemId + ":" + locationId
}

func textOrFallback(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallbackText
	}
	return s
}

func decimalFromString(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	return decimal.Zero
}

func decimalPtrFromString(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil
	}
	return &d
}

// parseRemoteTime normalizes remote timestamps to UTC. The remote reports
// RFC3339 with shop-local offsets; everything is compared in UTC here.
func parseRemoteTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// normalizePhone best-effort formats a customer phone to E.164. The raw
// value is kept when parsing fails; a phone is never a reason to reject a
// customer payload.
func normalizePhone(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	region := strings.ToUpper(strings.TrimSpace(countryCode))
	if region == "" {
		region = "US"
	}
	num, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return raw
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}
