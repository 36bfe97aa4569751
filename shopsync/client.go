package shopsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/sirupsen/logrus"
)

const defaultMaxPages = 50

// shopifyClient talks to one shop's admin REST API. One client per
// connection: the limiter enforces the shop-level rate limit, so sharing a
// client across shops would throttle them against each other.
type shopifyClient struct {
	baseURL     string
	accessToken string
	apiVersion  string
	http        *http.Client
	limiter     <-chan time.Time
	maxPages    int
	backoff     BackoffPolicy
}

func newShopifyClient(shopDomain, accessToken, apiVersion string) (*shopifyClient, error) {
	if strings.TrimSpace(shopDomain) == "" {
		return nil, errors.New("shop domain is empty")
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("shopify access token is empty")
	}
	if strings.TrimSpace(apiVersion) == "" {
		apiVersion = strings.TrimSpace(os.Getenv("SHOPIFY_API_VERSION"))
	}
	if apiVersion == "" {
		apiVersion = "2024-01"
	}

	scheme := "https"
	if v := strings.TrimSpace(os.Getenv("SHOPIFY_API_SCHEME")); v != "" {
		scheme = v
	}
	baseURL := strings.TrimSpace(os.Getenv("SHOPIFY_API_BASE_URL"))
	if baseURL == "" {
		baseURL = scheme + "://" + shopDomain
	}

	rateLimitPerSec := int64(2)
	if v := strings.TrimSpace(os.Getenv("SHOPIFY_RATE_LIMIT_PER_SEC")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerSec = n
		}
	}
	interval := time.Second / time.Duration(rateLimitPerSec)

	maxPages := defaultMaxPages
	if v := strings.TrimSpace(os.Getenv("SHOPIFY_MAX_PAGES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxPages = n
		}
	}

	return &shopifyClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		apiVersion:  apiVersion,
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     time.Tick(interval),
		maxPages:    maxPages,
		backoff:     DefaultBackoffPolicy(),
	}, nil
}

// newClientForConnection builds the per-shop client from a stored
// connection record.
func newClientForConnection(conn *models.IntegrationConnection) (*shopifyClient, error) {
	return newShopifyClient(conn.ShopDomain, conn.AccessTokenRef, conn.ApiVersion)
}

// collectionPath maps an object type to its admin REST collection. The
// envelope key is the collection name; transactions live under orders and
// are fetched per order instead of here.
func collectionFor(objectType string) (string, error) {
	switch objectType {
	case models.ObjectTypeOrder:
		return "orders", nil
	case models.ObjectTypeProduct:
		return "products", nil
	case models.ObjectTypeCustomer:
		return "customers", nil
	case models.ObjectTypeInventoryItem:
		return "inventory_items", nil
	case models.ObjectTypeInventoryLevel:
		return "inventory_levels", nil
	case models.ObjectTypeTransaction:
		return "transactions", nil
	}
	return "", fmt.Errorf("no remote collection for object type %q", objectType)
}

// FetchObjects walks the paginated collection for one object type, calling
// pageFn with each page of raw objects. Pagination follows only the
// rel="next" link from the Link response header. Hitting the page cap logs
// a warning and returns what was fetched so far; the next run picks up the
// rest via the since watermark.
func (c *shopifyClient) FetchObjects(ctx context.Context, objectType string, since *time.Time, pageFn func(objects []json.RawMessage) error) (int, error) {
	collection, err := collectionFor(objectType)
	if err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("limit", "250")
	if since != nil {
		params.Set("updated_at_min", since.UTC().Format(time.RFC3339))
	}
	if objectType == models.ObjectTypeOrder {
		params.Set("status", "any")
	}

	pageURL := c.baseURL + "/admin/api/" + c.apiVersion + "/" + collection + ".json?" + params.Encode()
	total := 0
	for page := 0; pageURL != ""; page++ {
		if page >= c.maxPages {
			config.GetLogger().WithFields(logrus.Fields{
				"object_type": objectType,
				"max_pages":   c.maxPages,
				"fetched":     total,
			}).Warn("page cap reached, returning partial collection")
			return total, nil
		}

		objects, next, err := c.fetchPage(ctx, pageURL, collection)
		if err != nil {
			return total, err
		}
		if len(objects) > 0 {
			if err := pageFn(objects); err != nil {
				return total, err
			}
			total += len(objects)
		}
		pageURL = next
	}
	return total, nil
}

// FetchIDTimestampMap pulls the full collection with a minimal
// fields=id,updated_at projection and returns remote id -> updated_at.
// This is the remote side of a reconciliation diff. complete is false when
// the page cap cut the walk short; callers must not treat an incomplete
// map as the full remote state.
func (c *shopifyClient) FetchIDTimestampMap(ctx context.Context, objectType string) (result map[string]*time.Time, complete bool, err error) {
	collection, err := collectionFor(objectType)
	if err != nil {
		return nil, false, err
	}

	params := url.Values{}
	params.Set("limit", "250")
	params.Set("fields", "id,updated_at")
	if objectType == models.ObjectTypeOrder {
		params.Set("status", "any")
	}

	result = map[string]*time.Time{}
	pageURL := c.baseURL + "/admin/api/" + c.apiVersion + "/" + collection + ".json?" + params.Encode()
	for page := 0; pageURL != ""; page++ {
		if page >= c.maxPages {
			config.GetLogger().WithFields(logrus.Fields{
				"object_type": objectType,
				"max_pages":   c.maxPages,
			}).Warn("page cap reached while building id map")
			return result, false, nil
		}
		objects, next, err := c.fetchPage(ctx, pageURL, collection)
		if err != nil {
			return nil, false, err
		}
		for _, raw := range objects {
			var stub struct {
				ID        json.Number `json:"id"`
				UpdatedAt string      `json:"updated_at"`
			}
			if err := json.Unmarshal(raw, &stub); err != nil {
				continue
			}
			id := strings.TrimSpace(stub.ID.String())
			if id == "" {
				continue
			}
			result[id] = parseRemoteTime(stub.UpdatedAt)
		}
		pageURL = next
	}
	return result, true, nil
}

// FetchInventoryLevel re-fetches one level by its composite identity. The
// remote has no per-id endpoint for levels, only the filtered collection.
func (c *shopifyClient) FetchInventoryLevel(ctx context.Context, itemRemoteId, locationRemoteId string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("inventory_item_ids", itemRemoteId)
	params.Set("location_ids", locationRemoteId)
	endpoint := c.baseURL + "/admin/api/" + c.apiVersion + "/inventory_levels.json?" + params.Encode()

	var body []byte
	err := c.backoff.Retry(ctx, func() error {
		var reqErr error
		body, reqErr = c.get(ctx, endpoint)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		InventoryLevels []json.RawMessage `json:"inventory_levels"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.InventoryLevels) == 0 {
		return nil, fmt.Errorf("inventory level %s: %w", InventoryLevelRemoteId(itemRemoteId, locationRemoteId), utils.ErrorRecordNotFound)
	}
	return envelope.InventoryLevels[0], nil
}

// FetchObjectByID re-fetches one full object, used by reconciliation heals.
func (c *shopifyClient) FetchObjectByID(ctx context.Context, objectType, remoteId string) (json.RawMessage, error) {
	collection, err := collectionFor(objectType)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/admin/api/" + c.apiVersion + "/" + collection + "/" + url.PathEscape(remoteId) + ".json"

	var body []byte
	err = c.backoff.Retry(ctx, func() error {
		var reqErr error
		body, reqErr = c.get(ctx, endpoint)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	// Single-object responses are wrapped in a singular envelope key.
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	for _, raw := range envelope {
		return raw, nil
	}
	return nil, fmt.Errorf("empty response for %s %s", objectType, remoteId)
}

// FetchOrderTransactions lists the transactions of one order.
func (c *shopifyClient) FetchOrderTransactions(ctx context.Context, orderRemoteId string) ([]json.RawMessage, error) {
	endpoint := c.baseURL + "/admin/api/" + c.apiVersion + "/orders/" + url.PathEscape(orderRemoteId) + "/transactions.json"

	var body []byte
	err := c.backoff.Retry(ctx, func() error {
		var reqErr error
		body, reqErr = c.get(ctx, endpoint)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Transactions, nil
}

func (c *shopifyClient) fetchPage(ctx context.Context, pageURL, collection string) ([]json.RawMessage, string, error) {
	var body []byte
	var next string
	err := c.backoff.Retry(ctx, func() error {
		var reqErr error
		body, next, reqErr = c.getWithLink(ctx, pageURL)
		return reqErr
	})
	if err != nil {
		return nil, "", err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, "", err
	}
	var objects []json.RawMessage
	if raw, ok := envelope[collection]; ok {
		if err := json.Unmarshal(raw, &objects); err != nil {
			return nil, "", err
		}
	}
	return objects, next, nil
}

func (c *shopifyClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	body, _, err := c.getWithLink(ctx, endpoint)
	return body, err
}

func (c *shopifyClient) getWithLink(ctx context.Context, endpoint string) ([]byte, string, error) {
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection resets are transient.
		return nil, "", Retryable(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", Retryable(fmt.Errorf("shopify rate limited (retry-after=%s)", resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return nil, "", Retryable(fmt.Errorf("shopify api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", fmt.Errorf("shopify object at %s: %w", endpoint, utils.ErrorRecordNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, "", fmt.Errorf("shopify api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, parseLinkNext(resp.Header.Get("Link")), nil
}

// parseLinkNext extracts the rel="next" URL from a Link header. Previous
// links and anything else are ignored; an absent next link ends pagination.
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
