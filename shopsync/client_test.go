package shopsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/models"
)

func testClient(t *testing.T, server *httptest.Server) *shopifyClient {
	t.Helper()
	return &shopifyClient{
		baseURL:     server.URL,
		accessToken: "shpat_test",
		apiVersion:  "2024-01",
		http:        server.Client(),
		limiter:     time.Tick(time.Microsecond),
		maxPages:    defaultMaxPages,
		backoff:     BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func TestFetchObjectsFollowsLinkPagination(t *testing.T) {
	var calls int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Shopify-Access-Token"); got != "shpat_test" {
			t.Errorf("missing access token header, got %q", got)
		}
		page := atomic.AddInt32(&calls, 1)
		if page < 3 {
			w.Header().Set("Link", fmt.Sprintf(`<%s/admin/api/2024-01/products.json?page_info=p%d>; rel="next", <%s/x>; rel="previous"`, server.URL, page+1, server.URL))
		}
		fmt.Fprintf(w, `{"products":[{"id":%d,"updated_at":"2026-08-01T00:00:00Z"}]}`, page)
	}))
	defer server.Close()

	client := testClient(t, server)
	var seen []string
	total, err := client.FetchObjects(context.Background(), models.ObjectTypeProduct, nil, func(objects []json.RawMessage) error {
		for _, raw := range objects {
			seen = append(seen, string(raw))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("FetchObjects: %v", err)
	}
	if total != 3 || len(seen) != 3 {
		t.Fatalf("expected 3 objects over 3 pages, got total=%d seen=%d", total, len(seen))
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected exactly 3 requests, got %d", calls)
	}
}

func TestFetchObjectsStopsAtPageCap(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always advertise a next page.
		w.Header().Set("Link", fmt.Sprintf(`<%s/admin/api/2024-01/orders.json?page_info=more>; rel="next"`, server.URL))
		fmt.Fprint(w, `{"orders":[{"id":1}]}`)
	}))
	defer server.Close()

	client := testClient(t, server)
	client.maxPages = 2
	total, err := client.FetchObjects(context.Background(), models.ObjectTypeOrder, nil, func([]json.RawMessage) error { return nil })
	if err != nil {
		t.Fatalf("FetchObjects: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected partial fetch of 2 pages, got %d", total)
	}
}

func TestFetchRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"customers":[{"id":7}]}`)
	}))
	defer server.Close()

	client := testClient(t, server)
	total, err := client.FetchObjects(context.Background(), models.ObjectTypeCustomer, nil, func([]json.RawMessage) error { return nil })
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if total != 1 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("total=%d calls=%d, want 1 object in 2 calls", total, calls)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(t, server)
	_, err := client.FetchObjectByID(context.Background(), models.ObjectTypeProduct, "999")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if IsRetryable(err) {
		t.Fatal("404 must not be retryable")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("404 retried: %d calls", calls)
	}
}

func TestFetchIDTimestampMapUsesMinimalProjection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fields := r.URL.Query().Get("fields"); fields != "id,updated_at" {
			t.Errorf("fields projection = %q", fields)
		}
		fmt.Fprint(w, `{"products":[{"id":1,"updated_at":"2026-08-01T00:00:00Z"},{"id":2,"updated_at":null}]}`)
	}))
	defer server.Close()

	client := testClient(t, server)
	m, complete, err := client.FetchIDTimestampMap(context.Background(), models.ObjectTypeProduct)
	if err != nil {
		t.Fatalf("FetchIDTimestampMap: %v", err)
	}
	if !complete {
		t.Fatal("single-page walk should be complete")
	}
	if len(m) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m))
	}
	if m["1"] == nil || m["2"] != nil {
		t.Fatalf("timestamps wrong: %v", m)
	}
}

func TestParseLinkNext(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{`<https://shop.myshopify.com/admin/api/2024-01/orders.json?page_info=abc>; rel="next"`, "https://shop.myshopify.com/admin/api/2024-01/orders.json?page_info=abc"},
		{`<https://x/prev>; rel="previous", <https://x/next>; rel="next"`, "https://x/next"},
		{`<https://x/prev>; rel="previous"`, ""},
		{``, ""},
		{`garbage`, ""},
	}
	for _, tc := range cases {
		if got := parseLinkNext(tc.header); got != tc.want {
			t.Errorf("parseLinkNext(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
