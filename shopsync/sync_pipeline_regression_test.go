package shopsync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/models"
	"gorm.io/gorm"
)

func setupIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "shopsync_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	return db
}

func TestRawIngestionIsIdempotent(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	tenant := "tenant-ingest"

	payload := []byte(`{"id":450789469,"name":"#1001","total_price":"409.94","updated_at":"2026-08-10T12:00:00Z"}`)
	rec1, created, err := RecordSnapshot(ctx, db, tenant, models.ObjectTypeOrder, "450789469", nil, payload, models.RawSourceWebhook, "orders/create")
	if err != nil {
		t.Fatalf("RecordSnapshot: %v", err)
	}
	if !created {
		t.Fatal("first snapshot should create a row")
	}

	rec2, created, err := RecordSnapshot(ctx, db, tenant, models.ObjectTypeOrder, "450789469", nil, payload, models.RawSourceBackfill, "")
	if err != nil {
		t.Fatalf("duplicate RecordSnapshot: %v", err)
	}
	if created || rec2.ID != rec1.ID {
		t.Fatalf("duplicate payload created a new row: created=%v id=%d vs %d", created, rec2.ID, rec1.ID)
	}

	// Same content, different key order: same canonical hash, still a dup.
	reordered := []byte(`{"updated_at":"2026-08-10T12:00:00Z","total_price":"409.94","name":"#1001","id":450789469}`)
	_, created, err = RecordSnapshot(ctx, db, tenant, models.ObjectTypeOrder, "450789469", nil, reordered, models.RawSourceReconciliation, "")
	if err != nil {
		t.Fatalf("reordered RecordSnapshot: %v", err)
	}
	if created {
		t.Fatal("reordered payload must dedup against the original")
	}

	// Same remote id, changed content: a genuinely new snapshot.
	changed := []byte(`{"id":450789469,"name":"#1001","total_price":"500.00","updated_at":"2026-08-10T13:00:00Z"}`)
	_, created, err = RecordSnapshot(ctx, db, tenant, models.ObjectTypeOrder, "450789469", nil, changed, models.RawSourceWebhook, "orders/updated")
	if err != nil {
		t.Fatalf("changed RecordSnapshot: %v", err)
	}
	if !created {
		t.Fatal("changed payload must create a second row")
	}

	var count int64
	if err := db.Model(&models.IntegrationRawRecord{}).Where("tenant_id = ?", tenant).Count(&count).Error; err != nil {
		t.Fatalf("count raw records: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 raw rows, got %d", count)
	}
}

func TestFreshnessGuardIgnoresStaleReplays(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	tenant := "tenant-freshness"

	newer := []byte(`{"id":100,"title":"New Title","updated_at":"2026-08-10T12:00:05Z"}`)
	if _, _, err := RecordSnapshot(ctx, db, tenant, models.ObjectTypeProduct, "100", parseRemoteTime("2026-08-10T12:00:05Z"), newer, models.RawSourceWebhook, "products/update"); err != nil {
		t.Fatalf("RecordSnapshot newer: %v", err)
	}
	stats, err := ProcessPending(ctx, db, tenant, models.ObjectTypeProduct, 10)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Refined != 1 {
		t.Fatalf("expected 1 refined, got %+v", stats)
	}

	// A late replay of the older state must not overwrite.
	older := []byte(`{"id":100,"title":"Old Title","updated_at":"2026-08-10T12:00:00Z"}`)
	if _, _, err := RecordSnapshot(ctx, db, tenant, models.ObjectTypeProduct, "100", parseRemoteTime("2026-08-10T12:00:00Z"), older, models.RawSourceBackfill, ""); err != nil {
		t.Fatalf("RecordSnapshot older: %v", err)
	}
	stats, err = ProcessPending(ctx, db, tenant, models.ObjectTypeProduct, 10)
	if err != nil {
		t.Fatalf("ProcessPending stale: %v", err)
	}
	if stats.Refined != 0 || stats.Skipped != 1 || stats.Failed != 0 {
		t.Fatalf("stale replay should be a counted no-op, got %+v", stats)
	}

	var product models.ShopProduct
	if err := db.Where("tenant_id = ? AND remote_id = ?", tenant, "100").Take(&product).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Title != "New Title" {
		t.Fatalf("stale replay overwrote state: title=%q", product.Title)
	}

	// Both snapshots end up processed either way.
	var pending int64
	_ = db.Model(&models.IntegrationRawRecord{}).
		Where("tenant_id = ? AND processing_status = ?", tenant, models.RawStatusPending).
		Count(&pending).Error
	if pending != 0 {
		t.Fatalf("%d snapshots left pending", pending)
	}
}

func TestChildSetReplacement(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	tenant := "tenant-children"

	v1 := []byte(`{"id":200,"title":"IPod","updated_at":"2026-08-10T12:00:00Z",
		"variants":[{"id":1,"title":"A","price":"10.00"},{"id":2,"title":"B","price":"11.00"}]}`)
	if _, _, err := RecordSnapshot(ctx, db, tenant, models.ObjectTypeProduct, "200", parseRemoteTime("2026-08-10T12:00:00Z"), v1, models.RawSourceBackfill, ""); err != nil {
		t.Fatalf("RecordSnapshot v1: %v", err)
	}
	if _, err := ProcessPending(ctx, db, tenant, models.ObjectTypeProduct, 10); err != nil {
		t.Fatalf("ProcessPending v1: %v", err)
	}

	v2 := []byte(`{"id":200,"title":"IPod","updated_at":"2026-08-10T12:01:00Z",
		"variants":[{"id":2,"title":"B","price":"11.00"},{"id":3,"title":"C","price":"12.00"}]}`)
	if _, _, err := RecordSnapshot(ctx, db, tenant, models.ObjectTypeProduct, "200", parseRemoteTime("2026-08-10T12:01:00Z"), v2, models.RawSourceWebhook, "products/update"); err != nil {
		t.Fatalf("RecordSnapshot v2: %v", err)
	}
	if _, err := ProcessPending(ctx, db, tenant, models.ObjectTypeProduct, 10); err != nil {
		t.Fatalf("ProcessPending v2: %v", err)
	}

	var variants []models.ShopProductVariant
	if err := db.Where("tenant_id = ?", tenant).Order("remote_id asc").Find(&variants).Error; err != nil {
		t.Fatalf("load variants: %v", err)
	}
	if len(variants) != 2 || variants[0].RemoteId != "2" || variants[1].RemoteId != "3" {
		ids := make([]string, 0, len(variants))
		for _, v := range variants {
			ids = append(ids, v.RemoteId)
		}
		t.Fatalf("child set not replaced, variants = %v", ids)
	}
}

func TestDependencyWaitAndEscalation(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	tenant := "tenant-deps"
	t.Setenv("SYNC_REFINE_MAX_ATTEMPTS", "2")

	txnPayload := []byte(`{"id":900,"order_id":901,"kind":"sale","amount":"50.00","updated_at":"2026-08-10T12:00:00Z"}`)
	if _, _, err := RecordSnapshot(ctx, db, tenant, models.ObjectTypeTransaction, "900", nil, txnPayload, models.RawSourceWebhook, ""); err != nil {
		t.Fatalf("RecordSnapshot txn: %v", err)
	}

	// Parent order absent: the record waits, then escalates to failed.
	stats, err := ProcessPending(ctx, db, tenant, models.ObjectTypeTransaction, 10)
	if err != nil {
		t.Fatalf("ProcessPending 1: %v", err)
	}
	if stats.Skipped != 1 {
		t.Fatalf("expected 1 waiting record, got %+v", stats)
	}
	stats, err = ProcessPending(ctx, db, tenant, models.ObjectTypeTransaction, 10)
	if err != nil {
		t.Fatalf("ProcessPending 2: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected escalation to failed on attempt 2, got %+v", stats)
	}

	// Parent arrives; a reset brings the failed record back through.
	orderPayload := []byte(`{"id":901,"name":"#2001","total_price":"50.00","updated_at":"2026-08-10T12:00:00Z"}`)
	if _, _, err := RecordSnapshot(ctx, db, tenant, models.ObjectTypeOrder, "901", nil, orderPayload, models.RawSourceBackfill, ""); err != nil {
		t.Fatalf("RecordSnapshot order: %v", err)
	}
	if _, err := ProcessPending(ctx, db, tenant, models.ObjectTypeOrder, 10); err != nil {
		t.Fatalf("ProcessPending order: %v", err)
	}

	reset, err := ResetToPending(ctx, db, tenant, models.ObjectTypeTransaction, models.RawStatusFailed, nil)
	if err != nil {
		t.Fatalf("ResetToPending: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset row, got %d", reset)
	}
	stats, err = ProcessPending(ctx, db, tenant, models.ObjectTypeTransaction, 10)
	if err != nil {
		t.Fatalf("ProcessPending 3: %v", err)
	}
	if stats.Refined != 1 {
		t.Fatalf("expected transaction to refine after parent landed, got %+v", stats)
	}

	var txn models.ShopTransaction
	if err := db.Where("tenant_id = ? AND remote_id = ?", tenant, "900").Take(&txn).Error; err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if txn.OrderRemoteId != "901" {
		t.Fatalf("transaction parent link = %q", txn.OrderRemoteId)
	}
}

func TestReconciliationConverges(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	tenant := "tenant-reconcile"

	// Local state before the audit: P1 stale, P3 a zombie.
	seed := func(payload string, ts string) {
		t.Helper()
		id, _ := extractIdentity([]byte(payload), models.ObjectTypeProduct)
		if _, _, err := RecordSnapshot(ctx, db, tenant, models.ObjectTypeProduct, id, parseRemoteTime(ts), []byte(payload), models.RawSourceBackfill, ""); err != nil {
			t.Fatalf("seed RecordSnapshot: %v", err)
		}
	}
	seed(`{"id":1,"title":"P1 old","updated_at":"2026-08-01T00:00:00Z"}`, "2026-08-01T00:00:00Z")
	seed(`{"id":3,"title":"P3 zombie","updated_at":"2026-08-01T00:00:00Z"}`, "2026-08-01T00:00:00Z")
	if _, err := ProcessPending(ctx, db, tenant, models.ObjectTypeProduct, 10); err != nil {
		t.Fatalf("seed ProcessPending: %v", err)
	}

	// Remote truth: P1 updated, P2 new, P3 gone.
	remote := map[string]string{
		"1": `{"id":1,"title":"P1 new","updated_at":"2026-08-02T00:00:00Z"}`,
		"2": `{"id":2,"title":"P2","updated_at":"2026-08-02T00:00:00Z"}`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/products.json") {
			fmt.Fprintf(w, `{"products":[%s,%s]}`, remote["1"], remote["2"])
			return
		}
		for id, payload := range remote {
			if strings.HasSuffix(r.URL.Path, "/products/"+id+".json") {
				fmt.Fprintf(w, `{"product":%s}`, payload)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	conn := models.IntegrationConnection{
		TenantId:   tenant,
		Provider:   models.IntegrationProviderShopify,
		Status:     models.IntegrationStatusActive,
		ShopDomain: "reconcile.myshopify.com",
	}
	if err := db.Create(&conn).Error; err != nil {
		t.Fatalf("create connection: %v", err)
	}

	client := testClient(t, server)
	result, err := ReconcileObjectType(ctx, db, &conn, client, models.ObjectTypeProduct)
	if err != nil {
		t.Fatalf("ReconcileObjectType: %v", err)
	}
	if result.Healed != 2 || result.Pruned != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	var products []models.ShopProduct
	if err := db.Where("tenant_id = ?", tenant).Order("remote_id asc").Find(&products).Error; err != nil {
		t.Fatalf("load products: %v", err)
	}
	if len(products) != 2 || products[0].RemoteId != "1" || products[1].RemoteId != "2" {
		t.Fatalf("local state did not converge: %+v", products)
	}
	if products[0].Title != "P1 new" {
		t.Fatalf("stale product not healed: %q", products[0].Title)
	}

	// Re-running against the same remote is a no-op.
	result, err = ReconcileObjectType(ctx, db, &conn, client, models.ObjectTypeProduct)
	if err != nil {
		t.Fatalf("ReconcileObjectType rerun: %v", err)
	}
	if result.Healed != 0 || result.Pruned != 0 || result.Unchanged != 2 {
		t.Fatalf("rerun should be a no-op, got %+v", result)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shopsync-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=shopsync_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
