package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lakeline/lakeline/internal/catalog"
	"github.com/lakeline/lakeline/internal/checkpoint"
	"github.com/lakeline/lakeline/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, checkpoint.Store, *catalog.Catalog, *metrics.Collector) {
	t.Helper()
	dir := t.TempDir()

	ckpt, err := checkpoint.NewSQLiteStore(filepath.Join(dir, "checkpoints.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ckpt.Close() })

	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })

	collector := metrics.NewCollector()
	return NewServer(ckpt, cat, collector, nil, nil, nil), ckpt, cat, collector
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	rec := get(t, server.Router(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestServer_Checkpoints(t *testing.T) {
	server, ckpt, _, _ := newTestServer(t)
	ctx := context.Background()

	if err := ckpt.Commit(ctx, "loc-1", 42); err != nil {
		t.Fatal(err)
	}
	if err := ckpt.Commit(ctx, "silver", 7); err != nil {
		t.Fatal(err)
	}

	rec := get(t, server.Router(), "/api/v1/checkpoints")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Checkpoints map[string]uint64 `json:"checkpoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Checkpoints["loc-1"] != 42 || body.Checkpoints["silver"] != 7 {
		t.Errorf("checkpoints = %v", body.Checkpoints)
	}
}

func TestServer_PartitionsByLayer(t *testing.T) {
	server, _, cat, _ := newTestServer(t)
	ctx := context.Background()

	if err := cat.Register(ctx, "silver", "2025-06-01", 3); err != nil {
		t.Fatal(err)
	}
	if err := cat.Register(ctx, "gold", "revenue/2025-06-01", 1); err != nil {
		t.Fatal(err)
	}

	rec := get(t, server.Router(), "/api/v1/partitions?layer=silver")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Partitions []catalog.PartitionInfo `json:"partitions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Partitions) != 1 || body.Partitions[0].PartitionKey != "2025-06-01" {
		t.Errorf("partitions = %+v", body.Partitions)
	}
}

func TestServer_Stats(t *testing.T) {
	server, _, _, collector := newTestServer(t)

	collector.IncIngested()
	collector.IncDropped("quantity_positive")

	rec := get(t, server.Router(), "/api/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Counters.RecordsIngested != 1 {
		t.Errorf("ingested = %d", body.Counters.RecordsIngested)
	}
	if body.Counters.RowsDropped["quantity_positive"] != 1 {
		t.Errorf("dropped = %v", body.Counters.RowsDropped)
	}
}

func TestServer_WindowsUnavailableWithoutGold(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	rec := get(t, server.Router(), "/api/v1/windows")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	server, _, _, collector := newTestServer(t)
	collector.IncIngested()

	rec := get(t, server.Router(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lakeline_bronze_records_ingested_total") {
		t.Error("metrics exposition missing ingest counter")
	}
}
