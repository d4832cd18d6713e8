package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"park_reports/internal/events"
	"park_reports/internal/metrics"
	"park_reports/internal/queue"
	"park_reports/internal/session"
	"park_reports/internal/store"
)

func setupTest(t *testing.T) (*http.ServeMux, *store.Store, *events.Bus) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	q := queue.New(8, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)
	bus := events.NewBus()
	router := NewRouter(st, q, session.NewMemoryStore(), metrics.New(), bus)
	mux := http.NewServeMux()
	router.Register(mux)
	return mux, st, bus
}

func get(mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestAliveEndpoint(t *testing.T) {
	mux, _, _ := setupTest(t)
	rr := get(mux, "/")
	if rr.Code != http.StatusOK || rr.Body.String() != "Bot attivo" {
		t.Fatalf("got %d %q", rr.Code, rr.Body.String())
	}
	if rr := get(mux, "/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	mux, _, _ := setupTest(t)
	if rr := get(mux, "/ops/health"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	mux, _, _ := setupTest(t)
	rr := get(mux, "/ops/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"metrics", "queue", "active_sessions", "stream_clients", "uptime_sec"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("status missing %s: %s", key, rr.Body.String())
		}
	}
}

func TestReportsGeoJSON(t *testing.T) {
	mux, st, _ := setupTest(t)
	ctx := context.Background()
	if err := st.RecordReport(ctx, store.Report{ID: "r1", Category: "Fauna e Flora", Description: "Orso avvistato", Latitude: 46.1, Longitude: 10.8, ReportedAt: "2025-07-01 10:30:00"}); err != nil {
		t.Fatal(err)
	}
	rr := get(mux, "/api/reports?limit=5")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var fc struct {
		Type     string    `json:"type"`
		Features []Feature `json:"features"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
		t.Fatalf("collection = %+v", fc)
	}
	f := fc.Features[0]
	if f.Geometry.Coordinates != [2]float64{10.8, 46.1} || f.Properties["tipo"] != "Fauna e Flora" {
		t.Fatalf("feature = %+v", f)
	}
	if rr := get(mux, "/api/reports?limit=zero"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestReportDetail(t *testing.T) {
	mux, st, _ := setupTest(t)
	ctx := context.Background()
	_ = st.RecordReport(ctx, store.Report{ID: "r1", Category: "Altro"})
	_ = st.RecordSinkResult(ctx, "r1", "sheet", nil, time.Now())
	rr := get(mux, "/api/reports/r1")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"sink":"sheet"`) {
		t.Fatalf("detail %d %s", rr.Code, rr.Body.String())
	}
	if rr := get(mux, "/api/reports/missing"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestStreamPushesFinalizedReports(t *testing.T) {
	mux, _, bus := setupTest(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ops/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	bus.Publish(events.ReportFinalized{ReportID: "r9", Category: "Altro"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.ReportFinalized
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.ReportID != "r9" || ev.Category != "Altro" {
		t.Fatalf("event = %+v", ev)
	}
}
