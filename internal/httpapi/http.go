package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"park_reports/internal/events"
	"park_reports/internal/metrics"
	"park_reports/internal/queue"
	"park_reports/internal/store"
)

// Ledger is the read side of the submission ledger.
type Ledger interface {
	Health(ctx context.Context) error
	ListReports(ctx context.Context, limit int) ([]store.Report, error)
	GetReport(ctx context.Context, id string) (store.Report, error)
	SinkResults(ctx context.Context, reportID string) ([]store.SinkResult, error)
}

// QueueStats reports worker pool state.
type QueueStats interface {
	Stats() queue.Stats
	Healthy() bool
}

// SessionCounter reports the number of in-progress submissions.
type SessionCounter interface {
	Len() int
}

// Router builds HTTP handlers for /, /api and /ops.
type Router struct {
	ledger   Ledger
	queue    QueueStats
	sessions SessionCounter
	metrics  *metrics.Metrics
	bus      *events.Bus
	started  time.Time
}

func NewRouter(ledger Ledger, q QueueStats, sessions SessionCounter, m *metrics.Metrics, bus *events.Bus) *Router {
	return &Router{ledger: ledger, queue: q, sessions: sessions, metrics: m, bus: bus, started: time.Now()}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", r.alive)
	mux.HandleFunc("/ops/health", r.health)
	mux.HandleFunc("/ops/status", r.status)
	mux.HandleFunc("/ops/stream", r.stream)
	mux.HandleFunc("/api/reports", r.reports)
	mux.HandleFunc("/api/reports/", r.reportDetail)
}

func (r *Router) alive(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Bot attivo"))
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.ledger.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if r.queue != nil && !r.queue.Healthy() {
		http.Error(w, "queue not running", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	payload := map[string]any{
		"uptime_sec": int64(time.Since(r.started).Seconds()),
	}
	if r.metrics != nil {
		payload["metrics"] = r.metrics.Snapshot()
	}
	if r.queue != nil {
		payload["queue"] = r.queue.Stats()
	}
	if r.sessions != nil {
		payload["active_sessions"] = r.sessions.Len()
	}
	if r.bus != nil {
		payload["stream_clients"] = r.bus.Subscribers()
	}
	respondJSON(w, payload)
}

func (r *Router) reports(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := r.ledger.ListReports(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(FeatureCollection(list)); err != nil {
		log.Printf("write json: %v", err)
	}
}

func (r *Router) reportDetail(w http.ResponseWriter, req *http.Request) {
	id := strings.Trim(strings.TrimPrefix(req.URL.Path, "/api/reports/"), "/")
	if id == "" {
		http.NotFound(w, req)
		return
	}
	rep, err := r.ledger.GetReport(req.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, req)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results, err := r.ledger.SinkResults(req.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]any{"report": rep, "sinks": results})
}

// Feature is a GeoJSON point feature for one report.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// FeatureCollection renders ledger reports as GeoJSON, longitude first.
func FeatureCollection(list []store.Report) map[string]any {
	features := make([]Feature, 0, len(list))
	for _, rep := range list {
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Point", Coordinates: [2]float64{rep.Longitude, rep.Latitude}},
			Properties: map[string]any{
				"id":         rep.ID,
				"foto":       rep.PhotoRef,
				"tipo":       rep.Category,
				"didascalia": rep.Description,
				"data":       rep.ReportedAt,
			},
		})
	}
	return map[string]any{"type": "FeatureCollection", "features": features}
}

func respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write json: %v", err)
	}
}
