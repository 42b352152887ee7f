package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lakeline/lakeline/internal/bronze"
	"github.com/lakeline/lakeline/internal/catalog"
	"github.com/lakeline/lakeline/internal/checkpoint"
	"github.com/lakeline/lakeline/internal/config"
	"github.com/lakeline/lakeline/internal/gold"
	"github.com/lakeline/lakeline/internal/metrics"
)

// Server holds the pipeline components the operational API reads from. Every
// endpoint is read-only; the pipeline is driven by its stages, never by HTTP.
type Server struct {
	checkpoints checkpoint.Store
	catalog     *catalog.Catalog
	collector   *metrics.Collector
	log         *bronze.Log
	gold        *gold.Store
	aggregator  *gold.Aggregator
	started     time.Time
}

// NewServer creates the operational API server. log, goldStore, and
// aggregator may be nil when the corresponding stage is not running in this
// process; their endpoints then report only what is available.
func NewServer(
	checkpoints checkpoint.Store,
	cat *catalog.Catalog,
	collector *metrics.Collector,
	log *bronze.Log,
	goldStore *gold.Store,
	aggregator *gold.Aggregator,
) *Server {
	return &Server{
		checkpoints: checkpoints,
		catalog:     cat,
		collector:   collector,
		log:         log,
		gold:        goldStore,
		aggregator:  aggregator,
		started:     time.Now().UTC(),
	}
}

// Router builds the chi router with all endpoints mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RecoveryMiddleware, RequestIDMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.collector.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/checkpoints", s.handleCheckpoints)
		r.Get("/partitions", s.handlePartitions)
		r.Get("/windows", s.handleWindows)
		r.Get("/views", s.handleViews)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// HTTPServer wraps the router in an http.Server with configured timeouts.
func (s *Server) HTTPServer(cfg config.HTTPConfig) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	positions, err := s.checkpoints.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": positions})
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	layer := r.URL.Query().Get("layer")
	partitions, err := s.catalog.List(r.Context(), layer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"partitions": partitions})
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	if s.gold == nil {
		writeError(w, http.StatusNotFound, "gold stage not running in this process", GetRequestID(r.Context()))
		return
	}
	windows, err := s.gold.Windows(r.Context(), r.URL.Query().Get("view"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"windows": windows})
}

type viewStatus struct {
	Name         string           `json:"name"`
	Watermarked  bool             `json:"watermarked"`
	Watermark    *time.Time       `json:"watermark,omitempty"`
	MaxEventTime *time.Time       `json:"max_event_time,omitempty"`
	Live         []gold.WindowRow `json:"live,omitempty"`
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	if s.aggregator == nil {
		writeError(w, http.StatusNotFound, "gold stage not running in this process", GetRequestID(r.Context()))
		return
	}
	var out []viewStatus
	for _, view := range s.aggregator.Views() {
		status := viewStatus{
			Name:        view.Spec.Name,
			Watermarked: view.Spec.Watermarked,
		}
		if wm := view.Watermark(); !wm.IsZero() {
			status.Watermark = &wm
		}
		if maxT := view.MaxEventTime(); !maxT.IsZero() {
			status.MaxEventTime = &maxT
		}
		if !view.Spec.Watermarked {
			status.Live = view.Snapshot()
		}
		out = append(out, status)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"views": out})
}

type statsResponse struct {
	Counters         metrics.Snapshot `json:"counters"`
	BronzeLogRecords uint64           `json:"bronze_log_records,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Counters: s.collector.Snapshot()}
	if s.log != nil {
		resp.BronzeLogRecords = s.log.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}
