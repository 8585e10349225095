package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hive-corporation/cticollector/internal/adapter/exporter"
	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
	"github.com/hive-corporation/cticollector/internal/logger"
)

const (
	maxPageSize     = 1000
	maxEnrichValues = 100
	defaultStatDays = 7
)

type RestHandler struct {
	reader ports.IOCReader
	now    func() time.Time
}

func NewRestHandler(reader ports.IOCReader) *RestHandler {
	return &RestHandler{reader: reader, now: time.Now}
}

// Router wires every endpoint. An empty authToken disables auth.
func (h *RestHandler) Router(authToken string, metrics http.Handler) *mux.Router {
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	api.HandleFunc("/iocs", h.ListIOCs).Methods(http.MethodGet)
	api.HandleFunc("/iocs/check", h.CheckIOC).Methods(http.MethodGet)
	api.HandleFunc("/iocs/enrich", h.EnrichIOCs).Methods(http.MethodPost)
	api.HandleFunc("/iocs/feed", h.GetIOCFeed).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	api.HandleFunc("/logs", h.Logs).Methods(http.MethodGet)

	router.Handle("/metrics", metrics).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	router.Use(authMiddleware(authToken))
	return router
}

// Health check endpoint
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"service":   "cticollector-api",
	})
}

// CheckIOC canonicalizes ?value= and reports whether it is in the store
func (h *RestHandler) CheckIOC(w http.ResponseWriter, r *http.Request) {
	value := strings.TrimSpace(r.URL.Query().Get("value"))
	if value == "" {
		writeError(w, http.StatusBadRequest, "missing 'value' parameter")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result, err := lookup(ctx, h.reader, value)
	if err != nil {
		h.writeLookupError(w, value, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type enrichRequest struct {
	Values []string `json:"values"`
}

type enrichItem struct {
	CheckResult
	Error string `json:"error,omitempty"`
}

// EnrichIOCs checks a batch of indicators, e.g. the observables of an EDR
// alert. Unrecognized values are reported per item rather than failing the
// request.
func (h *RestHandler) EnrichIOCs(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if len(req.Values) == 0 {
		writeError(w, http.StatusBadRequest, "'values' must not be empty")
		return
	}
	if len(req.Values) > maxEnrichValues {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d values per request", maxEnrichValues))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	items := make([]enrichItem, 0, len(req.Values))
	found := 0
	for _, v := range req.Values {
		result, err := lookup(ctx, h.reader, v)
		switch {
		case err == nil:
			if result.Exists {
				found++
			}
			items = append(items, enrichItem{CheckResult: result})
		case domain.IsUnrecognized(err):
			items = append(items, enrichItem{CheckResult: CheckResult{Value: v}, Error: "unrecognized indicator"})
		default:
			h.writeLookupError(w, v, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(items),
		"found":   found,
		"results": items,
	})
}

// ListIOCs supports type, source, min_threat, since, until, q, limit, offset
func (h *RestHandler) ListIOCs(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	records, err := h.reader.Find(ctx, q)
	if err != nil {
		h.writeStoreError(w, "failed to query IOCs", err)
		return
	}
	if records == nil {
		records = []domain.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(records),
		"limit":  q.EffectiveLimit(),
		"offset": q.Offset,
		"iocs":   records,
	})
}

// Stats aggregates the store over the last ?days= days (default 7)
func (h *RestHandler) Stats(w http.ResponseWriter, r *http.Request) {
	days := defaultStatDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 3650 {
			writeError(w, http.StatusBadRequest, "invalid 'days' parameter")
			return
		}
		days = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := h.reader.QueryStats(ctx, h.now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		h.writeStoreError(w, "failed to compute stats", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"window_days":  days,
		"stats":        stats,
		"success_rate": stats.SuccessRate(),
	})
}

// Logs returns the latest collection logs, optionally for one ?source=
func (h *RestHandler) Logs(w http.ResponseWriter, r *http.Request) {
	q := domain.LogQuery{Source: r.URL.Query().Get("source")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			writeError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		q.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	logs, err := h.reader.Logs(ctx, q)
	if err != nil {
		h.writeStoreError(w, "failed to query collection logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(logs),
		"logs":  logs,
	})
}

// GetIOCFeed - Export IOCs for SIEM ingestion
func (h *RestHandler) GetIOCFeed(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")

	var sinceTime time.Time
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := parseTime(since, h.now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'since' parameter (use format like '24h', '7d' or RFC3339)")
			return
		}
		sinceTime = t
	}

	exp, err := exporter.New(format, h.reader)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported format (use 'cef', 'stix', 'json' or 'csv')")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	data, err := exp.Export(ctx, sinceTime)
	if err != nil {
		h.writeStoreError(w, "failed to export feed", err)
		return
	}

	w.Header().Set("Content-Type", exp.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(data)); err != nil {
		logger.Log().WithError(err).Warn("error writing feed response")
	}
}

func (h *RestHandler) parseQuery(r *http.Request) (domain.Query, error) {
	params := r.URL.Query()
	now := h.now()

	q := domain.Query{
		Source:   params.Get("source"),
		Contains: params.Get("q"),
	}

	if v := params.Get("type"); v != "" {
		q.Type = domain.IOCType(strings.ToLower(v))
		if !q.Type.IsValid() {
			return q, fmt.Errorf("unknown type %q", v)
		}
	}
	if v := params.Get("min_threat"); v != "" {
		level, err := domain.ParseLevel(v)
		if err != nil {
			return q, fmt.Errorf("invalid 'min_threat' parameter")
		}
		q.MinThreatLevel = level
	}
	if v := params.Get("since"); v != "" {
		t, err := parseTime(v, now)
		if err != nil {
			return q, fmt.Errorf("invalid 'since' parameter")
		}
		q.Since = t
	}
	if v := params.Get("until"); v != "" {
		t, err := parseTime(v, now)
		if err != nil {
			return q, fmt.Errorf("invalid 'until' parameter")
		}
		q.Until = t
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			return q, fmt.Errorf("'limit' must be between 1 and %d", maxPageSize)
		}
		q.Limit = n
	}
	if v := params.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid 'offset' parameter")
		}
		q.Offset = n
	}
	return q, nil
}

// parseTime accepts RFC3339, a Go duration ("36h") or whole days ("7d"),
// the latter two counted back from now.
func parseTime(v string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("invalid day count %q", v)
		}
		return now.Add(-time.Duration(n) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid duration %q", v)
	}
	return now.Add(-d), nil
}

func (h *RestHandler) writeLookupError(w http.ResponseWriter, value string, err error) {
	if domain.IsUnrecognized(err) {
		writeError(w, http.StatusBadRequest, "unrecognized indicator")
		return
	}
	logger.WithFields(map[string]interface{}{"value": value}).WithError(err).Error("❌ error checking IOC")
	h.writeStoreError(w, "failed to check IOC", err)
}

// writeStoreError keeps backend details out of the response.
func (h *RestHandler) writeStoreError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	logger.Log().WithError(err).Error(message)
	writeError(w, http.StatusInternalServerError, message)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log().WithError(err).Warn("error encoding JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
