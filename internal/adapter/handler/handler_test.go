package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/cticollector/internal/adapter/repository"
	"github.com/hive-corporation/cticollector/internal/core/domain"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *repository.MemoryRepository {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	records := []*domain.Record{
		{
			Indicator: "198.51.100.7", Type: domain.IPv4, Sources: []string{"abuseipdb", "urlhaus"},
			FirstSeen: fixedNow.Add(-48 * time.Hour), LastSeen: fixedNow.Add(-time.Hour),
			SeenCount: 3, Confidence: domain.LevelHigh, ThreatLevel: domain.LevelHigh, Version: 1,
		},
		{
			Indicator: "http://evil.example.com", Type: domain.URL, Sources: []string{"otx"},
			FirstSeen: fixedNow.Add(-30 * 24 * time.Hour), LastSeen: fixedNow.Add(-20 * 24 * time.Hour),
			SeenCount: 1, Confidence: domain.LevelHigh, ThreatLevel: domain.LevelMedium, Version: 1,
		},
		{
			Indicator: "evil.example.com", Type: domain.Domain, Sources: []string{"otx"},
			FirstSeen: fixedNow.Add(-2 * time.Hour), LastSeen: fixedNow.Add(-2 * time.Hour),
			SeenCount: 1, Confidence: domain.LevelMedium, ThreatLevel: domain.LevelLow, Version: 1,
		},
	}
	for _, r := range records {
		require.NoError(t, repo.Upsert(ctx, r))
	}

	require.NoError(t, repo.AppendLog(ctx, domain.CollectionLog{RunID: "r1", Source: "otx", RunTime: fixedNow.Add(-2 * time.Hour), Processed: 2, New: 2, Status: domain.StatusSuccess}))
	require.NoError(t, repo.AppendLog(ctx, domain.CollectionLog{RunID: "r1", Source: "abuseipdb", RunTime: fixedNow.Add(-2 * time.Hour), Status: domain.StatusFailed, ErrorDetail: "HTTP 401"}))
	return repo
}

func newTestRouter(t *testing.T, token string) (http.Handler, *repository.MemoryRepository) {
	repo := seedStore(t)
	h := NewRestHandler(repo)
	h.now = func() time.Time { return fixedNow }
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	return h.Router(token, metrics), repo
}

func do(t *testing.T, h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t, "secret")
	rec := do(t, h, http.MethodGet, "/api/v1/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "2024-03-10T12:00:00Z", body["timestamp"])
}

func TestAuthMiddleware(t *testing.T) {
	h, _ := newTestRouter(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/iocs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/iocs", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/iocs", "", "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", "", "Authorization", "Bearer secret").Code)
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	h, _ := newTestRouter(t, "")
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/iocs", "").Code)
}

func TestCheckIOC(t *testing.T) {
	h, _ := newTestRouter(t, "")

	tests := []struct {
		name       string
		value      string
		wantStatus int
		wantExists bool
		wantType   string
	}{
		{"stored ip with leading zero", "198.51.100.007", http.StatusOK, true, "ipv4"},
		{"url canonicalized", "HTTP://Evil.Example.COM:80/", http.StatusOK, true, "url"},
		{"unknown domain", "benign.example.org", http.StatusOK, false, "domain"},
		{"garbage", "not_an_ioc", http.StatusBadRequest, false, ""},
		{"missing", "", http.StatusBadRequest, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/v1/iocs/check?value="+tt.value, "")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := decode(t, rec)
			assert.Equal(t, tt.wantExists, body["exists"])
			assert.Equal(t, tt.wantType, body["type"])
			if tt.wantExists {
				assert.NotNil(t, body["record"])
				assert.NotZero(t, body["confidence_score"])
			}
		})
	}
}

func TestEnrichIOCs(t *testing.T) {
	h, _ := newTestRouter(t, "")

	rec := do(t, h, http.MethodPost, "/api/v1/iocs/enrich", `{"values":["198.51.100.7","garbage value","evil.example.com","1.1.1.1"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.EqualValues(t, 4, body["count"])
	assert.EqualValues(t, 2, body["found"])

	results := body["results"].([]any)
	assert.Equal(t, "unrecognized indicator", results[1].(map[string]any)["error"])
	assert.Equal(t, false, results[3].(map[string]any)["exists"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/iocs/enrich", `{"values":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/iocs/enrich", `nope`).Code)
}

func TestListIOCs(t *testing.T) {
	h, _ := newTestRouter(t, "")

	rec := do(t, h, http.MethodGet, "/api/v1/iocs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 3, body["count"])
	assert.EqualValues(t, domain.DefaultQueryLimit, body["limit"])

	first := body["iocs"].([]any)[0].(map[string]any)
	assert.Equal(t, "198.51.100.7", first["indicator"], "most recently seen first")

	cases := []struct {
		target string
		want   int
	}{
		{"/api/v1/iocs?type=domain", 1},
		{"/api/v1/iocs?source=otx", 2},
		{"/api/v1/iocs?min_threat=high", 1},
		{"/api/v1/iocs?since=7d", 2},
		{"/api/v1/iocs?since=3h", 2},
		{"/api/v1/iocs?until=2024-03-01T00:00:00Z", 1},
		{"/api/v1/iocs?q=EVIL", 2},
		{"/api/v1/iocs?limit=1&offset=1", 1},
		{"/api/v1/iocs?offset=10", 0},
	}
	for _, tc := range cases {
		rec := do(t, h, http.MethodGet, tc.target, "")
		require.Equal(t, http.StatusOK, rec.Code, tc.target)
		assert.EqualValues(t, tc.want, decode(t, rec)["count"], tc.target)
	}

	for _, bad := range []string{"type=package", "min_threat=extreme", "since=yesterday", "limit=0", "limit=5000", "offset=-1"} {
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/iocs?"+bad, "").Code, bad)
	}
}

func TestStats(t *testing.T) {
	h, _ := newTestRouter(t, "")

	rec := do(t, h, http.MethodGet, "/api/v1/stats?days=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)

	assert.EqualValues(t, 7, body["window_days"])
	assert.EqualValues(t, 0.5, body["success_rate"])

	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 3, stats["total_iocs"])
	assert.EqualValues(t, 2, stats["collection_runs"])
	recent := stats["recent_activity"].(map[string]any)
	assert.EqualValues(t, 1, recent["2024-03-08"])
	assert.EqualValues(t, 1, recent["2024-03-10"])
	assert.NotContains(t, recent, "2024-02-09")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/stats?days=0", "").Code)
}

func TestLogs(t *testing.T) {
	h, _ := newTestRouter(t, "")

	body := decode(t, do(t, h, http.MethodGet, "/api/v1/logs", ""))
	assert.EqualValues(t, 2, body["count"])

	body = decode(t, do(t, h, http.MethodGet, "/api/v1/logs?source=abuseipdb", ""))
	require.EqualValues(t, 1, body["count"])
	entry := body["logs"].([]any)[0].(map[string]any)
	assert.Equal(t, "failed", entry["status"])
	assert.Equal(t, "HTTP 401", entry["error_detail"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/logs?limit=abc", "").Code)
}

func TestGetIOCFeed(t *testing.T) {
	h, _ := newTestRouter(t, "")

	rec := do(t, h, http.MethodGet, "/api/v1/iocs/feed?format=csv&since=2024-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 4)

	rec = do(t, h, http.MethodGet, "/api/v1/iocs/feed?format=stix&since=3650d", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type": "bundle"`)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/iocs/feed?format=xml", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/iocs/feed?since=soon", "").Code)
}

func TestStoreUnavailable(t *testing.T) {
	h, repo := newTestRouter(t, "")
	require.NoError(t, repo.Close())

	for _, target := range []string{"/api/v1/iocs", "/api/v1/iocs/check?value=1.2.3.4", "/api/v1/stats", "/api/v1/logs", "/api/v1/iocs/feed?format=cef"} {
		rec := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "memory repository", target)
	}
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("2d", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-48*time.Hour), got)

	got, err = parseTime("90m", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-90*time.Minute), got)

	_, err = parseTime("-1h", fixedNow)
	assert.Error(t, err)
}
