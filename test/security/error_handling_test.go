package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/hive-corporation/cticollector/internal/adapter/handler"
	"github.com/hive-corporation/cticollector/internal/core/domain"
)

const secretDetail = "pq: password authentication failed for user \"admin\" at 10.0.0.5"

// leakyReader fails every call with an error carrying backend internals.
type leakyReader struct{}

func (leakyReader) Get(ctx context.Context, indicator string, iocType domain.IOCType) (*domain.Record, error) {
	return nil, errors.New(secretDetail)
}

func (leakyReader) QueryStats(ctx context.Context, since time.Time) (domain.Stats, error) {
	return domain.Stats{}, errors.New(secretDetail)
}

func (leakyReader) Find(ctx context.Context, q domain.Query) ([]domain.Record, error) {
	return nil, errors.New(secretDetail)
}

func (leakyReader) Logs(ctx context.Context, q domain.LogQuery) ([]domain.CollectionLog, error) {
	return nil, errors.New(secretDetail)
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestErrorHandling_InternalErrorsNotLeaked(t *testing.T) {
	api := handler.NewRestHandler(leakyReader{}).Router("", http.NotFoundHandler())

	for _, target := range []string{
		"/api/v1/iocs",
		"/api/v1/iocs/check?value=1.2.3.4",
		"/api/v1/stats",
		"/api/v1/logs",
		"/api/v1/iocs/feed?format=stix",
	} {
		rec := serve(api, http.MethodGet, target, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "password", target)
		assert.NotContains(t, rec.Body.String(), "10.0.0.5", target)
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"), target)
	}
}

func TestErrorHandling_GRPCInternalErrorsNotLeaked(t *testing.T) {
	srv := handler.NewGrpcServer(leakyReader{})

	_, err := srv.CheckIOC(context.Background(), wrapperspb.String("1.2.3.4"))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotContains(t, err.Error(), "password")

	_, err = srv.Stats(context.Background(), &emptypb.Empty{})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotContains(t, err.Error(), "password")
}

func TestErrorHandling_OversizedEnrichBody(t *testing.T) {
	api := handler.NewRestHandler(leakyReader{}).Router("", http.NotFoundHandler())

	huge := `{"values":["` + strings.Repeat("a", 2<<20) + `"]}`
	rec := serve(api, http.MethodPost, "/api/v1/iocs/enrich", huge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	values := make([]string, 101)
	for i := range values {
		values[i] = `"1.2.3.4"`
	}
	rec = serve(api, http.MethodPost, "/api/v1/iocs/enrich", `{"values":[`+strings.Join(values, ",")+`]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorHandling_AuthFailureBody(t *testing.T) {
	api := handler.NewRestHandler(leakyReader{}).Router("s3cret", http.NotFoundHandler())

	rec := serve(api, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "s3cret")
}

func TestErrorHandling_UnknownRoute(t *testing.T) {
	api := handler.NewRestHandler(leakyReader{}).Router("", http.NotFoundHandler())
	assert.Equal(t, http.StatusNotFound, serve(api, http.MethodGet, "/api/v1/webhooks/sentinelone", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(api, http.MethodDelete, "/api/v1/iocs", "").Code)
}
