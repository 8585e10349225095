package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		EnableCircuitBreaker: true,
		MaxFailures:          5,
		CircuitTimeout:       30 * time.Second,
		MaxRetries:           3,
		InitialInterval:      10 * time.Millisecond,
		MaxInterval:          50 * time.Millisecond,
		UserAgent:            "cticollector-test",
	}
}

func TestNew(t *testing.T) {
	config := DefaultConfig()
	client := New("otx", 30*time.Second, config)

	if client.client == nil {
		t.Error("HTTP client is nil")
	}
	if config.EnableCircuitBreaker && client.breaker == nil {
		t.Error("Circuit breaker is nil when enabled")
	}
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("FEED_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("FEED_CIRCUIT_BREAKER_ENABLED", "false")

	config := DefaultConfig()
	if config.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", config.MaxRetries)
	}
	if config.EnableCircuitBreaker {
		t.Error("circuit breaker should be disabled")
	}
}

func TestGet_ReturnsBodyAndSendsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-OTX-API-KEY") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("User-Agent") != "cticollector-test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("8.8.8.8\n"))
	}))
	defer server.Close()

	client := New("otx", 5*time.Second, fastConfig())
	body, err := client.Get(context.Background(), server.URL, http.Header{"X-OTX-API-KEY": {"secret"}})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(body) != "8.8.8.8\n" {
		t.Errorf("body = %q", body)
	}
}

func TestGet_OversizedBodyIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1.2.3.4\n1.2.3.45\n"))
	}))
	defer server.Close()

	config := fastConfig()
	config.MaxBodyBytes = int64(len("1.2.3.4\n1.2.3.4"))
	client := New("feed", 5*time.Second, config)

	body, err := client.Get(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	if body != nil {
		t.Errorf("truncated body returned: %q", body)
	}

	config.MaxBodyBytes = int64(len("1.2.3.4\n1.2.3.45\n"))
	body, err = New("feed", 5*time.Second, config).Get(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("body of exactly the limit should pass: %v", err)
	}
	if string(body) != "1.2.3.4\n1.2.3.45\n" {
		t.Errorf("body = %q", body)
	}
}

func TestRetry5xxErrors(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New("urlhaus", 5*time.Second, fastConfig())
	body, err := client.Get(context.Background(), server.URL, nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestNoRetryOn4xxErrors(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	config := fastConfig()
	config.EnableCircuitBreaker = false
	client := New("abuseipdb", 5*time.Second, config)

	_, err := client.Get(context.Background(), server.URL, nil)
	if err == nil {
		t.Fatal("Expected error for 403 status")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected StatusError 403, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("Expected 1 attempt, got %d (4xx should not be retried)", got)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	config := fastConfig()
	config.MaxFailures = 3
	config.MaxRetries = 0
	client := New("malwarebazaar", 5*time.Second, config)

	var gotOpen bool
	for i := 0; i < 5; i++ {
		_, err := client.Get(context.Background(), server.URL, nil)
		if err != nil && strings.Contains(err.Error(), "circuit breaker is open") {
			gotOpen = true
		}
	}
	if !gotOpen {
		t.Error("Expected circuit breaker to open")
	}
}

func TestDisabledCircuitBreaker(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := fastConfig()
	config.EnableCircuitBreaker = false
	config.MaxRetries = 0
	client := New("list", 5*time.Second, config)

	for i := 0; i < 5; i++ {
		client.Get(context.Background(), server.URL, nil)
	}
	if got := atomic.LoadInt32(&attempts); got != 5 {
		t.Errorf("Expected 5 attempts, got %d", got)
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	config := fastConfig()
	config.EnableCircuitBreaker = false
	client := New("otx", 5*time.Second, config)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, server.URL, nil)
	if err == nil {
		t.Fatal("Expected error due to context cancellation")
	}
	if !strings.Contains(err.Error(), "context") && !strings.Contains(err.Error(), "deadline") {
		t.Errorf("Expected context/deadline error, got: %v", err)
	}
}

func TestShouldRetry(t *testing.T) {
	client := New("otx", 30*time.Second, DefaultConfig())

	tests := []struct {
		name       string
		err        error
		statusCode int
		want       bool
	}{
		{"500 error", nil, http.StatusInternalServerError, true},
		{"502 error", nil, http.StatusBadGateway, true},
		{"503 error", nil, http.StatusServiceUnavailable, true},
		{"429 error", nil, http.StatusTooManyRequests, true},
		{"400 error", nil, http.StatusBadRequest, false},
		{"401 error", nil, http.StatusUnauthorized, false},
		{"404 error", nil, http.StatusNotFound, false},
		{"200 success", nil, http.StatusOK, false},
		{"context deadline", context.DeadlineExceeded, 0, true},
		{"connection refused", fmt.Errorf("connection refused"), 0, true},
		{"unknown error", fmt.Errorf("unknown error"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.statusCode > 0 {
				resp = &http.Response{StatusCode: tt.statusCode}
			}
			if got := client.shouldRetry(tt.err, resp); got != tt.want {
				t.Errorf("shouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}
