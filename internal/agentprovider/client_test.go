package agentprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPlaceCall_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Response{Success: true, RunID: "R1", ExternalURL: "http://x"})
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL, Timeout: 5 * time.Second})

	resp, err := client.PlaceCall(context.Background(), Request{BatchID: "b1", SupplierID: "s1"})
	if err != nil {
		t.Fatalf("PlaceCall failed: %v", err)
	}
	if !resp.Success || resp.RunID != "R1" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestPlaceCall_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"503"}`))
	}))
	defer server.Close()

	client := New(&Config{BaseURL: server.URL, Timeout: 5 * time.Second, CircuitBreakerEnabled: false})

	_, err := client.PlaceCall(context.Background(), Request{BatchID: "b1", SupplierID: "s1"})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestPlaceCall_CircuitBreakerOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(&Config{
		BaseURL:                   server.URL,
		Timeout:                   5 * time.Second,
		CircuitBreakerEnabled:     true,
		CircuitBreakerRequests:    5,
		CircuitBreakerInterval:    time.Minute,
		CircuitBreakerRatio:       0.5,
		CircuitBreakerTimeout:     time.Minute,
		CircuitBreakerMinRequests: 2,
	})

	for i := 0; i < 3; i++ {
		_, _ = client.PlaceCall(context.Background(), Request{BatchID: "b1", SupplierID: "s1"})
	}

	_, err := client.PlaceCall(context.Background(), Request{BatchID: "b1", SupplierID: "s1"})
	if err != ErrProviderUnavailable {
		t.Errorf("expected ErrProviderUnavailable once breaker trips, got %v", err)
	}
}
