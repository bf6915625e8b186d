package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/instruments/EUR_USD/candles" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Expected bearer auth, got %q", got)
		}
		if got := r.URL.Query().Get("granularity"); got != "H4" {
			t.Errorf("Expected granularity H4, got %s", got)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"instrument":  "EUR_USD",
			"granularity": "H4",
			"candles": []map[string]interface{}{
				{
					"complete": true,
					"volume":   120,
					"time":     "2026-01-05T08:00:00Z",
					"mid":      map[string]string{"o": "1.10000", "h": "1.10110", "l": "1.09950", "c": "1.10090"},
				},
				{
					"complete": false,
					"volume":   40,
					"time":     "2026-01-05T12:00:00Z",
					"mid":      map[string]string{"o": "1.10090", "h": "1.10150", "l": "1.10080", "c": "1.10120"},
				},
			},
		})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Token: "test-token", AccountID: "001", BaseURL: server.URL})

	candles, err := client.FetchCandles(context.Background(), "EUR_USD", H4, 2)
	if err != nil {
		t.Fatalf("FetchCandles failed: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(candles))
	}
	first := candles[0]
	if first.Open != 1.10000 || first.High != 1.10110 || first.Low != 1.09950 || first.Close != 1.10090 {
		t.Errorf("First candle OHLC wrong: %+v", first)
	}
	if !first.Complete {
		t.Error("First candle should be complete")
	}
	if candles[1].Complete {
		t.Error("Last candle should be incomplete")
	}
	if first.Instrument != "EUR_USD" || first.Granularity != H4 {
		t.Errorf("Candle identity wrong: %s %s", first.Instrument, first.Granularity)
	}
}

func TestFetchCandlesRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("from"); got != "2026-01-05T00:00:00Z" {
			t.Errorf("Expected from param, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"instrument":  "EUR_USD",
			"granularity": "H1",
			"candles": []map[string]interface{}{
				{
					"complete": true,
					"time":     "2026-01-05T00:00:00Z",
					"mid":      map[string]string{"o": "1.10000", "h": "1.10050", "l": "1.09950", "c": "1.10020"},
				},
				{
					"complete": true,
					"time":     "2026-01-05T01:00:00Z",
					"mid":      map[string]string{"o": "1.10020", "h": "1.10070", "l": "1.09990", "c": "1.10040"},
				},
				{
					"complete": true,
					"time":     "2026-01-05T02:00:00Z",
					"mid":      map[string]string{"o": "1.10040", "h": "1.10090", "l": "1.10010", "c": "1.10060"},
				},
			},
		})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Token: "t", AccountID: "001", BaseURL: server.URL})

	from := mustParseTime(t, "2026-01-05T00:00:00Z")
	to := mustParseTime(t, "2026-01-05T02:00:00Z")

	candles, err := client.FetchCandlesRange(context.Background(), "EUR_USD", H1, from, to)
	if err != nil {
		t.Fatalf("FetchCandlesRange failed: %v", err)
	}

	// The 02:00 candle sits at the exclusive end of the range.
	if len(candles) != 2 {
		t.Fatalf("Expected 2 candles, got %d", len(candles))
	}
	if !candles[0].Time.Equal(from) {
		t.Errorf("Expected first candle at %v, got %v", from, candles[0].Time)
	}
	if candles[1].Close != 1.10040 {
		t.Errorf("Expected second close 1.10040, got %v", candles[1].Close)
	}
}

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return ts.UTC()
}

func TestGetAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/accounts/001/summary" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"account": map[string]interface{}{
				"NAV":            "10250.5000",
				"balance":        "10000.0000",
				"unrealizedPL":   "250.5000",
				"openTradeCount": 2,
			},
		})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Token: "t", AccountID: "001", BaseURL: server.URL})

	account, err := client.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}

	if account.Equity.String() != "10250.5" {
		t.Errorf("Expected equity 10250.5, got %s", account.Equity)
	}
	if account.OpenPositions != 2 {
		t.Errorf("Expected 2 open positions, got %d", account.OpenPositions)
	}
}

func TestClientRetriesTransientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"account": map[string]interface{}{
				"NAV": "10000", "balance": "10000", "unrealizedPL": "0", "openTradeCount": 0,
			},
		})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Token: "t", AccountID: "001", BaseURL: server.URL})

	if testing.Short() {
		t.Skip("retry backoff sleeps; skipping in short mode")
	}

	if _, err := client.GetAccount(context.Background()); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestClientDoesNotRetryPermanentErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Token: "bad", AccountID: "001", BaseURL: server.URL})

	_, err := client.GetAccount(context.Background())
	if err == nil {
		t.Fatal("Expected error for 401 response")
	}
	if Transient(err) {
		t.Errorf("401 should be permanent, got transient: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected exactly 1 attempt for permanent error, got %d", got)
	}
}

func TestPlaceOrderRejectedWithoutFill(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"orderCancelTransaction": map[string]string{"reason": "INSUFFICIENT_MARGIN"},
		})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Token: "t", AccountID: "001", BaseURL: server.URL})

	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Instrument: "EUR_USD", Units: 1000, StopLoss: 1.09, TakeProfit: 1.12,
	})
	if err == nil {
		t.Fatal("Expected error when order is cancelled")
	}
}
