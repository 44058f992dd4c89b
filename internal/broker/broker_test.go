package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockAdapterPinnedQuote(t *testing.T) {
	m := NewMockAdapter(100, 0.5, true)
	m.SetQuote("EURUSD", 1.25)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		q, err := m.GetQuote(ctx, "EURUSD")
		if err != nil {
			t.Fatalf("GetQuote: %v", err)
		}
		if got := q.Mid(); got != 1.25 {
			t.Fatalf("pinned mid = %v, want 1.25", got)
		}
	}
}

func TestMockAdapterFailNextFailsOnce(t *testing.T) {
	m := NewMockAdapter(100, 0.5, true)
	boom := fmt.Errorf("%w: transient", ErrAdapter)
	m.FailNext(boom)

	ctx := context.Background()
	if _, err := m.GetQuote(ctx, "EURUSD"); !errors.Is(err, ErrAdapter) {
		t.Fatalf("first call err = %v, want ErrAdapter", err)
	}
	if _, err := m.GetQuote(ctx, "EURUSD"); err != nil {
		t.Fatalf("second call err = %v, want nil", err)
	}
}

func TestMockAdapterRandomWalkStaysPositive(t *testing.T) {
	m := NewMockAdapter(1, 5, true) // steps larger than the start price
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		q, err := m.GetQuote(ctx, "X")
		if err != nil {
			t.Fatalf("GetQuote: %v", err)
		}
		if q.Mid() <= 0 {
			t.Fatalf("walk went non-positive at step %d: %v", i, q.Mid())
		}
	}
}

func newBridge(t *testing.T) (*httptest.Server, *MT5Adapter) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["login"].(float64) != 12345 {
			writeJSON(w, map[string]any{"success": false, "error": "bad login"})
			return
		}
		writeJSON(w, map[string]any{"success": true, "connection_id": "conn-1"})
	})
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("connection_id") != "conn-1" {
			writeJSON(w, map[string]any{"success": false, "error": "unknown connection"})
			return
		}
		writeJSON(w, map[string]any{
			"success": true,
			"account": map[string]any{
				"balance": 2500.5, "equity": 2600.0, "margin": 10.0,
				"free_margin": 2490.5, "currency": "USD", "leverage": 100,
			},
		})
	})
	mux.HandleFunc("/tick", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success": true,
			"tick":    map[string]any{"bid": 1.1000, "ask": 1.1002, "time": 1700000000},
		})
	})
	mux.HandleFunc("/trades/open", serveOpenTrades)
	mux.HandleFunc("/trade/buy", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success": true,
			"order":   map[string]any{"order_id": 777, "price": 1.1002, "volume": 0.5},
		})
	})
	mux.HandleFunc("/position/close", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["ticket"] != "777" {
			writeJSON(w, map[string]any{"success": false, "error": "no such ticket"})
			return
		}
		writeJSON(w, map[string]any{"success": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := NewMT5Adapter(MT5Config{
		BaseURL:  srv.URL,
		Login:    12345,
		Password: "pw",
		Server:   "Demo",
		Paper:    true,
	})
	return srv, a
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// serveOpenTrades answers /trades/open with one EURUSD position; other
// symbols come back flat.
func serveOpenTrades(w http.ResponseWriter, r *http.Request) {
	if sym := r.URL.Query().Get("symbol"); sym != "" && sym != "EURUSD" {
		writeJSON(w, map[string]any{"success": true, "positions": []any{}})
		return
	}
	writeJSON(w, map[string]any{
		"success": true,
		"positions": []any{map[string]any{
			"ticket": 777, "symbol": "EURUSD", "type": "BUY", "volume": 0.5,
			"price_open": 1.0950, "price_current": 1.1001, "profit": 2.55,
			"sl": 0.0, "tp": 0.0, "time": 1700000000,
		}},
	})
}

func TestMT5AdapterRoundTrip(t *testing.T) {
	_, a := newBridge(t)
	ctx := context.Background()

	if err := a.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	summary, err := a.GetBalance(ctx)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if summary.Balance != 2500.5 || summary.Currency != "USD" {
		t.Fatalf("summary = %+v", summary)
	}

	q, err := a.GetQuote(ctx, "EURUSD")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.Bid != 1.1000 || q.Ask != 1.1002 {
		t.Fatalf("quote = %+v", q)
	}

	ack, err := a.PlaceOrder(ctx, OrderParams{Symbol: "EURUSD", Side: SideBuy, Volume: 0.5})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.OrderID != "777" || ack.FillPrice != 1.1002 {
		t.Fatalf("ack = %+v", ack)
	}

	if err := a.ClosePosition(ctx, "777"); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if err := a.ClosePosition(ctx, "778"); !errors.Is(err, ErrAdapter) {
		t.Fatalf("close unknown ticket err = %v, want ErrAdapter", err)
	}
}

func TestMT5QuoteFallsBackToOpenPositions(t *testing.T) {
	// A stock bridge has no /tick route; quotes must come from the
	// open-position marks instead.
	mux := http.NewServeMux()
	mux.HandleFunc("/trades/open", serveOpenTrades)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := NewMT5Adapter(MT5Config{BaseURL: srv.URL, Login: 12345, Password: "pw", Server: "Demo", Paper: true})
	ctx := context.Background()

	q, err := a.GetQuote(ctx, "EURUSD")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.Bid != 1.1001 || q.Ask != 1.1001 {
		t.Fatalf("quote = %+v, want position mark 1.1001", q)
	}

	// A flat symbol has no price source at all.
	if _, err := a.GetQuote(ctx, "GBPUSD"); !errors.Is(err, ErrAdapter) {
		t.Fatalf("flat symbol err = %v, want ErrAdapter", err)
	}
}

func TestMT5AdapterAuthFailure(t *testing.T) {
	_, a := newBridge(t)
	a.Login = 999

	err := a.Authenticate(context.Background())
	if !errors.Is(err, ErrAdapter) {
		t.Fatalf("err = %v, want ErrAdapter", err)
	}
}
