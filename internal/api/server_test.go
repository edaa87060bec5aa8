package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/events"
	"strategy-core/internal/ledger"
	"strategy-core/internal/stream"
)

type fakeInstance struct {
	id      string
	led     *ledger.Ledger
	streams *stream.Manager
}

func (f *fakeInstance) ID() string               { return f.id }
func (f *fakeInstance) Ledger() *ledger.Ledger   { return f.led }
func (f *fakeInstance) Streams() *stream.Manager { return f.streams }
func (f *fakeInstance) Pending() []string        { return nil }

func newTestServer(t *testing.T) (*Server, *fakeInstance, string) {
	t.Helper()
	inst := &fakeInstance{
		id:      "trend-1h",
		led:     ledger.New(time.Minute, time.Hour),
		streams: stream.NewManager(stream.Options{Strategy: "trend-1h", Bus: events.NewBus()}),
	}
	secret := "test-secret"
	s := NewServer(zap.NewNop(), events.NewBus(), []Instance{inst}, secret)

	token, err := GenerateToken("ops", secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return s, inst, token
}

func get(s *Server, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	s, _, _ := newTestServer(t)
	if w := get(s, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	s, _, token := newTestServer(t)

	if w := get(s, "/api/positions", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", w.Code)
	}
	if w := get(s, "/api/positions", "garbage"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", w.Code)
	}
	if w := get(s, "/api/positions", token); w.Code != http.StatusOK {
		t.Fatalf("valid token: status %d", w.Code)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	s, _, _ := newTestServer(t)
	expired, err := GenerateToken("ops", "test-secret", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if w := get(s, "/api/positions", expired); w.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: status %d", w.Code)
	}
}

func TestPositionsSnapshot(t *testing.T) {
	s, inst, token := newTestServer(t)
	inst.led.RecordFill("BTCUSDT", 50_000, 0.5, ledger.Long, "trend-1h")

	w := get(s, "/api/positions", token)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body map[string][]ledger.Position
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	got := body["trend-1h"]
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" || got[0].Qty != 0.5 {
		t.Fatalf("positions %+v", got)
	}
}

func TestSellJournalSnapshot(t *testing.T) {
	s, inst, token := newTestServer(t)
	inst.led.RecordSale("ETHUSDT", "trend-1h")

	w := get(s, "/api/sell-journal", token)
	var body map[string][]ledger.SellRecord
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body["trend-1h"]) != 1 || body["trend-1h"][0].Symbol != "ETHUSDT" {
		t.Fatalf("journal %+v", body)
	}
}

func TestCandlesUnknownSymbol(t *testing.T) {
	s, _, token := newTestServer(t)
	if w := get(s, "/api/candles/NOPEUSDT", token); w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
}
