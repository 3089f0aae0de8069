package verify

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yourorg/tillproof/internal/proof"
)

func newTestService(st *proof.InMemorySessionStore, rec Recorder) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(NewGateway(st, rec, logger), logger)
	r := chi.NewRouter()
	r.Mount("/verify", svc.Routes())
	return r
}

func TestVerifyCodeEndpoint(t *testing.T) {
	st := proof.NewInMemorySessionStore()
	rec := NewMemoryRecorder()
	handler := newTestService(st, rec)
	completedSession(t, st, "owner-1", "TP-AB2C", time.Now().UTC().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/verify/tp-ab2c", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("User-Agent", "lender/1.0")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res.Valid || res.Bundle.CreditScore != 55 {
		t.Errorf("response = %+v", res)
	}

	records := rec.Records()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].RequesterIP != "203.0.113.9" || records[0].UserAgent != "lender/1.0" {
		t.Errorf("requester metadata = %+v", records[0])
	}
}

func TestVerifyCodeEndpointNotFound(t *testing.T) {
	st := proof.NewInMemorySessionStore()
	handler := newTestService(st, NewMemoryRecorder())

	req := httptest.NewRequest(http.MethodGet, "/verify/TP-9999", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["code"] != "NOT_FOUND" {
		t.Errorf("code = %v, want NOT_FOUND", body["code"])
	}
}
