package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/yourorg/tillproof/internal/auth"
	"github.com/yourorg/tillproof/internal/prover"
)

// asOwner injects an owner identity the way the real middleware does.
func asOwner(ownerID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.ContextWithOwner(r.Context(), ownerID)))
		})
	}
}

func newTestRouter(t *testing.T, p prover.Prover) (chi.Router, *Manager) {
	t.Helper()
	if p == nil {
		p = prover.NewLocalProver([]byte("test-key"), 0)
	}
	m := NewManager(testConfig(), NewInMemorySessionStore(), p, quietLogger())
	svc := NewService(m, quietLogger())

	r := chi.NewRouter()
	r.Mount("/proofs", svc.Routes(asOwner("owner-1")))
	return r, m
}

func submitBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"transactions": []map[string]any{
			{"occurredAt": "2025-02-01T00:00:00Z", "amount": 1000, "kind": "Payment", "counterparty": "c1"},
			{"occurredAt": "2025-02-02T00:00:00Z", "amount": 2000, "kind": "Payment", "counterparty": "c2"},
			{"occurredAt": "2025-02-03T00:00:00Z", "amount": 3000, "kind": "Payment", "counterparty": "c3"},
			{"occurredAt": "2025-02-04T00:00:00Z", "amount": 4000, "kind": "Payment", "counterparty": "c4"},
		},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func doJSON(t *testing.T, r http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var fields map[string]json.RawMessage
	if len(rec.Body.Bytes()) > 0 && rec.Body.Bytes()[0] == '{' {
		if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, fields
}

func fieldString(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(fields[key], &s); err != nil {
		t.Fatalf("field %q = %s: %v", key, fields[key], err)
	}
	return s
}

func TestSubmitProofEndpoint(t *testing.T) {
	r, m := newTestRouter(t, nil)

	rec, fields := doJSON(t, r, http.MethodPost, "/proofs", submitBody(t))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := fieldString(t, fields, "status"); got != string(StatusSubmitted) {
		t.Errorf("status field = %q, want submitted", got)
	}
	id, err := uuid.Parse(fieldString(t, fields, "sessionId"))
	if err != nil {
		t.Fatalf("sessionId not a UUID: %v", err)
	}
	var preview struct {
		AverageTicketSize int64 `json:"averageTicketSize"`
	}
	if err := json.Unmarshal(fields["preview"], &preview); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if preview.AverageTicketSize != 2500 {
		t.Errorf("preview averageTicketSize = %d, want 2500", preview.AverageTicketSize)
	}

	awaitTerminal(t, m, id)
	rec, fields = doJSON(t, r, http.MethodGet, fmt.Sprintf("/proofs/%s/result", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if code := fieldString(t, fields, "verificationCode"); len(code) != len(CodeTag)+codeRandomLen {
		t.Errorf("verificationCode = %q", code)
	}
}

func TestSubmitProofDateRangeFilter(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	var payload map[string]any
	if err := json.Unmarshal(submitBody(t), &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	payload["dateRange"] = map[string]string{"from": "2025-02-01", "to": "2025-02-02"}
	body, _ := json.Marshal(payload)

	rec, fields := doJSON(t, r, http.MethodPost, "/proofs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Only the first two transactions fall in range: 3000 over 2 entries.
	var preview struct {
		AverageTicketSize int64 `json:"averageTicketSize"`
	}
	if err := json.Unmarshal(fields["preview"], &preview); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if preview.AverageTicketSize != 1500 {
		t.Errorf("preview averageTicketSize = %d, want 1500 after range filter", preview.AverageTicketSize)
	}
}

func TestSubmitProofValidationError(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	body, _ := json.Marshal(map[string]any{
		"transactions": []map[string]any{
			{"occurredAt": "2025-02-01T00:00:00Z", "amount": 0, "kind": "Payment"},
		},
	})
	rec, fields := doJSON(t, r, http.MethodPost, "/proofs", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := fieldString(t, fields, "code"); got != "VALIDATION_ERROR" {
		t.Errorf("code = %q, want VALIDATION_ERROR", got)
	}
	var issues []map[string]any
	if err := json.Unmarshal(fields["issues"], &issues); err != nil || len(issues) == 0 {
		t.Errorf("issues = %s, want non-empty list (err %v)", fields["issues"], err)
	}
}

func TestSubmitProofConflict(t *testing.T) {
	slow := &stubProver{delay: 150 * time.Millisecond}
	r, _ := newTestRouter(t, slow)

	if rec, _ := doJSON(t, r, http.MethodPost, "/proofs", submitBody(t)); rec.Code != http.StatusAccepted {
		t.Fatalf("first submit status = %d", rec.Code)
	}
	rec, fields := doJSON(t, r, http.MethodPost, "/proofs", submitBody(t))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second submit status = %d, want 409", rec.Code)
	}
	if got := fieldString(t, fields, "code"); got != "ALREADY_IN_FLIGHT" {
		t.Errorf("code = %q, want ALREADY_IN_FLIGHT", got)
	}
}

func TestGetProofStatusEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	if rec, _ := doJSON(t, r, http.MethodGet, "/proofs/not-a-uuid/status", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", rec.Code)
	}
	if rec, _ := doJSON(t, r, http.MethodGet, fmt.Sprintf("/proofs/%s/status", uuid.New()), nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
}

func TestGetProofResultNotReady(t *testing.T) {
	slow := &stubProver{delay: 150 * time.Millisecond}
	r, _ := newTestRouter(t, slow)

	rec, fields := doJSON(t, r, http.MethodPost, "/proofs", submitBody(t))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d", rec.Code)
	}
	id := fieldString(t, fields, "sessionId")

	rec, fields = doJSON(t, r, http.MethodGet, "/proofs/"+id+"/result", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("result status = %d, want 409", rec.Code)
	}
	if got := fieldString(t, fields, "code"); got != "NOT_READY" {
		t.Errorf("code = %q, want NOT_READY", got)
	}
}

func TestListProofsEndpoint(t *testing.T) {
	r, m := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proofs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var empty []Session
	if err := json.Unmarshal(rec.Body.Bytes(), &empty); err != nil || len(empty) != 0 {
		t.Fatalf("empty list = %s (err %v), want []", rec.Body.String(), err)
	}

	sub, err := m.Submit(context.Background(), "owner-1", testLedger())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	awaitTerminal(t, m, sub.Session.ID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proofs", nil))
	var sessions []Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sub.Session.ID {
		t.Fatalf("list = %+v, want the one submitted session", sessions)
	}
}
