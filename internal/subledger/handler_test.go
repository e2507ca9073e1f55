package subledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(nil, f.svc).MountRoutes(r)
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerInvoiceLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/receivables", `{
		"counterparty": {"id": "C-9", "name": "Globex"},
		"issue_date": "2024-03-01",
		"terms": "NET_30",
		"lines": [{"description": "audit", "quantity": 2, "unit_price": "500", "tax_rate": "0"}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var doc Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, "1000.00", doc.Total.String())

	rec = do(t, router, http.MethodPost, "/receivables/1/issue", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/receivables/1/payments", `{"amount": 1200}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "state_conflict")

	rec = do(t, router, http.MethodPost, "/receivables/1/payments", `{"amount": "400", "method": "CASH"}`, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var paid struct {
		Document Document `json:"document"`
		Payment  Payment  `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	require.Equal(t, StatusPartial, paid.Document.Status)
	require.NotEmpty(t, paid.Payment.ID)

	rec = do(t, router, http.MethodPost, "/receivables/1/payments", `{"amount": "400", "method": "CASH"}`, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var replayed struct {
		Document Document `json:"document"`
		Payment  Payment  `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replayed))
	require.Equal(t, paid.Payment.ID, replayed.Payment.ID)
	require.Equal(t, "600.00", replayed.Document.BalanceDue.String())

	rec = do(t, router, http.MethodGet, "/receivables?status=PARTIAL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Documents []Document `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Documents, 1)

	rec = do(t, router, http.MethodPost, "/receivables/1/cancel", `{"reason": "late"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodGet, "/payables/1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerValidationAndApproval(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/payables", `{"counterparty": {"id": "V-1"}, "lines": []}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPost, "/payables", `{"counterparty": {"id": "V-1", "name": "Vendor"}, "terms": "NET_99", "lines": [{"quantity": 1, "unit_price": 5}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPost, "/payables", `{"counterparty": {"id": "V-1", "name": "Vendor"}, "approval_required": true, "issue": true, "lines": [{"quantity": 1, "unit_price": 5}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/payables/1/approve", `{"notes": "fine"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var doc Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, StatusApproved, doc.Status)
	require.Equal(t, "system", doc.Approval.ApprovedBy)

	rec = do(t, router, http.MethodPost, "/receivables/1/approve", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodDelete, "/payables/1", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodGet, "/payables/abc", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
