package accounting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r, svc
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAccountLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/accounts", `{"number":"1000","name":"Cash","type":"ASSET"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var acc Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	require.Equal(t, "1000", acc.Number)

	rec = doJSON(t, router, http.MethodPost, "/accounts", `{"number":"2500","name":"Bad","type":"ASSET"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var pd httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pd))
	require.Equal(t, "urn:odyssey-ledger:error:validation", pd.Type)

	rec = doJSON(t, router, http.MethodPost, "/accounts", `{"number":"1000","name":"Dup","type":"ASSET"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/accounts", `{"number":"1000"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/accounts/by-number/1000", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/accounts/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPatch, "/accounts/1", `{"name":"Cash on hand"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	require.Equal(t, "Cash on hand", acc.Name)

	rec = doJSON(t, router, http.MethodDelete, "/accounts/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	require.False(t, acc.IsActive)
}

func TestHandlerPostAndReverseJournal(t *testing.T) {
	router, svc := newTestRouter(t)
	seedChart(t, svc)

	rec := doJSON(t, router, http.MethodPost, "/journals", `{"date":"2024-03-01","description":"cash sale","lines":[
		{"account_number":"1000","debit":"250.00"},
		{"account_number":"4000","credit":250}
	]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry JournalEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, "250.00", entry.Lines[0].Debit.String())

	rec = doJSON(t, router, http.MethodPost, "/journals", `{"lines":[
		{"account_number":"1000","debit":"10"},
		{"account_number":"4000","credit":"9"}
	]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "debit 10.00 credit 9.00")

	rec = doJSON(t, router, http.MethodPost, "/journals/1/reverse", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/journals/1/reverse", `{"description":"again"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/journals/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, JournalStatusReversed, entry.Status)

	rec = doJSON(t, router, http.MethodGet, "/journals/42", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/ledger?account_id=1&from=2024-03-01&to=2024-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger struct {
		Entries []LedgerEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ledger))
	require.Len(t, ledger.Entries, 2)

	rec = doJSON(t, router, http.MethodGet, "/ledger?from=03/01/2024", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/reports/trial-balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tb struct {
		Balanced bool `json:"balanced"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tb))
	require.True(t, tb.Balanced)
}
